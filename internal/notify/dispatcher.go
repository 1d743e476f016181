// Package notify fans settled orders out to mail and event consumers after
// the order has been committed. Delivery is best effort.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/safar/storefront-checkout/internal/checkout"
)

type Notifier interface {
	Name() string
	Notify(ctx context.Context, event checkout.OrderSettledEvent) error
}

type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	logger    *slog.Logger
	wg        sync.WaitGroup
}

func NewDispatcher(logger *slog.Logger, timeout time.Duration, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{
		notifiers: notifiers,
		timeout:   timeout,
		logger:    logger,
	}
}

// OrderSettled returns immediately. Each notifier runs in its own goroutine,
// detached from the request's cancellation, and failures are only logged.
func (d *Dispatcher) OrderSettled(ctx context.Context, event checkout.OrderSettledEvent) {
	ctx = context.WithoutCancel(ctx)

	for _, n := range d.notifiers {
		d.wg.Add(1)
		go func(n Notifier) {
			defer d.wg.Done()
			defer func() {
				if p := recover(); p != nil {
					d.logger.Error("notifier panicked",
						"notifier", n.Name(),
						"order_id", event.OrderID,
						"panic", fmt.Sprint(p),
					)
				}
			}()

			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			defer cancel()

			if err := n.Notify(sendCtx, event); err != nil {
				d.logger.Error("failed to send order notification",
					"error", err,
					"notifier", n.Name(),
					"order_id", event.OrderID,
				)
				return
			}
			d.logger.Info("order notification sent", "notifier", n.Name(), "order_id", event.OrderID)
		}(n)
	}
}

// Wait blocks until in-flight notifications finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
