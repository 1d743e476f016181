package checkout

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/safar/storefront-checkout/internal/checkout"

type metrics struct {
	intents         metric.Int64Counter
	captures        metric.Int64Counter
	orphaned        metric.Int64Counter
	gatewayDuration metric.Float64Histogram
}

func newMetrics() (*metrics, error) {
	meter := otel.Meter(instrumentationName)

	intents, err := meter.Int64Counter("checkout_intents_total",
		metric.WithDescription("Checkout intents by outcome"))
	if err != nil {
		return nil, err
	}
	captures, err := meter.Int64Counter("checkout_captures_total",
		metric.WithDescription("Checkout captures by outcome"))
	if err != nil {
		return nil, err
	}
	orphaned, err := meter.Int64Counter("checkout_orphaned_captures_total",
		metric.WithDescription("Payments captured at the gateway without a local order"))
	if err != nil {
		return nil, err
	}
	gatewayDuration, err := meter.Float64Histogram("checkout_gateway_call_duration_seconds",
		metric.WithDescription("Payment gateway call latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return &metrics{
		intents:         intents,
		captures:        captures,
		orphaned:        orphaned,
		gatewayDuration: gatewayDuration,
	}, nil
}

func (m *metrics) recordGateway(ctx context.Context, op string, start time.Time, err error) {
	m.gatewayDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
		attribute.String("operation", op),
		attribute.Bool("error", err != nil),
	))
}

func outcome(err error) attribute.KeyValue {
	kinds := []struct {
		kind error
		name string
	}{
		{ErrValidation, "validation"},
		{ErrUnknownProduct, "unknown_product"},
		{ErrPricingMismatch, "pricing_mismatch"},
		{ErrAmountTooLow, "amount_too_low"},
		{ErrGateway, "gateway"},
		{ErrCaptureMismatch, "capture_mismatch"},
		{ErrIncompleteGuestAddress, "incomplete_guest_address"},
		{ErrAddressOwnership, "address_ownership"},
		{ErrCaptureInProgress, "capture_in_progress"},
		{ErrPersistence, "persistence"},
	}

	if err == nil {
		return attribute.String("outcome", "ok")
	}
	for _, k := range kinds {
		if errors.Is(err, k.kind) {
			return attribute.String("outcome", k.name)
		}
	}
	return attribute.String("outcome", "error")
}
