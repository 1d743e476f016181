package checkout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/safar/storefront-checkout/internal/lock"
	"github.com/safar/storefront-checkout/internal/models"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/metric"
)

// Gateway is the two-phase payment provider.
type Gateway interface {
	CreateRemoteOrder(ctx context.Context, amount decimal.Decimal) (string, error)
	CaptureRemoteOrder(ctx context.Context, providerOrderID string) (*CaptureResult, error)
}

type CaptureResult struct {
	ProviderOrderID string
	Status          string
	Amount          decimal.Decimal
	Currency        string
}

type IdentityPrechecker interface {
	Precheck(ctx context.Context, identity PurchaserIdentity) error
}

type OrderSettler interface {
	ExistingOrder(ctx context.Context, providerOrderID string) (uuid.UUID, bool, error)
	Settle(ctx context.Context, req SettlementRequest) (*SettlementResult, error)
}

// CaptureGuard serializes captures of the same provider order.
type CaptureGuard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// SettlementNotifier is told about every newly settled order. It must not block.
type SettlementNotifier interface {
	OrderSettled(ctx context.Context, event OrderSettledEvent)
}

type OrderSettledEvent struct {
	OrderID         uuid.UUID             `json:"orderId"`
	ProviderOrderID string                `json:"providerOrderId"`
	UserID          uuid.UUID             `json:"userId"`
	CustomerName    string                `json:"customerName"`
	CustomerEmail   string                `json:"customerEmail"`
	Guest           bool                  `json:"guest"`
	Total           decimal.Decimal       `json:"total"`
	ShippingMethod  models.ShippingMethod `json:"shippingMethod"`
	ShippingCost    decimal.Decimal       `json:"shippingCost"`
	Items           []SettledItem         `json:"items"`
	SettledAt       time.Time             `json:"settledAt"`
}

type SettledItem struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type ServiceConfig struct {
	GatewayTimeout time.Duration
	DBTimeout      time.Duration
}

type Dependencies struct {
	Engine   *Engine
	Gateway  Gateway
	Identity IdentityPrechecker
	Settler  OrderSettler
	Guard    CaptureGuard
	Notifier SettlementNotifier
}

type Service struct {
	engine   *Engine
	gateway  Gateway
	identity IdentityPrechecker
	settler  OrderSettler
	guard    CaptureGuard
	notifier SettlementNotifier
	cfg      ServiceConfig
	logger   *slog.Logger
	metrics  *metrics
}

func NewService(cfg ServiceConfig, deps Dependencies, logger *slog.Logger) (*Service, error) {
	m, err := newMetrics()
	if err != nil {
		return nil, err
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 15 * time.Second
	}
	if cfg.DBTimeout <= 0 {
		cfg.DBTimeout = 5 * time.Second
	}

	return &Service{
		engine:   deps.Engine,
		gateway:  deps.Gateway,
		identity: deps.Identity,
		settler:  deps.Settler,
		guard:    deps.Guard,
		notifier: deps.Notifier,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}, nil
}

type IntentRequest struct {
	Items     []RawLineItem
	CartTotal string
}

// CreateIntent prices the cart, checks it against the client's total and
// opens a remote payment order for exactly the trusted amount.
func (s *Service) CreateIntent(ctx context.Context, req IntentRequest) (providerOrderID string, err error) {
	defer func() {
		s.metrics.intents.Add(ctx, 1, metric.WithAttributes(outcome(err)))
	}()

	cart, err := NormalizeCart(req.Items)
	if err != nil {
		return "", err
	}
	declared, err := ParseDeclaredTotal(req.CartTotal)
	if err != nil {
		return "", err
	}

	pricing, err := s.checkpoint(ctx, cart, declared)
	if err != nil {
		return "", err
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	providerOrderID, err = s.gateway.CreateRemoteOrder(gwCtx, pricing.Total())
	s.metrics.recordGateway(ctx, "create", start, err)
	if err != nil {
		s.logger.Error("create remote order failed", "error", err, "amount", pricing.Total().StringFixed(2))
		return "", err
	}

	s.logger.Info("checkout intent created",
		"provider_order_id", providerOrderID,
		"amount", pricing.Total().StringFixed(2),
		"shipping_method", pricing.ShippingMethod(),
	)
	return providerOrderID, nil
}

type CaptureRequest struct {
	ProviderOrderID   string
	Items             []RawLineItem
	SessionUserID     *uuid.UUID
	ShippingAddressID string
	Guest             *GuestProfile
	CartTotal         string
}

// Capture captures the remote payment, re-prices the cart against the captured
// amount and settles the order. A provider order that was already settled
// returns its order id without calling the gateway again.
func (s *Service) Capture(ctx context.Context, req CaptureRequest) (orderID uuid.UUID, err error) {
	defer func() {
		s.metrics.captures.Add(ctx, 1, metric.WithAttributes(outcome(err)))
	}()

	if req.ProviderOrderID == "" {
		return uuid.Nil, validationError("providerOrderId is required", map[string]any{"field": "providerOrderId"})
	}
	cart, err := NormalizeCart(req.Items)
	if err != nil {
		return uuid.Nil, err
	}
	declared, err := ParseDeclaredTotal(req.CartTotal)
	if err != nil {
		return uuid.Nil, err
	}
	identity, err := NewPurchaserIdentity(req.SessionUserID, req.ShippingAddressID, req.Guest)
	if err != nil {
		return uuid.Nil, err
	}

	if err := s.withDBTimeout(ctx, func(ctx context.Context) error {
		return s.identity.Precheck(ctx, identity)
	}); err != nil {
		return uuid.Nil, err
	}

	existing, found, err := s.existingOrder(ctx, req.ProviderOrderID)
	if err != nil {
		return uuid.Nil, err
	}
	if found {
		s.logger.Info("capture replayed for settled order",
			"provider_order_id", req.ProviderOrderID, "order_id", existing)
		return existing, nil
	}

	release, err := s.acquire(ctx, req.ProviderOrderID)
	if err != nil {
		return uuid.Nil, err
	}
	defer release()

	// A capture that held the guard before us may have settled in the meantime.
	existing, found, err = s.existingOrder(ctx, req.ProviderOrderID)
	if err != nil {
		return uuid.Nil, err
	}
	if found {
		s.logger.Info("capture replayed for settled order",
			"provider_order_id", req.ProviderOrderID, "order_id", existing)
		return existing, nil
	}

	if declared != nil {
		if _, err := s.checkpoint(ctx, cart, declared); err != nil {
			return uuid.Nil, err
		}
	}

	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	captured, err := s.gateway.CaptureRemoteOrder(gwCtx, req.ProviderOrderID)
	s.metrics.recordGateway(ctx, "capture", start, err)
	if err != nil {
		s.logger.Error("capture remote order failed", "error", err, "provider_order_id", req.ProviderOrderID)
		return uuid.Nil, err
	}

	// The money has moved. Settle even if the caller has gone away.
	settleCtx := context.WithoutCancel(ctx)

	var pricing *TrustedPricing
	err = s.withDBTimeout(settleCtx, func(ctx context.Context) error {
		var verr error
		pricing, verr = s.engine.VerifyCaptured(ctx, cart, captured.Amount)
		return verr
	})
	if err != nil {
		s.logger.Error("captured payment refused settlement",
			"error", err,
			"provider_order_id", req.ProviderOrderID,
			"captured_amount", captured.Amount.StringFixed(2),
		)
		s.metrics.orphaned.Add(settleCtx, 1)
		return uuid.Nil, err
	}

	var result *SettlementResult
	err = s.withDBTimeout(settleCtx, func(ctx context.Context) error {
		var serr error
		result, serr = s.settler.Settle(ctx, SettlementRequest{
			ProviderOrderID: req.ProviderOrderID,
			Pricing:         pricing,
			Identity:        identity,
		})
		return serr
	})
	if err != nil {
		s.logger.Error("captured payment without order",
			"error", err,
			"provider_order_id", req.ProviderOrderID,
			"captured_amount", captured.Amount.StringFixed(2),
		)
		s.metrics.orphaned.Add(settleCtx, 1)
		return uuid.Nil, err
	}

	if result.Existing {
		return result.OrderID, nil
	}

	s.logger.Info("order settled",
		"order_id", result.OrderID,
		"provider_order_id", req.ProviderOrderID,
		"total", pricing.Total().StringFixed(2),
		"guest", result.Identity.IsGuest,
	)

	if s.notifier != nil {
		s.notifier.OrderSettled(settleCtx, settledEvent(req.ProviderOrderID, pricing, result))
	}

	return result.OrderID, nil
}

func (s *Service) checkpoint(ctx context.Context, cart Cart, declared *decimal.Decimal) (*TrustedPricing, error) {
	var pricing *TrustedPricing
	err := s.withDBTimeout(ctx, func(ctx context.Context) error {
		var err error
		pricing, err = s.engine.Checkpoint(ctx, cart, declared)
		return err
	})
	return pricing, err
}

func (s *Service) existingOrder(ctx context.Context, providerOrderID string) (uuid.UUID, bool, error) {
	var (
		id    uuid.UUID
		found bool
	)
	err := s.withDBTimeout(ctx, func(ctx context.Context) error {
		var err error
		id, found, err = s.settler.ExistingOrder(ctx, providerOrderID)
		return err
	})
	return id, found, err
}

func (s *Service) acquire(ctx context.Context, providerOrderID string) (func(), error) {
	if s.guard == nil {
		return func() {}, nil
	}
	release, err := s.guard.Acquire(ctx, "capture:"+providerOrderID)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			return nil, newError(ErrCaptureInProgress, "payment capture already in progress", map[string]any{
				"providerOrderId": providerOrderID,
			})
		}
		// The unique transaction id still prevents duplicate orders.
		s.logger.Warn("capture guard unavailable", "error", err, "provider_order_id", providerOrderID)
		return func() {}, nil
	}
	return release, nil
}

func (s *Service) withDBTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.DBTimeout)
	defer cancel()
	return fn(ctx)
}

func settledEvent(providerOrderID string, pricing *TrustedPricing, result *SettlementResult) OrderSettledEvent {
	lines := pricing.Lines()
	items := make([]SettledItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, SettledItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	return OrderSettledEvent{
		OrderID:         result.OrderID,
		ProviderOrderID: providerOrderID,
		UserID:          result.Identity.UserID,
		CustomerName:    result.Identity.ContactName,
		CustomerEmail:   result.Identity.ContactEmail,
		Guest:           result.Identity.IsGuest,
		Total:           pricing.Total(),
		ShippingMethod:  pricing.ShippingMethod(),
		ShippingCost:    pricing.ShippingCostTotal(),
		Items:           items,
		SettledAt:       time.Now().UTC(),
	}
}
