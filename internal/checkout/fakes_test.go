package checkout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/safar/storefront-checkout/internal/models"
	"github.com/shopspring/decimal"
)

type fakeProduct struct {
	price    decimal.Decimal
	shipping map[models.ShippingMethod]ShippingQuote
}

type fakeOracle struct {
	mu       sync.Mutex
	products map[string]fakeProduct
	calls    int
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{products: map[string]fakeProduct{}}
}

func (o *fakeOracle) add(id, price string, shipping map[models.ShippingMethod]ShippingQuote) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.products[id] = fakeProduct{price: decimal.RequireFromString(price), shipping: shipping}
}

func (o *fakeOracle) setPrice(id, price string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p := o.products[id]
	p.price = decimal.RequireFromString(price)
	o.products[id] = p
}

func (o *fakeOracle) LookupPricing(ctx context.Context, ids []string, method models.ShippingMethod) (map[string]CatalogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++

	out := make(map[string]CatalogEntry, len(ids))
	for _, id := range ids {
		p, ok := o.products[id]
		if !ok {
			return nil, unknownProductError(id)
		}
		entry := CatalogEntry{UnitPrice: p.price}
		if q, ok := p.shipping[method]; ok {
			q := q
			entry.Shipping = &q
		}
		out[id] = entry
	}
	return out, nil
}

type fakeGateway struct {
	mu            sync.Mutex
	createID      string
	createErr     error
	captureAmount string
	captureErr    error
	created       []decimal.Decimal
	captured      []string
	onCapture     func()
}

func (g *fakeGateway) CreateRemoteOrder(_ context.Context, amount decimal.Decimal) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created = append(g.created, amount)
	return g.createID, g.createErr
}

func (g *fakeGateway) CaptureRemoteOrder(_ context.Context, id string) (*CaptureResult, error) {
	g.mu.Lock()
	g.captured = append(g.captured, id)
	hook := g.onCapture
	g.mu.Unlock()

	if hook != nil {
		hook()
	}
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	return &CaptureResult{
		ProviderOrderID: id,
		Status:          "COMPLETED",
		Amount:          decimal.RequireFromString(g.captureAmount),
		Currency:        "USD",
	}, nil
}

type fakePrechecker struct {
	err   error
	calls int
}

func (p *fakePrechecker) Precheck(context.Context, PurchaserIdentity) error {
	p.calls++
	return p.err
}

type fakeSettler struct {
	existing  map[string]uuid.UUID
	settleErr error
	requests  []SettlementRequest
	identity  ResolvedIdentity
}

func newFakeSettler() *fakeSettler {
	return &fakeSettler{existing: map[string]uuid.UUID{}}
}

func (s *fakeSettler) ExistingOrder(_ context.Context, providerOrderID string) (uuid.UUID, bool, error) {
	id, ok := s.existing[providerOrderID]
	return id, ok, nil
}

func (s *fakeSettler) Settle(ctx context.Context, req SettlementRequest) (*SettlementResult, error) {
	s.requests = append(s.requests, req)
	if err := ctx.Err(); err != nil {
		return nil, persistenceError("failed to save order", err)
	}
	if s.settleErr != nil {
		return nil, s.settleErr
	}
	if id, ok := s.existing[req.ProviderOrderID]; ok {
		return &SettlementResult{OrderID: id, Existing: true}, nil
	}
	id := uuid.New()
	s.existing[req.ProviderOrderID] = id
	return &SettlementResult{OrderID: id, Identity: s.identity}, nil
}

type fakeGuard struct {
	err       error
	held      map[string]bool
	released  []string
	onAcquire func()
}

func (g *fakeGuard) Acquire(_ context.Context, key string) (func(), error) {
	if g.err != nil {
		return nil, g.err
	}
	if g.onAcquire != nil {
		g.onAcquire()
	}
	if g.held == nil {
		g.held = map[string]bool{}
	}
	g.held[key] = true
	return func() {
		delete(g.held, key)
		g.released = append(g.released, key)
	}, nil
}

type fakeNotifier struct {
	events []OrderSettledEvent
}

func (n *fakeNotifier) OrderSettled(_ context.Context, event OrderSettledEvent) {
	n.events = append(n.events, event)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var errBoom = errors.New("boom")
