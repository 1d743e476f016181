package checkout

import (
	"context"
	"fmt"

	"github.com/safar/storefront-checkout/internal/models"
	"github.com/shopspring/decimal"
)

var (
	// MinimumCharge is the smallest amount the payment gateway accepts.
	MinimumCharge = decimal.New(1, -2)
	// MaximumCharge is the largest total orders.total_amount NUMERIC(12,2) can hold.
	MaximumCharge = decimal.RequireFromString("9999999999.99")
	// Tolerance absorbs display rounding between a client total and the trusted total.
	Tolerance = decimal.New(1, -2)
)

type ShippingQuote struct {
	CostPerUnit decimal.Decimal
	MinDays     *int
	MaxDays     *int
}

// CatalogEntry is the authoritative pricing of one product. Shipping is nil
// when the product offers no option for the requested method.
type CatalogEntry struct {
	UnitPrice decimal.Decimal
	Shipping  *ShippingQuote
}

// PricingOracle reads current catalog prices. Implementations must fail with
// ErrUnknownProduct when an id does not resolve and must not write anything.
type PricingOracle interface {
	LookupPricing(ctx context.Context, productIDs []string, method models.ShippingMethod) (map[string]CatalogEntry, error)
}

type PricedLine struct {
	ProductID       string
	Quantity        int
	UnitPrice       decimal.Decimal
	ShippingPerUnit decimal.Decimal
}

// TrustedPricing is the server-side price of a cart. It can only be produced
// by Engine from catalog data.
type TrustedPricing struct {
	lines         []PricedLine
	method        models.ShippingMethod
	shippingTotal decimal.Decimal
	minDays       *int
	maxDays       *int
	total         decimal.Decimal
}

func (p *TrustedPricing) Lines() []PricedLine {
	out := make([]PricedLine, len(p.lines))
	copy(out, p.lines)
	return out
}

func (p *TrustedPricing) ShippingMethod() models.ShippingMethod { return p.method }
func (p *TrustedPricing) ShippingCostTotal() decimal.Decimal    { return p.shippingTotal }
func (p *TrustedPricing) Total() decimal.Decimal                { return p.total }

func (p *TrustedPricing) DeliveryWindow() (minDays, maxDays *int) {
	return p.minDays, p.maxDays
}

func (p *TrustedPricing) empty() bool {
	return p == nil || len(p.lines) == 0
}

type Engine struct {
	oracle PricingOracle
}

func NewEngine(oracle PricingOracle) *Engine {
	return &Engine{oracle: oracle}
}

// Reconcile prices the cart from a fresh catalog read. Shipping is priced per
// unit on every line with the cart's order-level method, and the delivery
// window comes from the first line's product.
func (e *Engine) Reconcile(ctx context.Context, cart Cart) (*TrustedPricing, error) {
	if len(cart.Items) == 0 {
		return nil, validationError("cart is empty", nil)
	}
	method := cart.Shipping
	if method == "" {
		method = models.ShippingFree
	}

	entries, err := e.oracle.LookupPricing(ctx, cart.ProductIDs(), method)
	if err != nil {
		return nil, err
	}

	pricing := &TrustedPricing{
		lines:  make([]PricedLine, 0, len(cart.Items)),
		method: method,
	}

	var total, shippingTotal decimal.Decimal
	for i, item := range cart.Items {
		entry, ok := entries[item.ProductID]
		if !ok {
			return nil, unknownProductError(item.ProductID)
		}

		perUnit := decimal.Zero
		switch {
		case entry.Shipping != nil:
			perUnit = entry.Shipping.CostPerUnit
		case method != models.ShippingFree:
			return nil, validationError(
				fmt.Sprintf("shipping method %s is not available for product %s", method, item.ProductID),
				map[string]any{"productId": item.ProductID, "shipping": string(method)},
			)
		}

		if i == 0 && entry.Shipping != nil {
			pricing.minDays = entry.Shipping.MinDays
			pricing.maxDays = entry.Shipping.MaxDays
		}

		qty := decimal.NewFromInt(int64(item.Quantity))
		total = total.Add(entry.UnitPrice.Add(perUnit).Mul(qty))
		shippingTotal = shippingTotal.Add(perUnit.Mul(qty))

		pricing.lines = append(pricing.lines, PricedLine{
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			UnitPrice:       entry.UnitPrice,
			ShippingPerUnit: perUnit,
		})
	}

	pricing.total = round2(total)
	pricing.shippingTotal = round2(shippingTotal)

	return pricing, nil
}

// Checkpoint reconciles the cart and compares it with the total the client
// displayed, when one was sent.
func (e *Engine) Checkpoint(ctx context.Context, cart Cart, declared *decimal.Decimal) (*TrustedPricing, error) {
	pricing, err := e.Reconcile(ctx, cart)
	if err != nil {
		return nil, err
	}

	if declared != nil && !withinTolerance(*declared, pricing.total) {
		return nil, newError(ErrPricingMismatch, "cart total does not match current prices", map[string]any{
			"declaredTotal": declared.StringFixed(2),
			"trustedTotal":  pricing.total.StringFixed(2),
		})
	}

	if pricing.total.LessThan(MinimumCharge) {
		return nil, newError(ErrAmountTooLow, "order total is below the minimum charge", map[string]any{
			"trustedTotal": pricing.total.StringFixed(2),
			"minimum":      MinimumCharge.StringFixed(2),
		})
	}
	if pricing.total.GreaterThan(MaximumCharge) {
		return nil, validationError("order total exceeds the maximum charge", map[string]any{
			"trustedTotal": pricing.total.StringFixed(2),
			"maximum":      MaximumCharge.StringFixed(2),
		})
	}

	return pricing, nil
}

// VerifyCaptured reconciles the cart again and requires the captured amount to
// match it. The captured amount is authoritative over any earlier computation.
func (e *Engine) VerifyCaptured(ctx context.Context, cart Cart, captured decimal.Decimal) (*TrustedPricing, error) {
	pricing, err := e.Reconcile(ctx, cart)
	if err != nil {
		return nil, err
	}

	if !withinTolerance(captured, pricing.total) {
		return nil, newError(ErrCaptureMismatch, "captured amount does not match order total", map[string]any{
			"capturedAmount": captured.StringFixed(2),
			"trustedTotal":   pricing.total.StringFixed(2),
		})
	}

	return pricing, nil
}

func unknownProductError(id string) *Error {
	return newError(ErrUnknownProduct, fmt.Sprintf("unknown product %s", id), map[string]any{"productId": id})
}

func withinTolerance(a, b decimal.Decimal) bool {
	return !a.Sub(b).Abs().GreaterThan(Tolerance)
}

// round2 rounds half to even at cent precision.
func round2(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(2)
}
