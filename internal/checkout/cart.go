package checkout

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/safar/storefront-checkout/internal/models"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	maxLineItems    = 100
	maxLineQuantity = 10_000
	maxSpecs        = 20
	maxSpecName     = 64
	maxSpecValue    = 256
)

// Spec is a cosmetic selection such as a color. It never affects the price.
type Spec struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RawLineItem is a cart line as submitted by the client. Product id and
// quantity stay raw so that malformed values surface as validation errors
// instead of decode failures.
type RawLineItem struct {
	ProductID json.RawMessage `json:"productId"`
	Quantity  json.RawMessage `json:"quantity"`
	Shipping  string          `json:"shipping,omitempty"`
	Specs     []Spec          `json:"specs,omitempty"`
}

type CartLineItem struct {
	ProductID string
	Quantity  int
	Shipping  models.ShippingMethod
	Specs     []Spec
}

// Cart is a shape-validated cart. Shipping is the order-level method: one
// method per order, taken from the first line and FREE when it selects none.
type Cart struct {
	Items    []CartLineItem
	Shipping models.ShippingMethod
}

// ProductIDs returns the distinct product ids in line order.
func (c Cart) ProductIDs() []string {
	return lo.Uniq(lo.Map(c.Items, func(item CartLineItem, _ int) string {
		return item.ProductID
	}))
}

// NormalizeCart validates the shape of a raw cart. It performs no catalog lookups.
func NormalizeCart(raw []RawLineItem) (Cart, error) {
	if len(raw) == 0 {
		return Cart{}, validationError("cart is empty", nil)
	}
	if len(raw) > maxLineItems {
		return Cart{}, validationError(fmt.Sprintf("cart has more than %d line items", maxLineItems), nil)
	}

	items := make([]CartLineItem, 0, len(raw))
	for i, line := range raw {
		item, err := normalizeLine(i, line)
		if err != nil {
			return Cart{}, err
		}
		items = append(items, item)
	}

	shipping := items[0].Shipping
	if shipping == "" {
		shipping = models.ShippingFree
	}

	return Cart{Items: items, Shipping: shipping}, nil
}

func normalizeLine(i int, line RawLineItem) (CartLineItem, error) {
	lineErr := func(field, msg string) error {
		return validationError(fmt.Sprintf("cart item %d: %s", i, msg), map[string]any{
			"line":  i,
			"field": field,
		})
	}

	var productID string
	if err := json.Unmarshal(line.ProductID, &productID); err != nil {
		return CartLineItem{}, lineErr("productId", "product id must be a string")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return CartLineItem{}, lineErr("productId", "product id is required")
	}

	quantity, ok := parseQuantity(line.Quantity)
	if !ok {
		return CartLineItem{}, lineErr("quantity", "quantity must be a positive integer")
	}
	if quantity > maxLineQuantity {
		return CartLineItem{}, lineErr("quantity", fmt.Sprintf("quantity must not exceed %d", maxLineQuantity))
	}

	shipping := models.ShippingMethod(strings.TrimSpace(line.Shipping))
	if shipping != "" && !shipping.Valid() {
		return CartLineItem{}, lineErr("shipping", fmt.Sprintf("unsupported shipping method %q", line.Shipping))
	}

	if len(line.Specs) > maxSpecs {
		return CartLineItem{}, lineErr("specs", fmt.Sprintf("at most %d specs are allowed", maxSpecs))
	}
	specs := make([]Spec, 0, len(line.Specs))
	for _, s := range line.Specs {
		name := strings.TrimSpace(s.Name)
		if name == "" || len(name) > maxSpecName {
			return CartLineItem{}, lineErr("specs", "spec name must be between 1 and 64 characters")
		}
		if len(s.Value) > maxSpecValue {
			return CartLineItem{}, lineErr("specs", "spec value must not exceed 256 characters")
		}
		specs = append(specs, Spec{Name: name, Value: s.Value})
	}

	return CartLineItem{
		ProductID: productID,
		Quantity:  quantity,
		Shipping:  shipping,
		Specs:     specs,
	}, nil
}

// parseQuantity accepts only a bare JSON integer literal greater than zero.
func parseQuantity(raw json.RawMessage) (int, bool) {
	tok := bytes.TrimSpace(raw)
	if len(tok) == 0 {
		return 0, false
	}
	for _, c := range tok {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(string(tok))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// ParseDeclaredTotal parses the total the client displayed. Empty means none.
func ParseDeclaredTotal(s string) (*decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, validationError("cartTotal must be a decimal amount", map[string]any{"field": "cartTotal"})
	}
	return &d, nil
}
