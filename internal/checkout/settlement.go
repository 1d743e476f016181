package checkout

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/safar/storefront-checkout/internal/database"
	"github.com/safar/storefront-checkout/internal/models"
	"github.com/safar/storefront-checkout/internal/store"
)

type SettlementRequest struct {
	ProviderOrderID string
	Pricing         *TrustedPricing
	Identity        PurchaserIdentity
}

type SettlementResult struct {
	OrderID  uuid.UUID
	Identity ResolvedIdentity
	// Existing is set when the provider order had already been settled.
	Existing bool
}

type Settler struct {
	db       *sql.DB
	identity *IdentityResolver
}

func NewSettler(db *sql.DB, identity *IdentityResolver) *Settler {
	return &Settler{db: db, identity: identity}
}

// ExistingOrder returns the order already settled for a provider order id.
func (s *Settler) ExistingOrder(ctx context.Context, providerOrderID string) (uuid.UUID, bool, error) {
	id, err := store.GetOrderIDByTransactionID(ctx, s.db, providerOrderID)
	if err != nil {
		if errors.Is(err, database.ErrOrderNotFound) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, persistenceError("failed to look up order", err)
	}
	return id, true, nil
}

// Settle resolves the purchaser and writes the order with its items in one
// transaction. Settling a provider order id twice returns the first order.
func (s *Settler) Settle(ctx context.Context, req SettlementRequest) (*SettlementResult, error) {
	if req.Pricing.empty() {
		return nil, validationError("no items in order", nil)
	}
	if req.ProviderOrderID == "" {
		return nil, validationError("providerOrderId is required", map[string]any{"field": "providerOrderId"})
	}

	var result *SettlementResult
	err := database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		existing, err := store.GetOrderIDByTransactionID(ctx, tx, req.ProviderOrderID)
		switch {
		case err == nil:
			result = &SettlementResult{OrderID: existing, Existing: true}
			return nil
		case !errors.Is(err, database.ErrOrderNotFound):
			return err
		}

		resolved, err := s.identity.Resolve(ctx, tx, req.Identity)
		if err != nil {
			return err
		}

		order, err := buildOrder(req, resolved)
		if err != nil {
			return err
		}
		if err := store.InsertOrder(ctx, tx, order); err != nil {
			return err
		}

		result = &SettlementResult{OrderID: order.ID, Identity: resolved}
		return nil
	})
	if err == nil {
		return result, nil
	}

	if errors.Is(err, database.ErrDuplicateTransaction) {
		id, lookupErr := store.GetOrderIDByTransactionID(ctx, s.db, req.ProviderOrderID)
		if lookupErr != nil {
			return nil, persistenceError("failed to load settled order", lookupErr)
		}
		return &SettlementResult{OrderID: id, Existing: true}, nil
	}

	var rejection *Error
	if errors.As(err, &rejection) {
		return nil, rejection
	}
	return nil, persistenceError("failed to save order", err)
}

func buildOrder(req SettlementRequest, identity ResolvedIdentity) (*models.Order, error) {
	minDays, maxDays := req.Pricing.DeliveryWindow()
	order := &models.Order{
		ID:                uuid.New(),
		UserID:            identity.UserID,
		ShippingAddressID: identity.AddressID,
		TransactionID:     req.ProviderOrderID,
		Status:            models.OrderStatusPending,
		PaymentStatus:     models.PaymentStatusPaid,
		TotalAmount:       req.Pricing.Total(),
		ShippingMethod:    req.Pricing.ShippingMethod(),
		ShippingCost:      req.Pricing.ShippingCostTotal(),
		MinDeliveryDays:   minDays,
		MaxDeliveryDays:   maxDays,
	}

	for _, line := range req.Pricing.Lines() {
		productID, err := uuid.Parse(line.ProductID)
		if err != nil {
			return nil, unknownProductError(line.ProductID)
		}
		order.Items = append(order.Items, models.OrderItem{
			ID:        uuid.New(),
			ProductID: productID,
			Quantity:  line.Quantity,
			Price:     line.UnitPrice,
		})
	}

	return order, nil
}
