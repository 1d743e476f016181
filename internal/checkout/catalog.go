package checkout

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/safar/storefront-checkout/internal/models"
	"github.com/safar/storefront-checkout/internal/store"
)

// CatalogOracle answers pricing lookups from the catalog tables.
type CatalogOracle struct {
	db *sql.DB
}

func NewCatalogOracle(db *sql.DB) *CatalogOracle {
	return &CatalogOracle{db: db}
}

func (o *CatalogOracle) LookupPricing(ctx context.Context, productIDs []string, method models.ShippingMethod) (map[string]CatalogEntry, error) {
	ids := make([]uuid.UUID, 0, len(productIDs))
	for _, raw := range productIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, unknownProductError(raw)
		}
		ids = append(ids, id)
	}

	rows, err := store.LoadCatalogPricing(ctx, o.db, ids, method)
	if err != nil {
		return nil, fmt.Errorf("lookup pricing: %w", err)
	}

	out := make(map[string]CatalogEntry, len(productIDs))
	for i, raw := range productIDs {
		row, ok := rows[ids[i]]
		if !ok {
			return nil, unknownProductError(raw)
		}
		entry := CatalogEntry{UnitPrice: row.Product.Price}
		if row.Shipping != nil {
			entry.Shipping = &ShippingQuote{
				CostPerUnit: row.Shipping.Cost,
				MinDays:     row.Shipping.MinDays,
				MaxDays:     row.Shipping.MaxDays,
			}
		}
		out[raw] = entry
	}

	return out, nil
}
