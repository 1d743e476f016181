package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/safar/storefront-checkout/internal/database"
	"github.com/safar/storefront-checkout/internal/models"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// CatalogRow is a product joined with its shipping option for one method.
// Shipping is nil when the product has no option for that method.
type CatalogRow struct {
	Product  models.Product
	Shipping *models.ShippingOption
}

// CreateProduct inserts a catalog product. The catalog is owned by an external
// admin service; this exists for seeding and tests.
func CreateProduct(ctx context.Context, q Querier, product *models.Product) error {
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}

	query := `
		INSERT INTO products (id, name, price, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING created_at, updated_at`

	err := q.QueryRowContext(ctx, query, product.ID, product.Name, product.Price).
		Scan(&product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create product: %w", err)
	}

	return nil
}

func UpdateProductPrice(ctx context.Context, q Querier, id uuid.UUID, price decimal.Decimal) error {
	result, err := q.ExecContext(ctx,
		`UPDATE products SET price = $1, updated_at = NOW() WHERE id = $2`,
		price, id)
	if err != nil {
		return fmt.Errorf("update product price: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}

	return nil
}

func UpsertShippingOption(ctx context.Context, q Querier, opt models.ShippingOption) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO product_shipping_options (product_id, method, cost, min_days, max_days)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (product_id, method)
		 DO UPDATE SET cost = EXCLUDED.cost, min_days = EXCLUDED.min_days, max_days = EXCLUDED.max_days`,
		opt.ProductID, opt.Method, opt.Cost, nullInt(opt.MinDays), nullInt(opt.MaxDays))
	if err != nil {
		return fmt.Errorf("upsert shipping option: %w", err)
	}
	return nil
}

// LoadCatalogPricing reads current prices for a set of products together with
// their shipping option for method. Ids with no product are absent from the map.
func LoadCatalogPricing(ctx context.Context, q Querier, ids []uuid.UUID, method models.ShippingMethod) (map[uuid.UUID]CatalogRow, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]CatalogRow{}, nil
	}

	query := `
		SELECT p.id, p.name, p.price, p.created_at, p.updated_at,
		       so.cost, so.min_days, so.max_days
		FROM products p
		LEFT JOIN product_shipping_options so
		       ON so.product_id = p.id AND so.method = $2
		WHERE p.id = ANY($1::uuid[])`

	rows, err := q.QueryContext(ctx, query, pq.Array(lo.Map(ids, func(id uuid.UUID, _ int) string {
		return id.String()
	})), method)
	if err != nil {
		return nil, fmt.Errorf("load catalog pricing: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]CatalogRow, len(ids))
	for rows.Next() {
		var (
			row              CatalogRow
			cost             decimal.NullDecimal
			minDays, maxDays sql.NullInt32
		)
		err := rows.Scan(
			&row.Product.ID,
			&row.Product.Name,
			&row.Product.Price,
			&row.Product.CreatedAt,
			&row.Product.UpdatedAt,
			&cost,
			&minDays,
			&maxDays,
		)
		if err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}
		if cost.Valid {
			row.Shipping = &models.ShippingOption{
				ProductID: row.Product.ID,
				Method:    method,
				Cost:      cost.Decimal,
				MinDays:   intPtr(minDays),
				MaxDays:   intPtr(maxDays),
			}
		}
		out[row.Product.ID] = row
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return out, nil
}

func nullInt(v *int) sql.NullInt32 {
	if v == nil {
		return sql.NullInt32{}
	}
	return sql.NullInt32{Int32: int32(*v), Valid: true}
}

func intPtr(v sql.NullInt32) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int32)
	return &n
}
