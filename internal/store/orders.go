package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/safar/storefront-checkout/internal/database"
	"github.com/safar/storefront-checkout/internal/models"
)

// TransactionIDConstraint guards against settling one provider order twice.
const TransactionIDConstraint = "orders_transaction_id_key"

// InsertOrder writes an order and all of its items. It must run inside a
// transaction; the schema rejects the commit of an order without items.
func InsertOrder(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	if len(order.Items) == 0 {
		return database.ErrEmptyOrder
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}

	err := tx.QueryRowContext(ctx,
		`INSERT INTO orders (
			id, user_id, shipping_address_id, transaction_id, status, payment_status,
			total_amount, shipping_method, shipping_cost, min_delivery_days, max_delivery_days,
			created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW(), NOW())
		 RETURNING created_at, updated_at`,
		order.ID,
		order.UserID,
		order.ShippingAddressID,
		order.TransactionID,
		order.Status,
		order.PaymentStatus,
		order.TotalAmount,
		order.ShippingMethod,
		order.ShippingCost,
		nullInt(order.MinDeliveryDays),
		nullInt(order.MaxDeliveryDays),
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, TransactionIDConstraint) {
			return fmt.Errorf("create order: %w", database.ErrDuplicateTransaction)
		}
		return fmt.Errorf("create order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.OrderID = order.ID

		err := tx.QueryRowContext(ctx,
			`INSERT INTO order_items (id, order_id, position, product_id, quantity, price, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, NOW())
			 RETURNING created_at`,
			item.ID, item.OrderID, i, item.ProductID, item.Quantity, item.Price,
		).Scan(&item.CreatedAt)
		if err != nil {
			return fmt.Errorf("create order item: %w", err)
		}
	}

	return nil
}

func GetOrderIDByTransactionID(ctx context.Context, q Querier, transactionID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.QueryRowContext(ctx,
		`SELECT id FROM orders WHERE transaction_id = $1`,
		transactionID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, database.ErrOrderNotFound
		}
		return uuid.Nil, fmt.Errorf("get order by transaction: %w", err)
	}
	return id, nil
}

func GetOrder(ctx context.Context, q Querier, id uuid.UUID) (*models.Order, error) {
	order := &models.Order{}
	var minDays, maxDays sql.NullInt32

	query := `
		SELECT id, user_id, shipping_address_id, transaction_id, status, payment_status,
		       total_amount, shipping_method, shipping_cost, min_delivery_days, max_delivery_days,
		       created_at, updated_at
		FROM orders
		WHERE id = $1`

	err := q.QueryRowContext(ctx, query, id).Scan(
		&order.ID,
		&order.UserID,
		&order.ShippingAddressID,
		&order.TransactionID,
		&order.Status,
		&order.PaymentStatus,
		&order.TotalAmount,
		&order.ShippingMethod,
		&order.ShippingCost,
		&minDays,
		&maxDays,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	order.MinDeliveryDays = intPtr(minDays)
	order.MaxDeliveryDays = intPtr(maxDays)

	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, product_id, quantity, price, created_at
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.Price,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return order, nil
}

// CountOrders returns the number of orders settled for a transaction id.
func CountOrders(ctx context.Context, q Querier, transactionID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE transaction_id = $1`, transactionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}
