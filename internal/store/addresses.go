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

const addressColumns = `id, user_id, full_name, email, phone, country, city, postal_code, address_line, created_at`

func CreateAddress(ctx context.Context, q Querier, addr *models.Address) error {
	if addr.ID == uuid.Nil {
		addr.ID = uuid.New()
	}

	query := `
		INSERT INTO addresses (id, user_id, full_name, email, phone, country, city, postal_code, address_line, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING created_at`

	err := q.QueryRowContext(ctx, query,
		addr.ID,
		addr.UserID,
		addr.FullName,
		addr.Email,
		addr.Phone,
		addr.Country,
		addr.City,
		addr.PostalCode,
		addr.AddressLine,
	).Scan(&addr.CreatedAt)
	if err != nil {
		return fmt.Errorf("create address: %w", err)
	}

	return nil
}

func GetAddress(ctx context.Context, q Querier, id uuid.UUID) (*models.Address, error) {
	return scanAddress(q.QueryRowContext(ctx,
		`SELECT `+addressColumns+` FROM addresses WHERE id = $1`, id))
}

// GetAddressForShare reads an address and holds a share lock on it until the
// transaction ends, so it cannot be deleted or reassigned underneath an order.
func GetAddressForShare(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*models.Address, error) {
	return scanAddress(tx.QueryRowContext(ctx,
		`SELECT `+addressColumns+` FROM addresses WHERE id = $1 FOR SHARE`, id))
}

func scanAddress(row *sql.Row) (*models.Address, error) {
	addr := &models.Address{}
	err := row.Scan(
		&addr.ID,
		&addr.UserID,
		&addr.FullName,
		&addr.Email,
		&addr.Phone,
		&addr.Country,
		&addr.City,
		&addr.PostalCode,
		&addr.AddressLine,
		&addr.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrAddressNotFound
		}
		return nil, fmt.Errorf("get address: %w", err)
	}
	return addr, nil
}
