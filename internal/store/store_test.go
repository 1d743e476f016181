package store_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/safar/storefront-checkout/internal/models"
	"github.com/safar/storefront-checkout/internal/store"
	"github.com/shopspring/decimal"
)

func createUser(t *testing.T, db *sql.DB, name string) *models.User {
	t.Helper()
	user := &models.User{
		Email:        name + "-" + uuid.NewString() + "@example.com",
		Name:         name,
		PasswordHash: "x",
	}
	if err := store.CreateUser(context.Background(), db, user); err != nil {
		t.Fatalf("Create user: %v", err)
	}
	return user
}

func createAddress(t *testing.T, db *sql.DB, userID uuid.UUID) *models.Address {
	t.Helper()
	addr := &models.Address{
		UserID:      userID,
		FullName:    "Test User",
		Email:       "test@example.com",
		Phone:       "555-0100",
		Country:     "US",
		City:        "Springfield",
		PostalCode:  "12345",
		AddressLine: "742 Evergreen Terrace",
	}
	if err := store.CreateAddress(context.Background(), db, addr); err != nil {
		t.Fatalf("Create address: %v", err)
	}
	return addr
}

func createProduct(t *testing.T, db *sql.DB, name, price string) *models.Product {
	t.Helper()
	product := &models.Product{Name: name, Price: decimal.RequireFromString(price)}
	if err := store.CreateProduct(context.Background(), db, product); err != nil {
		t.Fatalf("Create product: %v", err)
	}
	return product
}

func intPtr(n int) *int { return &n }
