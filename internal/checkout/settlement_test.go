package checkout_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/safar/storefront-checkout/internal/checkout"
	"github.com/safar/storefront-checkout/internal/models"
	"github.com/safar/storefront-checkout/internal/store"
	"github.com/safar/storefront-checkout/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type settlementFixture struct {
	db       *sql.DB
	engine   *checkout.Engine
	identity *checkout.IdentityResolver
	settler  *checkout.Settler
}

func newSettlementFixture(t *testing.T) *settlementFixture {
	t.Helper()
	db, cleanup := testutil.SetupTestDB(t)
	t.Cleanup(cleanup)

	identity := checkout.NewIdentityResolver(db)
	return &settlementFixture{
		db:       db,
		engine:   checkout.NewEngine(checkout.NewCatalogOracle(db)),
		identity: identity,
		settler:  checkout.NewSettler(db, identity),
	}
}

func (f *settlementFixture) product(t *testing.T, price string) uuid.UUID {
	t.Helper()
	p := &models.Product{Name: "Product " + price, Price: decimal.RequireFromString(price)}
	require.NoError(t, store.CreateProduct(context.Background(), f.db, p))
	return p.ID
}

func (f *settlementFixture) user(t *testing.T) (uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	user := &models.User{Email: uuid.NewString() + "@example.com", Name: "Grace Hopper", PasswordHash: "x"}
	require.NoError(t, store.CreateUser(ctx, f.db, user))

	addr := &models.Address{
		UserID:      user.ID,
		FullName:    "Grace Hopper",
		Email:       "grace@example.com",
		Phone:       "555-0101",
		Country:     "US",
		City:        "Arlington",
		PostalCode:  "22201",
		AddressLine: "1 Navy Yard",
	}
	require.NoError(t, store.CreateAddress(ctx, f.db, addr))
	return user.ID, addr.ID
}

func (f *settlementFixture) price(t *testing.T, lines ...string) *checkout.TrustedPricing {
	t.Helper()
	raw := make([]checkout.RawLineItem, 0, len(lines))
	for _, l := range lines {
		var item checkout.RawLineItem
		require.NoError(t, json.Unmarshal([]byte(l), &item))
		raw = append(raw, item)
	}
	cart, err := checkout.NormalizeCart(raw)
	require.NoError(t, err)

	pricing, err := f.engine.Reconcile(context.Background(), cart)
	require.NoError(t, err)
	return pricing
}

func (f *settlementFixture) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, f.db.QueryRowContext(context.Background(), query, args...).Scan(&n))
	return n
}

func lineJSON(productID uuid.UUID, qty int) string {
	return fmt.Sprintf(`{"productId":%q,"quantity":%d}`, productID, qty)
}

func guestIdentity(t *testing.T) checkout.PurchaserIdentity {
	t.Helper()
	identity, err := checkout.NewPurchaserIdentity(nil, "", &checkout.GuestProfile{
		FullName:    "Ada Lovelace",
		Email:       "ada@example.com",
		Phone:       "+44 20 7946 0000",
		Country:     "GB",
		City:        "London",
		PostalCode:  "SW1A 1AA",
		AddressLine: "1 Example Street",
	})
	require.NoError(t, err)
	return identity
}

func TestSettle_GuestCreatesUserAddressAndOrder(t *testing.T) {
	f := newSettlementFixture(t)
	ctx := context.Background()

	lamp := f.product(t, "19.99")
	mug := f.product(t, "7.50")
	pricing := f.price(t, lineJSON(lamp, 1), lineJSON(mug, 2))

	result, err := f.settler.Settle(ctx, checkout.SettlementRequest{
		ProviderOrderID: "PAY-GUEST",
		Pricing:         pricing,
		Identity:        guestIdentity(t),
	})
	require.NoError(t, err)
	assert.False(t, result.Existing)
	assert.True(t, result.Identity.IsGuest)
	assert.Equal(t, "ada@example.com", result.Identity.ContactEmail)

	user, err := store.GetUser(ctx, f.db, result.Identity.UserID)
	require.NoError(t, err)
	assert.True(t, user.IsGuest)
	assert.True(t, user.EmailVerified)
	assert.Equal(t, "Ada Lovelace", user.Name)
	assert.Contains(t, user.Email, "@guest.invalid")
	assert.NotEmpty(t, user.PasswordHash)

	addr, err := store.GetAddress(ctx, f.db, result.Identity.AddressID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, addr.UserID)
	assert.Equal(t, "London", addr.City)

	order, err := store.GetOrder(ctx, f.db, result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, "PAY-GUEST", order.TransactionID)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, addr.ID, order.ShippingAddressID)
	assert.Equal(t, "34.99", order.TotalAmount.StringFixed(2))
	require.Len(t, order.Items, 2)
	assert.Equal(t, lamp, order.Items[0].ProductID)
	assert.Equal(t, 2, order.Items[1].Quantity)
	assert.Equal(t, "7.50", order.Items[1].Price.StringFixed(2))
}

func TestSettle_AuthenticatedUsesOwnAddress(t *testing.T) {
	f := newSettlementFixture(t)
	ctx := context.Background()

	userID, addressID := f.user(t)
	product := f.product(t, "10.00")

	identity, err := checkout.NewPurchaserIdentity(&userID, addressID.String(), nil)
	require.NoError(t, err)
	require.NoError(t, f.identity.Precheck(ctx, identity))

	result, err := f.settler.Settle(ctx, checkout.SettlementRequest{
		ProviderOrderID: "PAY-AUTH",
		Pricing:         f.price(t, lineJSON(product, 3)),
		Identity:        identity,
	})
	require.NoError(t, err)
	assert.Equal(t, userID, result.Identity.UserID)
	assert.Equal(t, addressID, result.Identity.AddressID)
	assert.False(t, result.Identity.IsGuest)
	assert.Equal(t, "grace@example.com", result.Identity.ContactEmail)
}

func TestSettle_ForeignAddressIsRejected(t *testing.T) {
	f := newSettlementFixture(t)
	ctx := context.Background()

	_, foreignAddress := f.user(t)
	userID, _ := f.user(t)
	product := f.product(t, "10.00")

	identity, err := checkout.NewPurchaserIdentity(&userID, foreignAddress.String(), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, f.identity.Precheck(ctx, identity), checkout.ErrAddressOwnership)

	_, err = f.settler.Settle(ctx, checkout.SettlementRequest{
		ProviderOrderID: "PAY-FOREIGN",
		Pricing:         f.price(t, lineJSON(product, 1)),
		Identity:        identity,
	})
	require.ErrorIs(t, err, checkout.ErrAddressOwnership)
	assert.Zero(t, f.count(t, `SELECT COUNT(*) FROM orders`))

	missing, err := checkout.NewPurchaserIdentity(&userID, uuid.NewString(), nil)
	require.NoError(t, err)
	assert.ErrorIs(t, f.identity.Precheck(ctx, missing), checkout.ErrAddressOwnership)
}

func TestSettle_ReplayReturnsExistingOrder(t *testing.T) {
	f := newSettlementFixture(t)
	ctx := context.Background()

	product := f.product(t, "10.00")
	req := checkout.SettlementRequest{
		ProviderOrderID: "PAY-REPLAY",
		Pricing:         f.price(t, lineJSON(product, 1)),
		Identity:        guestIdentity(t),
	}

	first, err := f.settler.Settle(ctx, req)
	require.NoError(t, err)

	second, err := f.settler.Settle(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Existing)
	assert.Equal(t, first.OrderID, second.OrderID)

	id, found, err := f.settler.ExistingOrder(ctx, "PAY-REPLAY")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, first.OrderID, id)

	assert.Equal(t, 1, f.count(t, `SELECT COUNT(*) FROM orders WHERE transaction_id = $1`, "PAY-REPLAY"))
	assert.Equal(t, 1, f.count(t, `SELECT COUNT(*) FROM users WHERE is_guest`))

	_, found, err = f.settler.ExistingOrder(ctx, "PAY-NEVER")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSettle_ConcurrentReplaysSettleOnce(t *testing.T) {
	f := newSettlementFixture(t)
	ctx := context.Background()

	product := f.product(t, "10.00")
	req := checkout.SettlementRequest{
		ProviderOrderID: "PAY-RACE",
		Pricing:         f.price(t, lineJSON(product, 1)),
		Identity:        guestIdentity(t),
	}

	const concurrency = 8
	var wg sync.WaitGroup
	ids := make(chan uuid.UUID, concurrency)
	errs := make(chan error, concurrency)

	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.settler.Settle(ctx, req)
			if err != nil {
				errs <- err
				return
			}
			ids <- result.OrderID
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		t.Errorf("settle: %v", err)
	}
	var first uuid.UUID
	for id := range ids {
		if first == uuid.Nil {
			first = id
		}
		assert.Equal(t, first, id)
	}

	assert.Equal(t, 1, f.count(t, `SELECT COUNT(*) FROM orders WHERE transaction_id = $1`, "PAY-RACE"))
	// Losing transactions roll back their guest rows too.
	assert.Equal(t, 1, f.count(t, `SELECT COUNT(*) FROM users WHERE is_guest`))
}

func TestSettle_FailureLeavesNoGuestBehind(t *testing.T) {
	f := newSettlementFixture(t)
	ctx := context.Background()

	product := f.product(t, "10.00")
	pricing := f.price(t, lineJSON(product, 1))

	// Removing the product after pricing makes the item insert fail on its
	// foreign key, after the guest user and address were written.
	_, err := f.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, product)
	require.NoError(t, err)

	_, err = f.settler.Settle(ctx, checkout.SettlementRequest{
		ProviderOrderID: "PAY-FAIL",
		Pricing:         pricing,
		Identity:        guestIdentity(t),
	})
	require.ErrorIs(t, err, checkout.ErrPersistence)

	var rejection *checkout.Error
	require.True(t, errors.As(err, &rejection))

	assert.Zero(t, f.count(t, `SELECT COUNT(*) FROM users`))
	assert.Zero(t, f.count(t, `SELECT COUNT(*) FROM addresses`))
	assert.Zero(t, f.count(t, `SELECT COUNT(*) FROM orders`))
}

func TestCatalogOracle_UnknownProduct(t *testing.T) {
	f := newSettlementFixture(t)
	ctx := context.Background()

	known := f.product(t, "10.00")
	oracle := checkout.NewCatalogOracle(f.db)

	_, err := oracle.LookupPricing(ctx, []string{known.String(), uuid.NewString()}, models.ShippingFree)
	assert.ErrorIs(t, err, checkout.ErrUnknownProduct)

	_, err = oracle.LookupPricing(ctx, []string{"not-a-uuid"}, models.ShippingFree)
	assert.ErrorIs(t, err, checkout.ErrUnknownProduct)

	entries, err := oracle.LookupPricing(ctx, []string{known.String()}, models.ShippingFree)
	require.NoError(t, err)
	assert.Equal(t, "10.00", entries[known.String()].UnitPrice.StringFixed(2))
	assert.Nil(t, entries[known.String()].Shipping)
}
