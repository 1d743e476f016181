package checkout

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/safar/storefront-checkout/internal/database"
	"github.com/safar/storefront-checkout/internal/models"
	"github.com/safar/storefront-checkout/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// GuestProfile is the contact and shipping data a guest supplies at checkout.
type GuestProfile struct {
	FullName    string `json:"name" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	Phone       string `json:"phone" validate:"required"`
	Country     string `json:"country" validate:"required"`
	City        string `json:"city" validate:"required"`
	PostalCode  string `json:"postalCode" validate:"required"`
	AddressLine string `json:"addressLine" validate:"required"`
}

func (g GuestProfile) trimmed() GuestProfile {
	return GuestProfile{
		FullName:    strings.TrimSpace(g.FullName),
		Email:       strings.TrimSpace(g.Email),
		Phone:       strings.TrimSpace(g.Phone),
		Country:     strings.TrimSpace(g.Country),
		City:        strings.TrimSpace(g.City),
		PostalCode:  strings.TrimSpace(g.PostalCode),
		AddressLine: strings.TrimSpace(g.AddressLine),
	}
}

// PurchaserIdentity is either Authenticated or Guest.
type PurchaserIdentity interface {
	purchaser()
}

type Authenticated struct {
	UserID    uuid.UUID
	AddressID uuid.UUID
}

type Guest struct {
	Profile GuestProfile
}

func (Authenticated) purchaser() {}
func (Guest) purchaser()         {}

// ResolvedIdentity is what settlement needs from either path.
type ResolvedIdentity struct {
	UserID       uuid.UUID
	AddressID    uuid.UUID
	ContactName  string
	ContactEmail string
	IsGuest      bool
}

var guestValidator = newGuestValidator()

func newGuestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// NewPurchaserIdentity picks the identity path from the session. A signed-in
// user must name one of their addresses; anyone else must send a complete
// guest profile.
func NewPurchaserIdentity(sessionUserID *uuid.UUID, shippingAddressID string, guest *GuestProfile) (PurchaserIdentity, error) {
	if sessionUserID != nil {
		shippingAddressID = strings.TrimSpace(shippingAddressID)
		if shippingAddressID == "" {
			return nil, validationError("shippingAddressId is required", map[string]any{"field": "shippingAddressId"})
		}
		addressID, err := uuid.Parse(shippingAddressID)
		if err != nil {
			return nil, addressOwnershipError()
		}
		return Authenticated{UserID: *sessionUserID, AddressID: addressID}, nil
	}

	if guest == nil {
		return nil, newError(ErrIncompleteGuestAddress, "guest address is required", map[string]any{
			"missingFields": []string{"name", "email", "phone", "country", "city", "postalCode", "addressLine"},
		})
	}

	profile := guest.trimmed()
	if err := guestValidator.Struct(profile); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, fmt.Errorf("validate guest address: %w", err)
		}
		var missing, invalid []string
		for _, fe := range verrs {
			if fe.Tag() == "required" {
				missing = append(missing, fe.Field())
			} else {
				invalid = append(invalid, fe.Field())
			}
		}
		details := map[string]any{}
		if len(missing) > 0 {
			details["missingFields"] = missing
		}
		if len(invalid) > 0 {
			details["invalidFields"] = invalid
		}
		return nil, newError(ErrIncompleteGuestAddress, "guest address is incomplete", details)
	}

	return Guest{Profile: profile}, nil
}

func addressOwnershipError() *Error {
	return newError(ErrAddressOwnership, "shipping address does not belong to the current user", nil)
}

// IdentityResolver turns a PurchaserIdentity into a user and address pair.
type IdentityResolver struct {
	db *sql.DB
}

func NewIdentityResolver(db *sql.DB) *IdentityResolver {
	return &IdentityResolver{db: db}
}

// Precheck runs the read-only part of resolution so identity errors surface
// before any money moves.
func (r *IdentityResolver) Precheck(ctx context.Context, identity PurchaserIdentity) error {
	switch id := identity.(type) {
	case Authenticated:
		addr, err := store.GetAddress(ctx, r.db, id.AddressID)
		return checkOwnership(addr, err, id.UserID)
	case Guest:
		return nil
	default:
		return fmt.Errorf("unsupported purchaser identity %T", identity)
	}
}

// Resolve runs inside the settlement transaction. It re-checks ownership under
// a share lock, or materializes the guest as a user and address.
func (r *IdentityResolver) Resolve(ctx context.Context, tx *sql.Tx, identity PurchaserIdentity) (ResolvedIdentity, error) {
	switch id := identity.(type) {
	case Authenticated:
		addr, err := store.GetAddressForShare(ctx, tx, id.AddressID)
		if err := checkOwnership(addr, err, id.UserID); err != nil {
			return ResolvedIdentity{}, err
		}
		return ResolvedIdentity{
			UserID:       id.UserID,
			AddressID:    addr.ID,
			ContactName:  addr.FullName,
			ContactEmail: addr.Email,
		}, nil

	case Guest:
		return createGuest(ctx, tx, id.Profile)

	default:
		return ResolvedIdentity{}, fmt.Errorf("unsupported purchaser identity %T", identity)
	}
}

func checkOwnership(addr *models.Address, err error, userID uuid.UUID) error {
	if err != nil {
		if errors.Is(err, database.ErrAddressNotFound) {
			return addressOwnershipError()
		}
		return fmt.Errorf("check address ownership: %w", err)
	}
	if addr.UserID != userID {
		return addressOwnershipError()
	}
	return nil
}

func createGuest(ctx context.Context, tx *sql.Tx, profile GuestProfile) (ResolvedIdentity, error) {
	hash, err := unusablePasswordHash()
	if err != nil {
		return ResolvedIdentity{}, err
	}

	userID := uuid.New()
	user := &models.User{
		ID:            userID,
		Email:         fmt.Sprintf("guest+%s@guest.invalid", userID),
		Name:          profile.FullName,
		PasswordHash:  hash,
		EmailVerified: true,
		IsGuest:       true,
	}
	if err := store.CreateUser(ctx, tx, user); err != nil {
		return ResolvedIdentity{}, fmt.Errorf("create guest user: %w", err)
	}

	addr := &models.Address{
		UserID:      user.ID,
		FullName:    profile.FullName,
		Email:       profile.Email,
		Phone:       profile.Phone,
		Country:     profile.Country,
		City:        profile.City,
		PostalCode:  profile.PostalCode,
		AddressLine: profile.AddressLine,
	}
	if err := store.CreateAddress(ctx, tx, addr); err != nil {
		return ResolvedIdentity{}, fmt.Errorf("create guest address: %w", err)
	}

	return ResolvedIdentity{
		UserID:       user.ID,
		AddressID:    addr.ID,
		ContactName:  profile.FullName,
		ContactEmail: profile.Email,
		IsGuest:      true,
	}, nil
}

// unusablePasswordHash hashes random bytes nobody ever sees, so the guest
// account cannot be signed into.
func unusablePasswordHash() (string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("generate guest secret: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword(secret, bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash guest secret: %w", err)
	}
	return string(hash), nil
}
