package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ShippingMethod string

const (
	ShippingFree      ShippingMethod = "FREE"
	ShippingFast      ShippingMethod = "FAST"
	ShippingSuperFast ShippingMethod = "SUPER_FAST"
)

func (m ShippingMethod) Valid() bool {
	switch m {
	case ShippingFree, ShippingFast, ShippingSuperFast:
		return true
	}
	return false
}

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "UNPAID"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
	PaymentStatusFailed   PaymentStatus = "FAILED"
)

type User struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	PasswordHash  string    `json:"-"`
	EmailVerified bool      `json:"email_verified"`
	IsGuest       bool      `json:"is_guest"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Address struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	FullName    string    `json:"full_name"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	Country     string    `json:"country"`
	City        string    `json:"city"`
	PostalCode  string    `json:"postal_code"`
	AddressLine string    `json:"address_line"`
	CreatedAt   time.Time `json:"created_at"`
}

type Product struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ShippingOption is a per-unit shipping quote a product offers for one method.
type ShippingOption struct {
	ProductID uuid.UUID       `json:"product_id"`
	Method    ShippingMethod  `json:"method"`
	Cost      decimal.Decimal `json:"cost"`
	MinDays   *int            `json:"min_days,omitempty"`
	MaxDays   *int            `json:"max_days,omitempty"`
}

type Order struct {
	ID                uuid.UUID       `json:"id"`
	UserID            uuid.UUID       `json:"user_id"`
	ShippingAddressID uuid.UUID       `json:"shipping_address_id"`
	TransactionID     string          `json:"transaction_id"`
	Status            OrderStatus     `json:"status"`
	PaymentStatus     PaymentStatus   `json:"payment_status"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	ShippingMethod    ShippingMethod  `json:"shipping_method"`
	ShippingCost      decimal.Decimal `json:"shipping_cost"`
	MinDeliveryDays   *int            `json:"min_delivery_days,omitempty"`
	MaxDeliveryDays   *int            `json:"max_delivery_days,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Items             []OrderItem     `json:"items,omitempty"`
}

type OrderItem struct {
	ID        uuid.UUID       `json:"id"`
	OrderID   uuid.UUID       `json:"order_id"`
	ProductID uuid.UUID       `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	CreatedAt time.Time       `json:"created_at"`
}
