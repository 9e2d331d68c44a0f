package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	ID        uuid.UUID
	Email     string
	Password  string
	FirstName string
	LastName  string
	Phone     string
	Role      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Product struct {
	ID                uuid.UUID
	Name              string
	Slug              string
	Description       string
	SKU               string
	Price             decimal.Decimal
	CompareAtPrice    *decimal.Decimal
	Stock             int
	LowStockThreshold int
	ImageURL          string
	IsActive          bool
	IsFeatured        bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CartOwner identifies a cart by either an authenticated user or a guest
// session. Exactly one of the fields is set.
type CartOwner struct {
	UserID    *uuid.UUID
	SessionID string
}

func (o CartOwner) Valid() bool {
	return o.UserID != nil || o.SessionID != ""
}

type Cart struct {
	ID        uuid.UUID
	UserID    *uuid.UUID
	SessionID string
	Items     []CartItem
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

type CartItem struct {
	ID        uuid.UUID
	CartID    uuid.UUID
	ProductID uuid.UUID
	Quantity  int
	// UnitPrice is the product price captured when the line was added.
	UnitPrice decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Address is denormalized onto orders as JSONB.
type Address struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Line1      string `json:"line1" binding:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" binding:"required"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code" binding:"required"`
	Country    string `json:"country" binding:"required"`
	Phone      string `json:"phone,omitempty"`
}

type Order struct {
	ID          uuid.UUID
	OrderNumber string
	UserID      *uuid.UUID

	CustomerEmail     string
	CustomerFirstName string
	CustomerLastName  string
	CustomerPhone     string

	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	ShippingAmount decimal.Decimal
	DiscountAmount decimal.Decimal
	TotalAmount    decimal.Decimal

	ShippingAddress Address
	BillingAddress  *Address

	Status            OrderStatus
	PaymentStatus     PaymentStatus
	FulfillmentStatus FulfillmentStatus

	ShippingMethod string
	TrackingNumber string
	TrackingURL    string
	CustomerNotes  string
	CancelReason   string

	Items []OrderItem

	CreatedAt   time.Time
	UpdatedAt   time.Time
	PaidAt      *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	CancelledAt *time.Time
}

// OrderItem is a denormalized snapshot taken at order creation. Later product
// edits or deletion never alter it; ProductID goes nil if the product row is
// removed.
type OrderItem struct {
	ID           uuid.UUID
	OrderID      uuid.UUID
	ProductID    *uuid.UUID
	ProductName  string
	ProductSKU   string
	ProductImage string
	Quantity     int
	UnitPrice    decimal.Decimal
	TotalPrice   decimal.Decimal
	CreatedAt    time.Time
}

type Payment struct {
	ID      uuid.UUID
	OrderID uuid.UUID
	// OrderNumber is read through a join with the order row; payments does
	// not store it.
	OrderNumber  string
	IntentID     string
	ChargeID     string
	Amount       decimal.Decimal
	Currency     string
	Status       PaymentState
	Method       string
	CardBrand    string
	CardLast4    string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	SucceededAt  *time.Time
	FailedAt     *time.Time
}

type OrderStats struct {
	TotalOrders      int
	PendingOrders    int
	ProcessingOrders int
	ShippedOrders    int
	OrdersToday      int
	PaidRevenue      decimal.Decimal
}

// OrderEvent is published to RabbitMQ after an order commits.
type OrderEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Email       string    `json:"email"`
}
