package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stilldew/storefront-api/internal/model"
)

// --- Auth ---

type RegisterRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
	Phone     string `json:"phone"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Role      string    `json:"role"`
}

// --- Product ---

type CreateProductRequest struct {
	Name              string           `json:"name" binding:"required"`
	Slug              string           `json:"slug" binding:"required"`
	Description       string           `json:"description"`
	SKU               string           `json:"sku"`
	Price             decimal.Decimal  `json:"price" binding:"required"`
	CompareAtPrice    *decimal.Decimal `json:"compare_at_price"`
	Stock             int              `json:"stock_quantity" binding:"min=0"`
	LowStockThreshold int              `json:"low_stock_threshold"`
	ImageURL          string           `json:"image_url"`
	IsActive          *bool            `json:"is_active"`
	IsFeatured        bool             `json:"is_featured"`
}

type UpdateProductRequest struct {
	Name              *string          `json:"name"`
	Slug              *string          `json:"slug"`
	Description       *string          `json:"description"`
	SKU               *string          `json:"sku"`
	Price             *decimal.Decimal `json:"price"`
	CompareAtPrice    *decimal.Decimal `json:"compare_at_price"`
	Stock             *int             `json:"stock_quantity"`
	LowStockThreshold *int             `json:"low_stock_threshold"`
	ImageURL          *string          `json:"image_url"`
	IsActive          *bool            `json:"is_active"`
	IsFeatured        *bool            `json:"is_featured"`
}

type ListProductsRequest struct {
	Page     int    `form:"page,default=1" binding:"min=1"`
	Limit    int    `form:"limit,default=20" binding:"min=1,max=100"`
	Search   string `form:"search"`
	Sort     string `form:"sort,default=created_at" binding:"oneof=name price created_at"`
	Order    string `form:"order,default=desc" binding:"oneof=asc desc"`
	Featured bool   `form:"featured"`
}

type ProductResponse struct {
	ID             uuid.UUID        `json:"id"`
	Name           string           `json:"name"`
	Slug           string           `json:"slug"`
	Description    string           `json:"description"`
	SKU            string           `json:"sku"`
	Price          decimal.Decimal  `json:"price"`
	CompareAtPrice *decimal.Decimal `json:"compare_at_price,omitempty"`
	Stock          int              `json:"stock_quantity"`
	InStock        bool             `json:"in_stock"`
	LowStock       bool             `json:"is_low_stock"`
	ImageURL       string           `json:"image_url"`
	IsActive       bool             `json:"is_active"`
	IsFeatured     bool             `json:"is_featured"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

type ProductListResponse struct {
	Products []ProductResponse `json:"products"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
}

// --- Cart ---

type AddCartItemRequest struct {
	ProductID uuid.UUID `json:"product_id" binding:"required"`
	Quantity  int       `json:"quantity" binding:"required,min=1"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

type CartItemResponse struct {
	ID         uuid.UUID       `json:"id"`
	ProductID  uuid.UUID       `json:"product_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
}

type CartResponse struct {
	ID         uuid.UUID          `json:"id"`
	Items      []CartItemResponse `json:"items"`
	TotalItems int                `json:"total_items"`
	Subtotal   decimal.Decimal    `json:"subtotal"`
	Tax        decimal.Decimal    `json:"tax"`
	Shipping   decimal.Decimal    `json:"shipping"`
	Total      decimal.Decimal    `json:"total"`
}

// --- Order ---

type CustomerInfo struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

type CreateOrderRequest struct {
	ShippingAddress model.Address  `json:"shipping_address" binding:"required"`
	BillingAddress  *model.Address `json:"billing_address"`
	CustomerInfo    *CustomerInfo  `json:"customer_info"`
	CustomerNotes   string         `json:"customer_notes"`
}

type CancelOrderRequest struct {
	Reason string `json:"reason"`
}

type UpdateOrderStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type UpdateTrackingRequest struct {
	TrackingNumber string `json:"tracking_number" binding:"required"`
	TrackingURL    string `json:"tracking_url"`
	ShippingMethod string `json:"shipping_method"`
}

type ListOrdersRequest struct {
	Page   int    `form:"page,default=1" binding:"min=1"`
	Limit  int    `form:"limit,default=10" binding:"min=1,max=100"`
	Status string `form:"status"`
}

type AdminListOrdersRequest struct {
	Page          int    `form:"page,default=1" binding:"min=1"`
	Limit         int    `form:"limit,default=20" binding:"min=1,max=100"`
	Status        string `form:"status"`
	PaymentStatus string `form:"payment_status"`
	Search        string `form:"search"`
}

type OrderItemResponse struct {
	ID           uuid.UUID       `json:"id"`
	ProductID    *uuid.UUID      `json:"product_id,omitempty"`
	ProductName  string          `json:"product_name"`
	ProductSKU   string          `json:"product_sku,omitempty"`
	ProductImage string          `json:"product_image,omitempty"`
	Quantity     int             `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TotalPrice   decimal.Decimal `json:"total_price"`
}

type OrderResponse struct {
	ID                uuid.UUID               `json:"id"`
	OrderNumber       string                  `json:"order_number"`
	CustomerEmail     string                  `json:"customer_email"`
	Subtotal          decimal.Decimal         `json:"subtotal"`
	TaxAmount         decimal.Decimal         `json:"tax_amount"`
	ShippingAmount    decimal.Decimal         `json:"shipping_amount"`
	DiscountAmount    decimal.Decimal         `json:"discount_amount"`
	TotalAmount       decimal.Decimal         `json:"total_amount"`
	ShippingAddress   model.Address           `json:"shipping_address"`
	BillingAddress    *model.Address          `json:"billing_address,omitempty"`
	Status            model.OrderStatus       `json:"status"`
	PaymentStatus     model.PaymentStatus     `json:"payment_status"`
	FulfillmentStatus model.FulfillmentStatus `json:"fulfillment_status"`
	ShippingMethod    string                  `json:"shipping_method,omitempty"`
	TrackingNumber    string                  `json:"tracking_number,omitempty"`
	TrackingURL       string                  `json:"tracking_url,omitempty"`
	CustomerNotes     string                  `json:"customer_notes,omitempty"`
	CancelReason      string                  `json:"cancel_reason,omitempty"`
	Items             []OrderItemResponse     `json:"items"`
	CreatedAt         time.Time               `json:"created_at"`
	PaidAt            *time.Time              `json:"paid_at,omitempty"`
	ShippedAt         *time.Time              `json:"shipped_at,omitempty"`
	DeliveredAt       *time.Time              `json:"delivered_at,omitempty"`
	CancelledAt       *time.Time              `json:"cancelled_at,omitempty"`
}

type OrderListResponse struct {
	Orders []OrderResponse `json:"orders"`
	Total  int             `json:"total"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
}

type OrderStatsResponse struct {
	TotalOrders      int             `json:"total_orders"`
	PendingOrders    int             `json:"pending_orders"`
	ProcessingOrders int             `json:"processing_orders"`
	ShippedOrders    int             `json:"shipped_orders"`
	OrdersToday      int             `json:"orders_today"`
	PaidRevenue      decimal.Decimal `json:"paid_revenue"`
}

// --- Payment ---

type CreateIntentRequest struct {
	OrderID uuid.UUID `json:"order_id" binding:"required"`
	// Amount is advisory; the server verifies it against the order's stored
	// total and rejects mismatches.
	Amount   decimal.Decimal   `json:"amount" binding:"required"`
	Metadata map[string]string `json:"metadata"`
}

type CreateIntentResponse struct {
	PaymentID       uuid.UUID `json:"payment_id"`
	PaymentIntentID string    `json:"payment_intent_id"`
	ClientSecret    string    `json:"client_secret"`
}

type ConfirmPaymentRequest struct {
	PaymentIntentID string `json:"payment_intent_id" binding:"required"`
}

type PaymentResponse struct {
	PaymentID   uuid.UUID          `json:"payment_id"`
	Status      model.PaymentState `json:"status"`
	OrderID     uuid.UUID          `json:"order_id"`
	OrderNumber string             `json:"order_number"`
}

type RefundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}
