package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"

	"github.com/stilldew/storefront-api/internal/model"
	"github.com/stilldew/storefront-api/internal/pricing"
	"github.com/stilldew/storefront-api/internal/repository"
)

var (
	ErrEmptyCart            = errors.New("cart is empty")
	ErrOrderNotFound        = errors.New("order not found")
	ErrOrderAccessDenied    = errors.New("order belongs to another user")
	ErrOrderNotCancellable  = errors.New("order can no longer be cancelled")
	ErrInvalidStatus        = errors.New("unknown order status")
	ErrInvalidTransition    = errors.New("status transition not allowed")
	ErrCustomerInfoRequired = errors.New("customer email is required for guest checkout")
)

// CustomerInfo carries contact details for guest checkout. Authenticated
// checkouts take these from the user record instead.
type CustomerInfo struct {
	Email     string
	FirstName string
	LastName  string
	Phone     string
}

type CreateOrderInput struct {
	ShippingAddress model.Address
	BillingAddress  *model.Address
	Customer        *CustomerInfo
	CustomerNotes   string
}

type OrderService struct {
	orderRepo   repository.OrderRepository
	cartRepo    repository.CartRepository
	productRepo repository.ProductRepository
	userRepo    repository.UserRepository
	policy      pricing.Policy
	amqpCh      *amqp.Channel
	queueName   string
}

func NewOrderService(
	orderRepo repository.OrderRepository,
	cartRepo repository.CartRepository,
	productRepo repository.ProductRepository,
	userRepo repository.UserRepository,
	policy pricing.Policy,
	amqpCh *amqp.Channel,
	queueName string,
) *OrderService {
	return &OrderService{
		orderRepo:   orderRepo,
		cartRepo:    cartRepo,
		productRepo: productRepo,
		userRepo:    userRepo,
		policy:      policy,
		amqpCh:      amqpCh,
		queueName:   queueName,
	}
}

// Create converts the owner's cart into an order. Stock decrements, the order
// row, and its item snapshots commit in one transaction; totals are computed
// from current product prices, not the cart's stale snapshots.
func (s *OrderService) Create(ctx context.Context, owner model.CartOwner, input CreateOrderInput) (*model.Order, error) {
	if !owner.Valid() {
		return nil, ErrInvalidCartOwner
	}

	cart, err := s.cartRepo.FindByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("find cart: %w", err)
	}
	if cart == nil {
		return nil, ErrEmptyCart
	}
	cart, err = s.cartRepo.GetWithItems(ctx, cart.ID)
	if err != nil {
		return nil, fmt.Errorf("get cart items: %w", err)
	}
	if len(cart.Items) == 0 {
		return nil, ErrEmptyCart
	}

	order := &model.Order{
		UserID:            owner.UserID,
		ShippingAddress:   input.ShippingAddress,
		BillingAddress:    input.BillingAddress,
		CustomerNotes:     input.CustomerNotes,
		Status:            model.OrderStatusPending,
		PaymentStatus:     model.PaymentStatusPending,
		FulfillmentStatus: model.FulfillmentUnfulfilled,
	}
	if err := s.fillCustomer(ctx, order, owner, input.Customer); err != nil {
		return nil, err
	}

	lineItems := make([]pricing.LineItem, 0, len(cart.Items))
	for _, cartItem := range cart.Items {
		product, err := s.productRepo.GetByID(ctx, cartItem.ProductID)
		if err != nil {
			return nil, fmt.Errorf("get product: %w", err)
		}
		if product == nil || !product.IsActive {
			return nil, ErrProductUnavailable
		}
		if product.Stock < cartItem.Quantity {
			return nil, repository.ErrInsufficientStock
		}

		productID := product.ID
		order.Items = append(order.Items, model.OrderItem{
			ProductID:    &productID,
			ProductName:  product.Name,
			ProductSKU:   product.SKU,
			ProductImage: product.ImageURL,
			Quantity:     cartItem.Quantity,
			UnitPrice:    product.Price,
			TotalPrice:   pricing.LineTotal(product.Price, cartItem.Quantity),
		})
		lineItems = append(lineItems, pricing.LineItem{UnitPrice: product.Price, Quantity: cartItem.Quantity})
	}

	totals, err := pricing.Compute(lineItems, decimal.Zero, s.policy)
	if err != nil {
		return nil, fmt.Errorf("compute totals: %w", err)
	}
	order.Subtotal = totals.Subtotal
	order.TaxAmount = totals.Tax
	order.ShippingAmount = totals.Shipping
	order.DiscountAmount = totals.Discount
	order.TotalAmount = totals.Total

	if err := s.orderRepo.Create(ctx, order); err != nil {
		return nil, err
	}

	// Post-commit side effects are best-effort: the order stands even if the
	// cart sweep or the event publish fails.
	_ = s.cartRepo.Clear(ctx, cart.ID)
	s.publishCreated(ctx, order)

	return order, nil
}

func (s *OrderService) fillCustomer(ctx context.Context, order *model.Order, owner model.CartOwner, info *CustomerInfo) error {
	if owner.UserID != nil {
		user, err := s.userRepo.GetByID(ctx, *owner.UserID)
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}
		if user != nil {
			order.CustomerEmail = user.Email
			order.CustomerFirstName = user.FirstName
			order.CustomerLastName = user.LastName
			order.CustomerPhone = user.Phone
			return nil
		}
	}
	if info == nil || info.Email == "" {
		return ErrCustomerInfoRequired
	}
	order.CustomerEmail = info.Email
	order.CustomerFirstName = info.FirstName
	order.CustomerLastName = info.LastName
	order.CustomerPhone = info.Phone
	return nil
}

func (s *OrderService) publishCreated(ctx context.Context, order *model.Order) {
	if s.amqpCh == nil {
		return
	}
	body, err := json.Marshal(model.OrderEvent{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Email:       order.CustomerEmail,
	})
	if err != nil {
		return
	}
	_ = s.amqpCh.PublishWithContext(ctx, "", s.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

// Get returns the order if it exists and the requester may see it. Admin
// callers pass a nil userID to skip the ownership check.
func (s *OrderService) Get(ctx context.Context, orderID uuid.UUID, userID *uuid.UUID) (*model.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if userID != nil && (order.UserID == nil || *order.UserID != *userID) {
		return nil, ErrOrderAccessDenied
	}
	return order, nil
}

// GetByNumber resolves an order by its public order number. Guest lookups
// must also present the customer email that placed it.
func (s *OrderService) GetByNumber(ctx context.Context, orderNumber, email string) (*model.Order, error) {
	order, err := s.orderRepo.GetByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if email != "" && order.CustomerEmail != email {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func (s *OrderService) ListByUser(ctx context.Context, userID uuid.UUID, filter repository.OrderFilter) ([]model.Order, int, error) {
	return s.orderRepo.ListByUser(ctx, userID, filter)
}

func (s *OrderService) List(ctx context.Context, filter repository.OrderFilter) ([]model.Order, int, error) {
	return s.orderRepo.List(ctx, filter)
}

func (s *OrderService) Stats(ctx context.Context) (*model.OrderStats, error) {
	return s.orderRepo.Stats(ctx)
}

// Cancel voids the order and restores the decremented stock. Only pending and
// processing orders qualify; anything shipped or beyond is rejected. The
// reason, when given, is stored on the order.
func (s *OrderService) Cancel(ctx context.Context, orderID uuid.UUID, userID *uuid.UUID, reason string) (*model.Order, error) {
	order, err := s.Get(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if !order.Status.Cancellable() {
		return nil, ErrOrderNotCancellable
	}
	if err := s.orderRepo.Cancel(ctx, orderID, reason); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, ErrOrderNotCancellable
		}
		return nil, err
	}
	return s.orderRepo.GetByID(ctx, orderID)
}

// Transition moves the order along the status lifecycle. Each hop must be an
// allowed edge; skipping stages is rejected even for admins. Moving to
// cancelled goes through the stock-restoring cancellation path.
func (s *OrderService) Transition(ctx context.Context, orderID uuid.UUID, target model.OrderStatus) (*model.Order, error) {
	if !target.Valid() {
		return nil, ErrInvalidStatus
	}
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if !order.Status.CanTransitionTo(target) {
		return nil, ErrInvalidTransition
	}

	if target == model.OrderStatusCancelled {
		err = s.orderRepo.Cancel(ctx, orderID, "")
	} else {
		err = s.orderRepo.UpdateStatus(ctx, orderID, order.Status, target)
	}
	if err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}
	return s.orderRepo.GetByID(ctx, orderID)
}

// UpdateTracking records carrier details and, when the order is still in
// processing, moves it to shipped and marks it fulfilled.
func (s *OrderService) UpdateTracking(ctx context.Context, orderID uuid.UUID, trackingNumber, trackingURL, shippingMethod string) (*model.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	if err := s.orderRepo.UpdateTracking(ctx, orderID, trackingNumber, trackingURL, shippingMethod); err != nil {
		return nil, err
	}
	if order.Status == model.OrderStatusProcessing {
		// A lost race here just means someone else already shipped it.
		if err := s.orderRepo.UpdateStatus(ctx, orderID, order.Status, model.OrderStatusShipped); err != nil && !errors.Is(err, repository.ErrStaleStatus) {
			return nil, err
		}
		if err := s.orderRepo.UpdateFulfillment(ctx, orderID, order.FulfillmentStatus, model.FulfillmentFulfilled); err != nil && !errors.Is(err, repository.ErrStaleStatus) {
			return nil, err
		}
	}
	return s.orderRepo.GetByID(ctx, orderID)
}
