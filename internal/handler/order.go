package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stilldew/storefront-api/internal/dto"
	"github.com/stilldew/storefront-api/internal/middleware"
	"github.com/stilldew/storefront-api/internal/model"
	"github.com/stilldew/storefront-api/internal/repository"
	"github.com/stilldew/storefront-api/internal/service"
)

type OrderHandler struct {
	orderService *service.OrderService
}

func NewOrderHandler(orderService *service.OrderService) *OrderHandler {
	return &OrderHandler{orderService: orderService}
}

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req dto.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	input := service.CreateOrderInput{
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  req.BillingAddress,
		CustomerNotes:   req.CustomerNotes,
	}
	if req.CustomerInfo != nil {
		input.Customer = &service.CustomerInfo{
			Email:     req.CustomerInfo.Email,
			FirstName: req.CustomerInfo.FirstName,
			LastName:  req.CustomerInfo.LastName,
			Phone:     req.CustomerInfo.Phone,
		}
	}

	order, err := h.orderService.Create(c.Request.Context(), middleware.GetCartOwner(c), input)
	if err != nil {
		orderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toOrderResponse(order))
}

func (h *OrderHandler) ListOrders(c *gin.Context) {
	var req dto.ListOrdersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	orders, total, err := h.orderService.ListByUser(c.Request.Context(), middleware.GetUserID(c), repository.OrderFilter{
		Status: model.OrderStatus(req.Status),
		Limit:  req.Limit,
		Offset: (req.Page - 1) * req.Limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	items := make([]dto.OrderResponse, 0, len(orders))
	for i := range orders {
		items = append(items, toOrderResponse(&orders[i]))
	}
	c.JSON(http.StatusOK, dto.OrderListResponse{Orders: items, Total: total, Page: req.Page, Limit: req.Limit})
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order ID"})
		return
	}

	order, err := h.orderService.Get(c.Request.Context(), orderID, middleware.GetUserIDRef(c))
	if err != nil {
		orderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toOrderResponse(order))
}

// TrackOrder is the public lookup by order number: guests must supply the
// order's email as a query parameter to see it.
func (h *OrderHandler) TrackOrder(c *gin.Context) {
	orderNumber := c.Param("number")
	email := c.Query("email")
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email is required"})
		return
	}

	order, err := h.orderService.GetByNumber(c.Request.Context(), orderNumber, email)
	if err != nil {
		orderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (h *OrderHandler) CancelOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order ID"})
		return
	}

	// The reason body is optional; a bare POST cancels without one.
	var req dto.CancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.orderService.Cancel(c.Request.Context(), orderID, middleware.GetUserIDRef(c), req.Reason)
	if err != nil {
		orderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toOrderResponse(order))
}

// --- Admin ---

func (h *OrderHandler) AdminListOrders(c *gin.Context) {
	var req dto.AdminListOrdersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	orders, total, err := h.orderService.List(c.Request.Context(), repository.OrderFilter{
		Status:        model.OrderStatus(req.Status),
		PaymentStatus: model.PaymentStatus(req.PaymentStatus),
		Search:        req.Search,
		Limit:         req.Limit,
		Offset:        (req.Page - 1) * req.Limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	items := make([]dto.OrderResponse, 0, len(orders))
	for i := range orders {
		items = append(items, toOrderResponse(&orders[i]))
	}
	c.JSON(http.StatusOK, dto.OrderListResponse{Orders: items, Total: total, Page: req.Page, Limit: req.Limit})
}

func (h *OrderHandler) AdminGetOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order ID"})
		return
	}

	order, err := h.orderService.Get(c.Request.Context(), orderID, nil)
	if err != nil {
		orderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (h *OrderHandler) AdminUpdateStatus(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order ID"})
		return
	}
	var req dto.UpdateOrderStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.orderService.Transition(c.Request.Context(), orderID, model.OrderStatus(req.Status))
	if err != nil {
		orderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (h *OrderHandler) AdminUpdateTracking(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order ID"})
		return
	}
	var req dto.UpdateTrackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.orderService.UpdateTracking(c.Request.Context(), orderID, req.TrackingNumber, req.TrackingURL, req.ShippingMethod)
	if err != nil {
		orderError(c, err)
		return
	}

	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (h *OrderHandler) AdminStats(c *gin.Context) {
	stats, err := h.orderService.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, dto.OrderStatsResponse{
		TotalOrders:      stats.TotalOrders,
		PendingOrders:    stats.PendingOrders,
		ProcessingOrders: stats.ProcessingOrders,
		ShippedOrders:    stats.ShippedOrders,
		OrdersToday:      stats.OrdersToday,
		PaidRevenue:      stats.PaidRevenue,
	})
}

func orderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyCart):
		c.JSON(http.StatusBadRequest, gin.H{"error": "cart is empty"})
	case errors.Is(err, service.ErrCustomerInfoRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "customer email is required"})
	case errors.Is(err, service.ErrInvalidCartOwner):
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing session or authentication"})
	case errors.Is(err, service.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown order status"})
	case errors.Is(err, service.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
	case errors.Is(err, service.ErrOrderAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied"})
	case errors.Is(err, service.ErrOrderNotCancellable):
		c.JSON(http.StatusConflict, gin.H{"error": "order can no longer be cancelled"})
	case errors.Is(err, service.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "status transition not allowed"})
	case errors.Is(err, service.ErrProductUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": "product is not available"})
	case errors.Is(err, repository.ErrInsufficientStock):
		c.JSON(http.StatusConflict, gin.H{"error": "insufficient stock"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func toOrderResponse(order *model.Order) dto.OrderResponse {
	items := make([]dto.OrderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, dto.OrderItemResponse{
			ID:           item.ID,
			ProductID:    item.ProductID,
			ProductName:  item.ProductName,
			ProductSKU:   item.ProductSKU,
			ProductImage: item.ProductImage,
			Quantity:     item.Quantity,
			UnitPrice:    item.UnitPrice,
			TotalPrice:   item.TotalPrice,
		})
	}
	return dto.OrderResponse{
		ID:                order.ID,
		OrderNumber:       order.OrderNumber,
		CustomerEmail:     order.CustomerEmail,
		Subtotal:          order.Subtotal,
		TaxAmount:         order.TaxAmount,
		ShippingAmount:    order.ShippingAmount,
		DiscountAmount:    order.DiscountAmount,
		TotalAmount:       order.TotalAmount,
		ShippingAddress:   order.ShippingAddress,
		BillingAddress:    order.BillingAddress,
		Status:            order.Status,
		PaymentStatus:     order.PaymentStatus,
		FulfillmentStatus: order.FulfillmentStatus,
		ShippingMethod:    order.ShippingMethod,
		TrackingNumber:    order.TrackingNumber,
		TrackingURL:       order.TrackingURL,
		CustomerNotes:     order.CustomerNotes,
		CancelReason:      order.CancelReason,
		Items:             items,
		CreatedAt:         order.CreatedAt,
		PaidAt:            order.PaidAt,
		ShippedAt:         order.ShippedAt,
		DeliveredAt:       order.DeliveredAt,
		CancelledAt:       order.CancelledAt,
	}
}
