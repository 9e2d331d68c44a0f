package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/stilldew/storefront-api/internal/dto"
	"github.com/stilldew/storefront-api/internal/middleware"
	"github.com/stilldew/storefront-api/internal/model"
	"github.com/stilldew/storefront-api/internal/pricing"
	"github.com/stilldew/storefront-api/internal/repository"
	"github.com/stilldew/storefront-api/internal/service"
)

type CartHandler struct {
	svc *service.CartService
}

func NewCartHandler(svc *service.CartService) *CartHandler {
	return &CartHandler{svc: svc}
}

func (h *CartHandler) GetCart(c *gin.Context) {
	cart, totals, err := h.svc.Get(c.Request.Context(), middleware.GetCartOwner(c))
	if err != nil {
		cartError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCartResponse(cart, totals))
}

func (h *CartHandler) AddItem(c *gin.Context) {
	var req dto.AddCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cart, totals, err := h.svc.AddItem(c.Request.Context(), middleware.GetCartOwner(c), req.ProductID, req.Quantity)
	if err != nil {
		cartError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toCartResponse(cart, totals))
}

func (h *CartHandler) UpdateItem(c *gin.Context) {
	itemID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var req dto.UpdateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cart, totals, err := h.svc.UpdateItem(c.Request.Context(), middleware.GetCartOwner(c), itemID, req.Quantity)
	if err != nil {
		cartError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCartResponse(cart, totals))
}

func (h *CartHandler) DeleteItem(c *gin.Context) {
	itemID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	cart, totals, err := h.svc.RemoveItem(c.Request.Context(), middleware.GetCartOwner(c), itemID)
	if err != nil {
		cartError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCartResponse(cart, totals))
}

func (h *CartHandler) ClearCart(c *gin.Context) {
	if err := h.svc.Clear(c.Request.Context(), middleware.GetCartOwner(c)); err != nil {
		cartError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func cartError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCartOwner):
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing session or authentication"})
	case errors.Is(err, service.ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, gin.H{"error": "quantity must be at least 1"})
	case errors.Is(err, service.ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found"})
	case errors.Is(err, service.ErrCartItemNotFound), errors.Is(err, service.ErrWrongCart):
		c.JSON(http.StatusNotFound, gin.H{"error": "cart item not found"})
	case errors.Is(err, service.ErrProductUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": "product is not available"})
	case errors.Is(err, repository.ErrInsufficientStock):
		c.JSON(http.StatusConflict, gin.H{"error": "insufficient stock"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func toCartResponse(cart *model.Cart, totals pricing.Totals) dto.CartResponse {
	items := make([]dto.CartItemResponse, 0, len(cart.Items))
	totalItems := 0
	for _, item := range cart.Items {
		totalItems += item.Quantity
		items = append(items, dto.CartItemResponse{
			ID:         item.ID,
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: pricing.LineTotal(item.UnitPrice, item.Quantity),
		})
	}
	return dto.CartResponse{
		ID:         cart.ID,
		Items:      items,
		TotalItems: totalItems,
		Subtotal:   totals.Subtotal,
		Tax:        totals.Tax,
		Shipping:   totals.Shipping,
		Total:      totals.Total,
	}
}
