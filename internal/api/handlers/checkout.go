package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/cardhaven/cardhaven/internal/db"
	"github.com/cardhaven/cardhaven/internal/fulfillment"
	"github.com/cardhaven/cardhaven/internal/models"
	"github.com/cardhaven/cardhaven/internal/notifications"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// OrderStore defines the order persistence operations the checkout handler needs.
type OrderStore interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	SetOrderStatus(ctx context.Context, id string, status models.OrderStatus) error
}

// CodeAllocator hands out exactly one code per paid order.
type CodeAllocator interface {
	Allocate(ctx context.Context, req fulfillment.Request) (*fulfillment.Result, error)
}

// CheckoutHandler handles payment confirmation and code fulfillment.
type CheckoutHandler struct {
	orders    OrderStore
	allocator CodeAllocator
	logger    zerolog.Logger
}

// NewCheckoutHandler creates a new CheckoutHandler.
func NewCheckoutHandler(orders OrderStore, allocator CodeAllocator, logger zerolog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		orders:    orders,
		allocator: allocator,
		logger:    logger.With().Str("component", "checkout_handler").Logger(),
	}
}

// RegisterRoutes registers checkout routes on the given router group.
func (h *CheckoutHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders/:id/confirm-payment", h.ConfirmPayment)
}

// ConfirmPaymentRequest is the request body for confirming payment.
type ConfirmPaymentRequest struct {
	ProductID      string `json:"product_id" binding:"required"`
	Variant        string `json:"variant" binding:"required"`
	DeliveryTarget string `json:"delivery_target" binding:"required"`
}

// ConfirmPayment marks the order paid and fulfills it with one code from
// the requested pool. The code is committed as used only after it reaches
// the delivery target; any failure leaves the pool untouched.
// POST /api/v1/orders/:id/confirm-payment
func (h *CheckoutHandler) ConfirmPayment(c *gin.Context) {
	orderID := c.Param("id")

	var req ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := notifications.ValidateTarget(req.DeliveryTarget); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()

	order, err := h.orders.GetOrderByID(ctx, orderID)
	switch {
	case errors.Is(err, db.ErrOrderNotFound):
		// First contact with this order; record it from the webhook data.
		order = models.NewOrder(orderID, req.DeliveryTarget)
		if err := h.orders.CreateOrder(ctx, order); err != nil {
			h.logger.Error().Err(err).Str("order_id", orderID).Msg("failed to create order")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record order"})
			return
		}
	case err != nil:
		h.logger.Error().Err(err).Str("order_id", orderID).Msg("failed to load order")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load order"})
		return
	case order.Status == models.OrderStatusFulfilled:
		c.JSON(http.StatusConflict, gin.H{"error": "order_already_fulfilled"})
		return
	}

	if order.Status != models.OrderStatusPaid {
		if err := h.orders.SetOrderStatus(ctx, orderID, models.OrderStatusPaid); err != nil {
			h.logger.Error().Err(err).Str("order_id", orderID).Msg("failed to mark order paid")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update order"})
			return
		}
	}

	result, err := h.allocator.Allocate(ctx, fulfillment.Request{
		OrderID:        orderID,
		ProductID:      req.ProductID,
		Variant:        req.Variant,
		DeliveryTarget: req.DeliveryTarget,
		Actor:          actorFrom(c),
	})
	if err != nil {
		switch {
		case errors.Is(err, fulfillment.ErrInvalidRequest):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, fulfillment.ErrNoCodesAvailable):
			c.JSON(http.StatusConflict, gin.H{"error": "no_codes_available"})
		case errors.Is(err, fulfillment.ErrDeliveryFailed):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "delivery_failed"})
		default:
			h.logger.Error().Err(err).Str("order_id", orderID).Msg("allocation failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "allocation_failed"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":            true,
		"code_assigned": true,
		"code_id":       result.CodeID,
	})
}
