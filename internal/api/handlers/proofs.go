package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cardhaven/cardhaven/internal/access"
	"github.com/cardhaven/cardhaven/internal/db"
	"github.com/cardhaven/cardhaven/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// ProofOrderStore defines the order lookup the proofs handler needs.
type ProofOrderStore interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
}

// AccessBroker issues and redeems single-use proof-access grants.
type AccessBroker interface {
	Issue(ctx context.Context, orderID, objectKey, requestIP string, ttl time.Duration) (*access.Grant, error)
	Redeem(token, orderID, requestIP string) error
}

// ProofsHandler handles single-use access to payment-proof images.
type ProofsHandler struct {
	orders ProofOrderStore
	broker AccessBroker
	audit  AuditRecorder
	logger zerolog.Logger
}

// NewProofsHandler creates a new ProofsHandler.
func NewProofsHandler(orders ProofOrderStore, broker AccessBroker, audit AuditRecorder, logger zerolog.Logger) *ProofsHandler {
	return &ProofsHandler{
		orders: orders,
		broker: broker,
		audit:  audit,
		logger: logger.With().Str("component", "proofs_handler").Logger(),
	}
}

// RegisterRoutes registers proof access routes on the given router group.
func (h *ProofsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/orders/:id/proof-access", h.Grant)
	r.GET("/orders/:id/proof-access/validate", h.Validate)
}

// GrantRequest is the request body for requesting proof access.
type GrantRequest struct {
	TTLSeconds int `json:"ttl_seconds"`
}

// Grant issues a one-time signed link to the order's payment-proof image.
// In single-use mode each order gets exactly one issuance attempt.
// POST /api/v1/orders/:id/proof-access
func (h *ProofsHandler) Grant(c *gin.Context) {
	orderID := c.Param("id")

	// The body is optional; an absent body means the default TTL.
	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.orders.GetOrderByID(c.Request.Context(), orderID)
	if err != nil {
		if errors.Is(err, db.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order_not_found"})
			return
		}
		h.logger.Error().Err(err).Str("order_id", orderID).Msg("failed to load order")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load order"})
		return
	}

	if order.Status != models.OrderStatusPaid && order.Status != models.OrderStatusFulfilled {
		c.JSON(http.StatusForbidden, gin.H{"error": "order_not_paid"})
		return
	}
	if order.ProofObjectKey == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_payment_proof"})
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	grant, err := h.broker.Issue(c.Request.Context(), orderID, *order.ProofObjectKey, c.ClientIP(), ttl)
	if err != nil {
		if errors.Is(err, access.ErrAlreadyGranted) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "proof_access_already_granted"})
			return
		}
		h.logger.Error().Err(err).Str("order_id", orderID).Msg("failed to issue proof access")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue proof access"})
		return
	}

	h.audit.Record(c.Request.Context(), models.AuditActionProofAccess,
		fmt.Sprintf("granted proof access for order %s to %s", orderID, c.ClientIP()),
		actorFrom(c))

	c.JSON(http.StatusOK, grant)
}

// Validate consumes a proof-access token. A token validates successfully at
// most once, only from the address it was issued to, and only for its order.
// GET /api/v1/orders/:id/proof-access/validate?token=
func (h *ProofsHandler) Validate(c *gin.Context) {
	orderID := c.Param("id")
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}

	if err := h.broker.Redeem(token, orderID, c.ClientIP()); err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true})
}
