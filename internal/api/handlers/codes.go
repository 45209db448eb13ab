// Package handlers implements the HTTP endpoints of the Cardhaven API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cardhaven/cardhaven/internal/db"
	"github.com/cardhaven/cardhaven/internal/inventory"
	"github.com/cardhaven/cardhaven/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// InventoryService defines the inventory operations the codes handler needs.
type InventoryService interface {
	Import(ctx context.Context, productID, variant string, rawCodes []string) (inventory.ImportResult, error)
	List(ctx context.Context, filter db.CodeFilter, page, limit int) ([]*models.Code, int64, error)
	Override(ctx context.Context, id uuid.UUID, status *models.CodeStatus, linkedOrderID *string) (*models.Code, error)
}

// AuditRecorder records administrative events without blocking the request.
type AuditRecorder interface {
	Record(ctx context.Context, action models.AuditAction, summary, actor string)
}

// CodesHandler handles code inventory HTTP endpoints.
type CodesHandler struct {
	service InventoryService
	audit   AuditRecorder
	logger  zerolog.Logger
}

// NewCodesHandler creates a new CodesHandler.
func NewCodesHandler(service InventoryService, audit AuditRecorder, logger zerolog.Logger) *CodesHandler {
	return &CodesHandler{
		service: service,
		audit:   audit,
		logger:  logger.With().Str("component", "codes_handler").Logger(),
	}
}

// RegisterRoutes registers code inventory routes on the given router group.
func (h *CodesHandler) RegisterRoutes(r *gin.RouterGroup) {
	codes := r.Group("/codes")
	{
		codes.POST("/import", h.Import)
		codes.GET("", h.List)
		codes.PATCH("/:id", h.Override)
	}
}

// ImportRequest is the request body for importing codes. Codes accepts
// either a newline-delimited string or a JSON array of strings.
type ImportRequest struct {
	ProductID string          `json:"product_id" binding:"required"`
	Variant   string          `json:"variant" binding:"required"`
	Codes     json.RawMessage `json:"codes" binding:"required"`
}

// rawCodes normalizes the two accepted shapes of the codes field.
func (r *ImportRequest) rawCodes() ([]string, error) {
	var list []string
	if err := json.Unmarshal(r.Codes, &list); err == nil {
		return list, nil
	}

	var block string
	if err := json.Unmarshal(r.Codes, &block); err == nil {
		return inventory.SplitRawCodes(block), nil
	}

	return nil, errors.New("codes must be a string or an array of strings")
}

// Import adds a batch of codes to the inventory.
// POST /api/v1/codes/import
func (h *CodesHandler) Import(c *gin.Context) {
	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rawCodes, err := req.rawCodes()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(rawCodes) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no codes provided"})
		return
	}

	result, err := h.service.Import(c.Request.Context(), req.ProductID, req.Variant, rawCodes)
	if err != nil {
		h.logger.Error().Err(err).
			Str("product_id", req.ProductID).
			Msg("code import failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to import codes"})
		return
	}

	h.audit.Record(c.Request.Context(), models.AuditActionImportCodes,
		fmt.Sprintf("imported %d codes into %s/%s (%d skipped, %d invalid)",
			result.Created, req.ProductID, req.Variant, result.Skipped, result.Invalid),
		actorFrom(c))

	c.JSON(http.StatusOK, result)
}

// CodeListResponse is the response for listing codes.
type CodeListResponse struct {
	Codes      []*models.Code `json:"codes"`
	TotalCount int64          `json:"total_count"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
}

// List returns one page of masked code records.
// GET /api/v1/codes
// Query params: product_id, variant, status, page, limit
func (h *CodesHandler) List(c *gin.Context) {
	status := c.Query("status")
	if status != "" {
		if _, err := models.ParseCodeStatus(status); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	filter := db.CodeFilter{
		ProductID: c.Query("product_id"),
		Variant:   c.Query("variant"),
		Status:    status,
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	codes, total, err := h.service.List(c.Request.Context(), filter, page, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list codes")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list codes"})
		return
	}

	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = inventory.DefaultPageSize
	} else if limit > inventory.MaxPageSize {
		limit = inventory.MaxPageSize
	}

	c.JSON(http.StatusOK, CodeListResponse{
		Codes:      codes,
		TotalCount: total,
		Page:       page,
		Limit:      limit,
	})
}

// OverrideRequest is the request body for a manual status correction.
type OverrideRequest struct {
	Status        *string `json:"status"`
	LinkedOrderID *string `json:"linked_order_id"`
}

// Override applies a manual correction to a single code record.
// PATCH /api/v1/codes/:id
func (h *CodesHandler) Override(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid code id"})
		return
	}

	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Status == nil && req.LinkedOrderID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}

	var status *models.CodeStatus
	if req.Status != nil {
		parsed, err := models.ParseCodeStatus(*req.Status)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		status = &parsed
	}

	code, err := h.service.Override(c.Request.Context(), id, status, req.LinkedOrderID)
	if err != nil {
		if errors.Is(err, db.ErrCodeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "code not found"})
			return
		}
		h.logger.Error().Err(err).Str("code_id", id.String()).Msg("failed to override code")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update code"})
		return
	}

	h.audit.Record(c.Request.Context(), models.AuditActionOverrideCode,
		fmt.Sprintf("overrode code %s to status %s", code.ID, code.Status),
		actorFrom(c))

	c.JSON(http.StatusOK, code)
}

// actorFrom identifies the operator behind an admin request. The shared-key
// auth model has no per-user identity, so callers may label themselves with
// the X-Actor header.
func actorFrom(c *gin.Context) string {
	if actor := c.GetHeader("X-Actor"); actor != "" {
		return actor
	}
	return "admin-api"
}
