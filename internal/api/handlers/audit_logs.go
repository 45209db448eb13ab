package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/cardhaven/cardhaven/internal/db"
	"github.com/cardhaven/cardhaven/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	auditLogDefaultLimit = 50
	auditLogMaxLimit     = 200
)

// AuditLogStore defines the audit log read operations the handler needs.
type AuditLogStore interface {
	ListAuditLogs(ctx context.Context, filter db.AuditLogFilter) ([]*models.AuditLog, error)
	CountAuditLogs(ctx context.Context, filter db.AuditLogFilter) (int64, error)
}

// AuditLogsHandler handles audit log HTTP endpoints.
type AuditLogsHandler struct {
	store  AuditLogStore
	logger zerolog.Logger
}

// NewAuditLogsHandler creates a new AuditLogsHandler.
func NewAuditLogsHandler(store AuditLogStore, logger zerolog.Logger) *AuditLogsHandler {
	return &AuditLogsHandler{
		store:  store,
		logger: logger.With().Str("component", "audit_logs_handler").Logger(),
	}
}

// RegisterRoutes registers audit log routes on the given router group.
func (h *AuditLogsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/audit-logs", h.List)
}

// AuditLogListResponse is the response for listing audit logs.
type AuditLogListResponse struct {
	AuditLogs  []*models.AuditLog `json:"audit_logs"`
	TotalCount int64              `json:"total_count"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

// List returns recent audit log entries, newest first.
// GET /api/v1/audit-logs
// Query params: action, actor, limit, offset
func (h *AuditLogsHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(auditLogDefaultLimit)))
	if limit <= 0 {
		limit = auditLogDefaultLimit
	}
	if limit > auditLogMaxLimit {
		limit = auditLogMaxLimit
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if offset < 0 {
		offset = 0
	}

	filter := db.AuditLogFilter{
		Action: c.Query("action"),
		Actor:  c.Query("actor"),
		Limit:  limit,
		Offset: offset,
	}

	logs, err := h.store.ListAuditLogs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list audit logs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list audit logs"})
		return
	}

	totalCount, err := h.store.CountAuditLogs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to count audit logs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count audit logs"})
		return
	}

	c.JSON(http.StatusOK, AuditLogListResponse{
		AuditLogs:  logs,
		TotalCount: totalCount,
		Limit:      limit,
		Offset:     offset,
	})
}
