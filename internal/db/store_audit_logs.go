package db

import (
	"context"
	"fmt"

	"github.com/cardhaven/cardhaven/internal/models"
)

// AuditLogFilter defines filters for querying audit logs.
type AuditLogFilter struct {
	Action string
	Actor  string
	Limit  int
	Offset int
}

// CreateAuditLog inserts a new audit log entry. Entries are append-only;
// no update or delete methods exist on purpose.
func (db *DB) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO audit_logs (id, action, summary, actor, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, log.ID, string(log.Action), log.Summary, log.Actor, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// ListAuditLogs returns audit logs matching the filter, newest first.
func (db *DB) ListAuditLogs(ctx context.Context, filter AuditLogFilter) ([]*models.AuditLog, error) {
	query := `SELECT id, action, summary, actor, created_at FROM audit_logs WHERE 1=1`
	args, argIdx := []any{}, 1

	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, filter.Action)
		argIdx++
	}
	if filter.Actor != "" {
		query += fmt.Sprintf(" AND actor = $%d", argIdx)
		args = append(args, filter.Actor)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		var log models.AuditLog
		var actionStr string
		if err := rows.Scan(&log.ID, &actionStr, &log.Summary, &log.Actor, &log.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		log.Action = models.AuditAction(actionStr)
		logs = append(logs, &log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}

	return logs, nil
}

// CountAuditLogs returns the number of audit logs matching the filter.
func (db *DB) CountAuditLogs(ctx context.Context, filter AuditLogFilter) (int64, error) {
	query := `SELECT COUNT(*) FROM audit_logs WHERE 1=1`
	args, argIdx := []any{}, 1

	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, filter.Action)
		argIdx++
	}
	if filter.Actor != "" {
		query += fmt.Sprintf(" AND actor = $%d", argIdx)
		args = append(args, filter.Actor)
	}

	var count int64
	if err := db.Pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit logs: %w", err)
	}
	return count, nil
}
