package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cardhaven/cardhaven/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CodeFilter defines filters for querying the code inventory.
type CodeFilter struct {
	ProductID string
	Variant   string
	Status    string
	Limit     int
	Offset    int
}

const codeColumns = `id, product_id, variant, envelope, masked_preview, status, linked_order_id, created_at, used_at`

// CreateCode inserts a new code record.
func (db *DB) CreateCode(ctx context.Context, code *models.Code) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO codes (id, product_id, variant, envelope, masked_preview, status, linked_order_id, created_at, used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, code.ID, code.ProductID, code.Variant, code.Envelope, code.MaskedPreview,
		string(code.Status), code.LinkedOrderID, code.CreatedAt, code.UsedAt)
	if err != nil {
		return fmt.Errorf("create code: %w", err)
	}
	return nil
}

// GetCodeByID returns a single code record by ID.
func (db *DB) GetCodeByID(ctx context.Context, id uuid.UUID) (*models.Code, error) {
	row := db.Pool.QueryRow(ctx, `SELECT `+codeColumns+` FROM codes WHERE id = $1`, id)
	code, err := scanCode(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("get code: %w", err)
	}
	return code, nil
}

// ListCodes returns code records matching the filter, newest first.
func (db *DB) ListCodes(ctx context.Context, filter CodeFilter) ([]*models.Code, error) {
	query := `SELECT ` + codeColumns + ` FROM codes WHERE 1=1`
	args, argIdx := []any{}, 1

	query, args, argIdx = appendCodeFilters(query, args, argIdx, filter)

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
		return nil, fmt.Errorf("list codes: %w", err)
	}
	defer rows.Close()

	var codes []*models.Code
	for rows.Next() {
		code, err := scanCode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan code: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate codes: %w", err)
	}

	return codes, nil
}

// CountCodes returns the number of code records matching the filter.
func (db *DB) CountCodes(ctx context.Context, filter CodeFilter) (int64, error) {
	query := `SELECT COUNT(*) FROM codes WHERE 1=1`
	args, argIdx := []any{}, 1
	query, args, _ = appendCodeFilters(query, args, argIdx, filter)

	var count int64
	if err := db.Pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count codes: %w", err)
	}
	return count, nil
}

// OverrideCodeStatus applies an administrative status correction. Setting
// status to used requires a linked order and stamps used_at; setting it to
// unused clears both. A nil status with a non-nil linkedOrderID relinks the
// record without touching the status.
func (db *DB) OverrideCodeStatus(ctx context.Context, id uuid.UUID, status *models.CodeStatus, linkedOrderID *string) (*models.Code, error) {
	current, err := db.GetCodeByID(ctx, id)
	if err != nil {
		return nil, err
	}

	newStatus := current.Status
	if status != nil {
		newStatus = *status
	}

	newLink := current.LinkedOrderID
	if linkedOrderID != nil {
		newLink = linkedOrderID
	}

	var usedAt *time.Time
	switch newStatus {
	case models.CodeStatusUsed:
		if newLink == nil {
			return nil, fmt.Errorf("override code: used status requires linked_order_id")
		}
		now := time.Now().UTC()
		if current.UsedAt != nil {
			usedAt = current.UsedAt
		} else {
			usedAt = &now
		}
	case models.CodeStatusUnused:
		newLink = nil
		usedAt = nil
	}

	row := db.Pool.QueryRow(ctx, `
		UPDATE codes
		SET status = $2, linked_order_id = $3, used_at = $4
		WHERE id = $1
		RETURNING `+codeColumns, id, string(newStatus), newLink, usedAt)

	code, err := scanCode(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("override code: %w", err)
	}
	return code, nil
}

// AllocateOldestUnused claims the oldest unused code for (productID, variant)
// under an exclusive row lock, marks it used and linked to orderID, then runs
// fn while the transaction is held open. Any error from fn rolls the whole
// transaction back, leaving the record unused. Returns ErrNoUnusedCodes when
// the pool is empty.
//
// The UPDATE runs before fn so that constraint violations, in particular the
// one-code-per-order index, surface before the plaintext is handed to the
// delivery callback.
//
// SKIP LOCKED keeps concurrent allocations from queueing behind one another
// on the same row: each transaction claims a distinct record, so N unused
// codes satisfy exactly N concurrent calls.
func (db *DB) AllocateOldestUnused(ctx context.Context, orderID, productID, variant string, fn func(code *models.Code) error) (*models.Code, error) {
	var allocated *models.Code

	err := db.ExecTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT `+codeColumns+`
			FROM codes
			WHERE product_id = $1 AND variant = $2 AND status = 'unused'
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		`, productID, variant)

		code, err := scanCode(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNoUnusedCodes
			}
			return fmt.Errorf("select unused code: %w", err)
		}

		usedAt := time.Now().UTC()
		if _, err := tx.Exec(ctx, `
			UPDATE codes
			SET status = 'used', linked_order_id = $2, used_at = $3
			WHERE id = $1
		`, code.ID, orderID, usedAt); err != nil {
			return fmt.Errorf("mark code used: %w", err)
		}

		if err := fn(code); err != nil {
			return err
		}

		code.Status = models.CodeStatusUsed
		code.LinkedOrderID = &orderID
		code.UsedAt = &usedAt
		allocated = code
		return nil
	})
	if err != nil {
		return nil, err
	}

	return allocated, nil
}

// scanCode scans a single code row.
func scanCode(row pgx.Row) (*models.Code, error) {
	var code models.Code
	var statusStr string
	if err := row.Scan(&code.ID, &code.ProductID, &code.Variant, &code.Envelope,
		&code.MaskedPreview, &statusStr, &code.LinkedOrderID, &code.CreatedAt, &code.UsedAt); err != nil {
		return nil, err
	}
	code.Status = models.CodeStatus(statusStr)
	return &code, nil
}

// appendCodeFilters appends WHERE clauses for the given filter to the query.
func appendCodeFilters(query string, args []any, argIdx int, filter CodeFilter) (string, []any, int) {
	if filter.ProductID != "" {
		query += fmt.Sprintf(" AND product_id = $%d", argIdx)
		args = append(args, filter.ProductID)
		argIdx++
	}
	if filter.Variant != "" {
		query += fmt.Sprintf(" AND variant = $%d", argIdx)
		args = append(args, filter.Variant)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}
	return query, args, argIdx
}
