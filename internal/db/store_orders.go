package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cardhaven/cardhaven/internal/models"
	"github.com/jackc/pgx/v5"
)

// CreateOrder inserts a new order record.
func (db *DB) CreateOrder(ctx context.Context, order *models.Order) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO orders (id, status, customer_contact, proof_object_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, order.ID, string(order.Status), order.CustomerContact, order.ProofObjectKey,
		order.CreatedAt, order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

// GetOrderByID returns an order by its external identifier.
func (db *DB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	var statusStr string
	err := db.Pool.QueryRow(ctx, `
		SELECT id, status, customer_contact, proof_object_key, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, id).Scan(&order.ID, &statusStr, &order.CustomerContact, &order.ProofObjectKey,
		&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	order.Status = models.OrderStatus(statusStr)
	return &order, nil
}

// SetOrderStatus updates an order's payment state.
func (db *DB) SetOrderStatus(ctx context.Context, id string, status models.OrderStatus) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1
	`, id, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// SetOrderProofKey records the object-store key of an uploaded payment proof.
func (db *DB) SetOrderProofKey(ctx context.Context, id, objectKey string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE orders SET proof_object_key = $2, updated_at = $3 WHERE id = $1
	`, id, objectKey, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set order proof key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}
