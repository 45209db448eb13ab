// Package fulfillment allocates exactly one unused code per paid order and
// delivers it to the customer before the allocation is committed.
package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cardhaven/cardhaven/internal/crypto"
	"github.com/cardhaven/cardhaven/internal/db"
	"github.com/cardhaven/cardhaven/internal/metrics"
	"github.com/cardhaven/cardhaven/internal/models"
	"github.com/rs/zerolog"
)

// Sentinel errors for common allocation errors.
var (
	// ErrNoCodesAvailable means the (product, variant) pool has no unused
	// codes left.
	ErrNoCodesAvailable = errors.New("no unused codes available for this product")
	// ErrCodeCorrupted means the selected code could not be decrypted. The
	// allocation is rolled back and the record stays unused for operator
	// inspection.
	ErrCodeCorrupted = errors.New("stored code could not be decrypted")
	// ErrDeliveryFailed means the delivery channel rejected the code. The
	// allocation is rolled back so the code can be retried.
	ErrDeliveryFailed = errors.New("code delivery failed")
	// ErrInvalidRequest means the allocation request is missing required
	// fields.
	ErrInvalidRequest = errors.New("invalid allocation request")
)

// Store defines the persistence operations the allocator needs.
type Store interface {
	AllocateOldestUnused(ctx context.Context, orderID, productID, variant string, fn func(code *models.Code) error) (*models.Code, error)
	SetOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) error
}

// Notifier delivers a plaintext code to a customer-supplied target.
type Notifier interface {
	DeliverCode(ctx context.Context, plaintext, target string) error
}

// AuditRecorder records fulfillment events without blocking the caller.
type AuditRecorder interface {
	Record(ctx context.Context, action models.AuditAction, summary, actor string)
}

// Request describes a single allocation attempt for a paid order.
type Request struct {
	OrderID        string
	ProductID      string
	Variant        string
	DeliveryTarget string
	Actor          string
}

// Result reports a completed allocation.
type Result struct {
	CodeID        string
	MaskedPreview string
}

// Allocator hands out codes exactly once. Decryption and delivery both run
// while the selected row is locked, so any failure rolls the code back to
// the unused pool.
type Allocator struct {
	store    Store
	keys     *crypto.KeyManager
	notifier Notifier
	audit    AuditRecorder
	logger   zerolog.Logger
}

// NewAllocator creates an allocator.
func NewAllocator(store Store, keys *crypto.KeyManager, notifier Notifier, audit AuditRecorder, logger zerolog.Logger) *Allocator {
	return &Allocator{
		store:    store,
		keys:     keys,
		notifier: notifier,
		audit:    audit,
		logger:   logger.With().Str("component", "fulfillment").Logger(),
	}
}

// Allocate picks the oldest unused code for the requested pool, decrypts it,
// delivers it to the request's target, and commits the code as used only
// after delivery succeeds. Concurrent requests for the same pool never
// receive the same code.
func (a *Allocator) Allocate(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		metrics.Allocations.WithLabelValues(metrics.ResultInvalid).Inc()
		return nil, err
	}

	actor := req.Actor
	if actor == "" {
		actor = "system"
	}

	start := time.Now()
	var deliveryErr error

	code, err := a.store.AllocateOldestUnused(ctx, req.OrderID, req.ProductID, req.Variant, func(code *models.Code) error {
		plaintext, err := a.keys.Open(code.Envelope)
		if err != nil {
			a.logger.Error().Err(err).
				Str("code_id", code.ID.String()).
				Str("order_id", req.OrderID).
				Msg("allocated code failed to decrypt, rolling back")
			return fmt.Errorf("%w: %v", ErrCodeCorrupted, err)
		}

		if err := a.notifier.DeliverCode(ctx, plaintext, req.DeliveryTarget); err != nil {
			deliveryErr = err
			return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
		}
		return nil
	})
	metrics.AllocationDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		switch {
		case errors.Is(err, db.ErrNoUnusedCodes):
			metrics.Allocations.WithLabelValues(metrics.ResultNoStock).Inc()
			a.logger.Warn().
				Str("order_id", req.OrderID).
				Str("product_id", req.ProductID).
				Str("variant", req.Variant).
				Msg("allocation failed, pool exhausted")
			return nil, ErrNoCodesAvailable
		case errors.Is(err, ErrCodeCorrupted):
			metrics.Allocations.WithLabelValues(metrics.ResultCrypto).Inc()
			return nil, err
		case errors.Is(err, ErrDeliveryFailed):
			metrics.Allocations.WithLabelValues(metrics.ResultDelivery).Inc()
			a.logger.Warn().Err(deliveryErr).
				Str("order_id", req.OrderID).
				Msg("delivery failed, allocation rolled back")
			return nil, err
		default:
			metrics.Allocations.WithLabelValues(metrics.ResultError).Inc()
			return nil, fmt.Errorf("failed to allocate code: %w", err)
		}
	}

	metrics.Allocations.WithLabelValues(metrics.ResultSuccess).Inc()

	if err := a.store.SetOrderStatus(ctx, req.OrderID, models.OrderStatusFulfilled); err != nil {
		// The code is already committed as used; the order record lagging
		// behind is recoverable by the operator.
		a.logger.Error().Err(err).
			Str("order_id", req.OrderID).
			Msg("failed to mark order fulfilled after allocation")
	}

	a.audit.Record(ctx, models.AuditActionAllocateCode,
		fmt.Sprintf("allocated code %s (%s) to order %s", code.ID, code.MaskedPreview, req.OrderID),
		actor)

	a.logger.Info().
		Str("code_id", code.ID.String()).
		Str("order_id", req.OrderID).
		Str("product_id", req.ProductID).
		Str("variant", req.Variant).
		Str("masked", code.MaskedPreview).
		Msg("code allocated and delivered")

	return &Result{CodeID: code.ID.String(), MaskedPreview: code.MaskedPreview}, nil
}

func (r Request) validate() error {
	if r.OrderID == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidRequest)
	}
	if r.ProductID == "" {
		return fmt.Errorf("%w: product id is required", ErrInvalidRequest)
	}
	if r.Variant == "" {
		return fmt.Errorf("%w: variant is required", ErrInvalidRequest)
	}
	if r.DeliveryTarget == "" {
		return fmt.Errorf("%w: delivery target is required", ErrInvalidRequest)
	}
	return nil
}
