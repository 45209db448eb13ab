// Package models defines the data structures shared across Cardhaven.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CodeStatus represents the lifecycle state of a stored top-up code.
type CodeStatus string

const (
	// CodeStatusUnused means the code is available for allocation.
	CodeStatusUnused CodeStatus = "unused"
	// CodeStatusUsed means the code has been delivered and linked to an order.
	CodeStatusUsed CodeStatus = "used"
)

// ParseCodeStatus validates a status string from client input.
func ParseCodeStatus(s string) (CodeStatus, error) {
	switch CodeStatus(s) {
	case CodeStatusUnused, CodeStatusUsed:
		return CodeStatus(s), nil
	default:
		return "", fmt.Errorf("invalid code status %q", s)
	}
}

// Code represents a single encrypted top-up code in the inventory.
// The plaintext only ever exists transiently inside the allocator;
// Envelope is the versioned AES-GCM ciphertext and is never serialized
// in API responses.
type Code struct {
	ID            uuid.UUID  `json:"id"`
	ProductID     string     `json:"product_id"`
	Variant       string     `json:"variant"`
	Envelope      string     `json:"-"`
	MaskedPreview string     `json:"masked_preview"`
	Status        CodeStatus `json:"status"`
	LinkedOrderID *string    `json:"linked_order_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UsedAt        *time.Time `json:"used_at,omitempty"`
}

// NewCode creates an unused Code for the given product/variant pool.
func NewCode(productID, variant, envelope, maskedPreview string) *Code {
	return &Code{
		ID:            uuid.New(),
		ProductID:     productID,
		Variant:       variant,
		Envelope:      envelope,
		MaskedPreview: maskedPreview,
		Status:        CodeStatusUnused,
		CreatedAt:     time.Now().UTC(),
	}
}
