package models

import "time"

// OrderStatus represents the payment state of an order as seen by this
// subsystem. Orders are owned by the surrounding shop; Cardhaven keeps a
// minimal read model so fulfillment and proof-access preconditions can be
// checked.
type OrderStatus string

const (
	// OrderStatusPending means payment has not been confirmed.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid means payment is confirmed and the order is eligible
	// for code allocation and proof access.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusFulfilled means a code has been allocated and delivered.
	OrderStatusFulfilled OrderStatus = "fulfilled"
)

// Order is the fulfillment-side view of a shop order. IDs are external
// identifiers minted by the shop, not UUIDs.
type Order struct {
	ID              string      `json:"id"`
	Status          OrderStatus `json:"status"`
	CustomerContact string      `json:"customer_contact,omitempty"`
	ProofObjectKey  *string     `json:"-"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// NewOrder creates a pending order record for an external order ID.
func NewOrder(id, customerContact string) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:              id,
		Status:          OrderStatusPending,
		CustomerContact: customerContact,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
