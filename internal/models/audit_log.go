package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action that was audited.
type AuditAction string

const (
	// AuditActionImportCodes covers administrative code pool imports.
	AuditActionImportCodes AuditAction = "import_codes"
	// AuditActionOverrideCode covers manual status corrections.
	AuditActionOverrideCode AuditAction = "override_code"
	// AuditActionAllocateCode covers successful exactly-once allocations.
	AuditActionAllocateCode AuditAction = "allocate_code"
	// AuditActionProofAccess covers signed proof-image access grants.
	AuditActionProofAccess AuditAction = "proof_access"
)

// AuditLog is a single append-only audit entry. Entries are never mutated
// or deleted by this subsystem.
type AuditLog struct {
	ID        uuid.UUID   `json:"id"`
	Action    AuditAction `json:"action"`
	Summary   string      `json:"summary"`
	Actor     string      `json:"actor"`
	CreatedAt time.Time   `json:"created_at"`
}

// NewAuditLog creates a new AuditLog entry.
func NewAuditLog(action AuditAction, summary, actor string) *AuditLog {
	return &AuditLog{
		ID:        uuid.New(),
		Action:    action,
		Summary:   summary,
		Actor:     actor,
		CreatedAt: time.Now().UTC(),
	}
}
