package access

import (
	"context"
	"sync"
)

// MemoryIssuanceStore tracks issued grants in process memory. Suitable for
// single-instance deployments; the once-per-order rule does not survive a
// restart.
type MemoryIssuanceStore struct {
	mu     sync.Mutex
	issued map[string]string
}

// NewMemoryIssuanceStore creates an in-memory issuance store.
func NewMemoryIssuanceStore() *MemoryIssuanceStore {
	return &MemoryIssuanceStore{issued: make(map[string]string)}
}

// TryIssue claims the grant for an order. The first caller wins; everyone
// after gets false.
func (s *MemoryIssuanceStore) TryIssue(_ context.Context, orderID, ip string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.issued[orderID]; exists {
		return false, nil
	}
	s.issued[orderID] = ip
	return true, nil
}
