package accounts

import (
	"context"
	"sync"
)

// MemoryStateStore keeps rate-limit state in process memory. Suitable for
// single-instance deployments; use RedisStateStore when several instances
// share one account pool.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]RateLimitState
}

// NewMemoryStateStore creates an in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]RateLimitState)}
}

// Get returns the stored state for the account.
func (s *MemoryStateStore) Get(ctx context.Context, accountID string) (RateLimitState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[accountID], nil
}

// Put replaces the stored state for the account.
func (s *MemoryStateStore) Put(ctx context.Context, accountID string, state RateLimitState) error {
	s.mu.Lock()
	s.states[accountID] = state
	s.mu.Unlock()
	return nil
}

// Reset clears the stored state for the account.
func (s *MemoryStateStore) Reset(ctx context.Context, accountID string) error {
	s.mu.Lock()
	delete(s.states, accountID)
	s.mu.Unlock()
	return nil
}

// Close releases resources.
func (s *MemoryStateStore) Close() error {
	return nil
}
