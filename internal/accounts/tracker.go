package accounts

import (
	"context"
	"log"
	"time"

	"github.com/yuegongzi/copilot-api/internal/copilot"
)

// StateStore persists per-account rate-limit state. Implementations can be
// in-memory (single instance) or distributed (Redis) so several gateway
// instances can share one account pool.
type StateStore interface {
	// Get returns the stored state for the account; the zero state when the
	// account has never been observed.
	Get(ctx context.Context, accountID string) (RateLimitState, error)

	// Put replaces the stored state for the account.
	Put(ctx context.Context, accountID string, state RateLimitState) error

	// Reset clears the stored state for the account.
	Reset(ctx context.Context, accountID string) error

	// Close releases resources.
	Close() error
}

// Tracker records the last-known rate-limit signal per account and derives
// cooldown windows from it. All mutation goes through Observe* methods; a
// cooldown, once set, only ever extends until it has passed.
type Tracker struct {
	store           StateStore
	defaultCooldown time.Duration
	logger          *log.Logger
}

// TrackerConfig holds configuration for the tracker.
type TrackerConfig struct {
	// Store defaults to MemoryStateStore.
	Store StateStore
	// DefaultCooldown applies on a rate-limited outcome when the backend
	// reports no reset time. Zero selects 5 minutes.
	DefaultCooldown time.Duration
}

// NewTracker creates a tracker.
func NewTracker(cfg TrackerConfig, logger *log.Logger) *Tracker {
	store := cfg.Store
	if store == nil {
		store = NewMemoryStateStore()
	}
	cooldown := cfg.DefaultCooldown
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Tracker{store: store, defaultCooldown: cooldown, logger: logger}
}

// State returns the current rate-limit state for the account.
func (t *Tracker) State(ctx context.Context, accountID string) RateLimitState {
	state, err := t.store.Get(ctx, accountID)
	if err != nil {
		// Fail open: an unreadable store must not block all selection.
		if t.logger != nil {
			t.logger.Printf("rate state read failed account=%s err=%v", accountID, err)
		}
		return RateLimitState{}
	}
	return state
}

// ObserveSuccess records remaining-quota/reset headers from a successful
// response. A success never shortens an active cooldown.
func (t *Tracker) ObserveSuccess(ctx context.Context, accountID string, info copilot.RateLimitInfo) {
	state := t.State(ctx, accountID)
	if info.Remaining != nil {
		state.Remaining = info.Remaining
	}
	if info.ResetAt != nil {
		state.ResetAt = info.ResetAt
	}
	t.put(ctx, accountID, state)
}

// ObserveRateLimited puts the account into cooldown until the backend's
// reported reset time, or the conservative default when absent. When the
// backend reports both an absolute reset and a retry-after duration, the
// later timestamp wins.
func (t *Tracker) ObserveRateLimited(ctx context.Context, accountID string, info copilot.RateLimitInfo) {
	now := time.Now()
	until := now.Add(t.defaultCooldown)
	if info.ResetAt != nil && info.ResetAt.After(now) {
		until = *info.ResetAt
	}
	if info.RetryAfter != nil {
		if byRetry := now.Add(*info.RetryAfter); byRetry.After(until) {
			until = byRetry
		}
	}
	zero := 0
	state := t.State(ctx, accountID)
	state.Remaining = &zero
	if info.ResetAt != nil {
		state.ResetAt = info.ResetAt
	}
	state.CooldownUntil = laterOf(state.CooldownUntil, until)
	t.put(ctx, accountID, state)
	if t.logger != nil {
		t.logger.Printf("account cooling down account=%s until=%s", accountID, state.CooldownUntil.Format(time.RFC3339))
	}
}

// Penalize puts the account into a short cooldown after a refresh failure.
func (t *Tracker) Penalize(ctx context.Context, accountID string, d time.Duration) {
	state := t.State(ctx, accountID)
	state.CooldownUntil = laterOf(state.CooldownUntil, time.Now().Add(d))
	t.put(ctx, accountID, state)
}

// Reset clears the account's recorded state. Exposed for the admin surface.
func (t *Tracker) Reset(ctx context.Context, accountID string) error {
	return t.store.Reset(ctx, accountID)
}

// Close releases the underlying store.
func (t *Tracker) Close() error {
	return t.store.Close()
}

func (t *Tracker) put(ctx context.Context, accountID string, state RateLimitState) {
	if err := t.store.Put(ctx, accountID, state); err != nil && t.logger != nil {
		t.logger.Printf("rate state write failed account=%s err=%v", accountID, err)
	}
}

func laterOf(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
