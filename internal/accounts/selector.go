package accounts

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/yuegongzi/copilot-api/internal/copilot"
)

// ErrNoAccountAvailable is returned when every account is cooling down or
// failed to produce a usable token within the attempt budget.
var ErrNoAccountAvailable = errors.New("no account available")

// OutcomeKind classifies how a backend request ended for account-health
// purposes.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRateLimited
	OutcomeAuthFailed
	OutcomeError
)

// Outcome is reported back to the selector after every backend call.
type Outcome struct {
	Kind      OutcomeKind
	RateLimit copilot.RateLimitInfo
}

// Selection is a granted account plus the token to use for the request.
type Selection struct {
	Account Account
	Token   copilot.AccessToken
}

// SelectorConfig holds configuration for the selector.
type SelectorConfig struct {
	// MaxAttempts bounds how many accounts one Acquire call may try. Zero
	// selects min(number of accounts, 3).
	MaxAttempts int
	// RefreshFailureCooldown is the short cooldown applied to an account
	// whose token refresh failed. Zero selects 60s.
	RefreshFailureCooldown time.Duration
}

// Selector chooses a usable account per request. Among accounts whose
// cooldown has passed it prefers the largest known remaining quota and falls
// back to round-robin while quotas are unknown.
type Selector struct {
	provider ConfigProvider
	tokens   *TokenStore
	tracker  *Tracker
	cfg      SelectorConfig
	logger   *log.Logger

	mu sync.Mutex
	rr int
}

// NewSelector creates a selector over the provider's accounts.
func NewSelector(provider ConfigProvider, tokens *TokenStore, tracker *Tracker, cfg SelectorConfig, logger *log.Logger) *Selector {
	if cfg.RefreshFailureCooldown <= 0 {
		cfg.RefreshFailureCooldown = time.Minute
	}
	return &Selector{
		provider: provider,
		tokens:   tokens,
		tracker:  tracker,
		cfg:      cfg,
		logger:   logger,
	}
}

// Acquire picks an account and guarantees a fresh access token for it. It
// tries the next-best account after a refresh failure, up to the attempt
// budget, then returns ErrNoAccountAvailable.
func (s *Selector) Acquire(ctx context.Context) (Selection, error) {
	all, err := s.provider.ListAccounts(ctx)
	if err != nil {
		return Selection{}, err
	}
	if len(all) == 0 {
		return Selection{}, ErrNoAccountAvailable
	}

	attempts := s.cfg.MaxAttempts
	if attempts <= 0 {
		attempts = len(all)
		if attempts > 3 {
			attempts = 3
		}
	}

	tried := map[string]bool{}
	for attempt := 0; attempt < attempts; attempt++ {
		account, ok := s.pick(ctx, all, tried)
		if !ok {
			break
		}
		tried[account.ID] = true

		token, err := s.tokens.EnsureToken(ctx, account)
		if err != nil {
			if ctx.Err() != nil {
				return Selection{}, ctx.Err()
			}
			if s.logger != nil {
				s.logger.Printf("token refresh failed account=%s err=%v", account.ID, err)
			}
			s.tracker.Penalize(ctx, account.ID, s.cfg.RefreshFailureCooldown)
			continue
		}
		return Selection{Account: account, Token: token}, nil
	}
	return Selection{}, ErrNoAccountAvailable
}

// Report feeds a request outcome back into the account-health state.
func (s *Selector) Report(ctx context.Context, accountID string, outcome Outcome) {
	switch outcome.Kind {
	case OutcomeSuccess:
		s.tracker.ObserveSuccess(ctx, accountID, outcome.RateLimit)
	case OutcomeRateLimited:
		s.tracker.ObserveRateLimited(ctx, accountID, outcome.RateLimit)
	case OutcomeAuthFailed:
		// Force a refresh on next acquisition and briefly step aside so the
		// retry lands on a different account first.
		s.tokens.Invalidate(accountID)
		s.tracker.Penalize(ctx, accountID, s.cfg.RefreshFailureCooldown)
	case OutcomeError:
		// Transient upstream errors carry no account-health signal.
	}
}

// Snapshot reports the pool state for the admin surface.
func (s *Selector) Snapshot(ctx context.Context) ([]AccountStatus, error) {
	all, err := s.provider.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]AccountStatus, 0, len(all))
	for _, acc := range all {
		state := s.tracker.State(ctx, acc.ID)
		out = append(out, AccountStatus{
			ID:          acc.ID,
			Login:       acc.Login,
			RateLimit:   state,
			CoolingDown: state.CoolingDown(now),
		})
	}
	return out, nil
}

// ResetAccount clears recorded rate-limit state for one account.
func (s *Selector) ResetAccount(ctx context.Context, accountID string) error {
	return s.tracker.Reset(ctx, accountID)
}

// AccountStatus is the admin view of one pool entry.
type AccountStatus struct {
	ID          string         `json:"id"`
	Login       string         `json:"login"`
	RateLimit   RateLimitState `json:"rate_limit"`
	CoolingDown bool           `json:"cooling_down"`
}

// pick applies the selection policy over accounts not yet tried in this
// Acquire call: skip cooldowns, prefer the largest known remaining quota,
// round-robin among accounts with unknown quota.
func (s *Selector) pick(ctx context.Context, all []Account, tried map[string]bool) (Account, bool) {
	now := time.Now()
	var (
		best      Account
		bestQuota = -1
		unknown   []Account
		haveBest  bool
	)
	for _, acc := range all {
		if tried[acc.ID] {
			continue
		}
		state := s.tracker.State(ctx, acc.ID)
		if state.CoolingDown(now) {
			continue
		}
		if state.Remaining == nil {
			unknown = append(unknown, acc)
			continue
		}
		if *state.Remaining > bestQuota {
			best = acc
			bestQuota = *state.Remaining
			haveBest = true
		}
	}
	if haveBest && bestQuota > 0 {
		return best, true
	}
	if len(unknown) > 0 {
		s.mu.Lock()
		idx := s.rr % len(unknown)
		s.rr++
		s.mu.Unlock()
		return unknown[idx], true
	}
	if haveBest {
		// Every known quota is exhausted but no cooldown is active yet; the
		// backend gets the final say.
		return best, true
	}
	return Account{}, false
}
