package accounts

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/yuegongzi/copilot-api/internal/copilot"
)

// TokenRefresher exchanges an account's refresh credential for a fresh
// access token. *copilot.AuthClient satisfies it via RefreshToken.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshCredential string) (copilot.AccessToken, error)
}

// TokenStore holds the short-lived access token for each account and
// refreshes it on demand. Refresh for a given account is at most one in
// flight: concurrent callers serialize on the per-account mutex, and all but
// the first observe the token the first one fetched.
type TokenStore struct {
	refresher TokenRefresher
	margin    time.Duration
	logger    *log.Logger

	mu      sync.Mutex
	entries map[string]*tokenEntry
}

type tokenEntry struct {
	mu    sync.Mutex
	token copilot.AccessToken
}

// NewTokenStore creates a token store. margin is how long before expiry a
// token is already treated as expired; zero selects the 120s default.
func NewTokenStore(refresher TokenRefresher, margin time.Duration, logger *log.Logger) *TokenStore {
	if margin <= 0 {
		margin = 2 * time.Minute
	}
	return &TokenStore{
		refresher: refresher,
		margin:    margin,
		logger:    logger,
		entries:   make(map[string]*tokenEntry),
	}
}

// EnsureToken returns a non-expired access token for the account, refreshing
// synchronously when needed. The call blocks only the requests that selected
// this account.
func (s *TokenStore) EnsureToken(ctx context.Context, account Account) (copilot.AccessToken, error) {
	entry := s.entry(account.ID)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if !entry.token.Expired(s.margin) {
		return entry.token, nil
	}
	token, err := s.refresher.RefreshToken(ctx, account.RefreshCredential)
	if err != nil {
		return copilot.AccessToken{}, err
	}
	entry.token = token
	if s.logger != nil {
		s.logger.Printf("token refreshed account=%s expires_at=%s", account.ID, token.ExpiresAt.Format(time.RFC3339))
	}
	return token, nil
}

// Invalidate drops the cached token so the next EnsureToken refreshes,
// regardless of the recorded expiry. Used after an auth-failed outcome.
func (s *TokenStore) Invalidate(accountID string) {
	entry := s.entry(accountID)
	entry.mu.Lock()
	entry.token = copilot.AccessToken{}
	entry.mu.Unlock()
}

func (s *TokenStore) entry(accountID string) *tokenEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[accountID]
	if !ok {
		entry = &tokenEntry{}
		s.entries[accountID] = entry
	}
	return entry
}
