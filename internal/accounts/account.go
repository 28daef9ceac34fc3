// Package accounts owns the backend credential pool: per-account access
// tokens, per-account rate-limit state, and the selection policy that picks
// a usable account for each request. It is the single source of truth for
// account health; callers never mutate account state directly.
package accounts

import (
	"context"
	"time"
)

// Account identifies one backend account and its long-lived refresh
// credential. Accounts are created and removed by the configuration layer;
// the runtime state (access token, rate limits) lives in this package.
type Account struct {
	ID                string   `yaml:"id" json:"id"`
	Login             string   `yaml:"login" json:"login"`
	RefreshCredential string   `yaml:"refresh_credential" json:"-"`
	Scopes            []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`
	Disabled          bool     `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// RateLimitState is the last-known rate-limit signal for one account.
// Remaining and ResetAt stay nil until the backend first reports them.
type RateLimitState struct {
	Remaining     *int       `json:"remaining,omitempty"`
	ResetAt       *time.Time `json:"reset_at,omitempty"`
	CooldownUntil time.Time  `json:"cooldown_until,omitempty"`
}

// CoolingDown reports whether the account is excluded from selection at now.
func (s RateLimitState) CoolingDown(now time.Time) bool {
	return now.Before(s.CooldownUntil)
}

// ConfigProvider supplies the account list. Implementations load it from the
// credential file or a shared database; the snapshot is read-only.
type ConfigProvider interface {
	ListAccounts(ctx context.Context) ([]Account, error)
}
