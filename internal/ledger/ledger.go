// Package ledger records per-account token usage so operators can see how
// requests are spread across the credential pool.
package ledger

import (
	"context"
	"time"

	"github.com/yuegongzi/copilot-api/internal/canonical"
	"github.com/yuegongzi/copilot-api/internal/translate"
)

// Entry is one usage record: a single completed request attributed to a
// backend account.
type Entry struct {
	ID           int64     `json:"id"`
	AccountID    string    `json:"account_id"`
	Model        string    `json:"model"`
	Schema       string    `json:"schema"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CreatedAt    time.Time `json:"created_at"`
}

// AccountSummary aggregates usage for one account.
type AccountSummary struct {
	AccountID    string `json:"account_id"`
	Requests     int64  `json:"requests"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
}

// Store defines persistence behaviour for the ledger.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Summaries(ctx context.Context) ([]AccountSummary, error)
	ListRecent(ctx context.Context, accountID string, limit int) ([]Entry, error)
	Close() error
}

// Recorder adapts a Store to the orchestrator's usage hook.
type Recorder struct {
	store Store
}

// NewRecorder creates a recorder over the store.
func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// RecordUsage writes one usage entry.
func (r *Recorder) RecordUsage(ctx context.Context, accountID, model string, schema translate.Schema, usage canonical.Usage) error {
	return r.store.Record(ctx, Entry{
		AccountID:    accountID,
		Model:        model,
		Schema:       string(schema),
		InputTokens:  int64(usage.InputTokens),
		OutputTokens: int64(usage.OutputTokens),
	})
}
