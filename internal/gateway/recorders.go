package gateway

import (
	"context"

	"github.com/yuegongzi/copilot-api/internal/canonical"
	"github.com/yuegongzi/copilot-api/internal/translate"
)

type multiRecorder []UsageRecorder

func (m multiRecorder) RecordUsage(ctx context.Context, accountID, model string, schema translate.Schema, usage canonical.Usage) error {
	var firstErr error
	for _, r := range m {
		if err := r.RecordUsage(ctx, accountID, model, schema, usage); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// MultiRecorder fans usage out to every non-nil recorder. Returns nil when
// none remain so the orchestrator can skip accounting entirely.
func MultiRecorder(recorders ...UsageRecorder) UsageRecorder {
	var active multiRecorder
	for _, r := range recorders {
		if r != nil {
			active = append(active, r)
		}
	}
	switch len(active) {
	case 0:
		return nil
	case 1:
		return active[0]
	default:
		return active
	}
}
