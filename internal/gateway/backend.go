package gateway

import (
	"context"

	"github.com/yuegongzi/copilot-api/internal/canonical"
	"github.com/yuegongzi/copilot-api/internal/copilot"
)

// CopilotBackend adapts the copilot client to the Backend interface.
type CopilotBackend struct {
	Client *copilot.Client
}

func (b CopilotBackend) Complete(ctx context.Context, token string, req canonical.Request) (canonical.Response, copilot.RateLimitInfo, error) {
	return b.Client.Complete(ctx, token, req)
}

func (b CopilotBackend) CompleteStream(ctx context.Context, token string, req canonical.Request) (EventStream, copilot.RateLimitInfo, error) {
	stream, info, err := b.Client.CompleteStream(ctx, token, req)
	if err != nil {
		return nil, info, err
	}
	return stream, info, nil
}
