package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/yuegongzi/copilot-api/internal/accounts"
	"github.com/yuegongzi/copilot-api/internal/copilot"
)

// ModelLister fetches the backend model catalogue. *copilot.Client satisfies
// it.
type ModelLister interface {
	ListModels(ctx context.Context, token string) ([]copilot.ModelInfo, error)
}

// ModelService serves the model catalogue through the account pool, so the
// listing costs a token refresh at most and reports outcomes like any other
// backend call.
type ModelService struct {
	pool   Pool
	lister ModelLister
}

// NewModelService creates a model service.
func NewModelService(pool Pool, lister ModelLister) *ModelService {
	return &ModelService{pool: pool, lister: lister}
}

// List fetches the catalogue with a pooled account.
func (s *ModelService) List(ctx context.Context) ([]copilot.ModelInfo, error) {
	sel, err := s.pool.Acquire(ctx)
	if err != nil {
		if errors.Is(err, accounts.ErrNoAccountAvailable) {
			return nil, &Error{
				Kind:    KindNoAccount,
				Status:  http.StatusServiceUnavailable,
				Message: "no backend account currently available",
			}
		}
		return nil, AsError(err)
	}
	models, err := s.lister.ListModels(ctx, sel.Token.Token)
	if err != nil {
		if copilot.IsAuthFailure(err) {
			s.pool.Report(ctx, sel.Account.ID, accounts.Outcome{Kind: accounts.OutcomeAuthFailed})
		}
		return nil, classify(err)
	}
	s.pool.Report(ctx, sel.Account.ID, accounts.Outcome{Kind: accounts.OutcomeSuccess})
	return models, nil
}
