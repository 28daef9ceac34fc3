package gateway

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/yuegongzi/copilot-api/internal/accounts"
	"github.com/yuegongzi/copilot-api/internal/canonical"
	"github.com/yuegongzi/copilot-api/internal/copilot"
	"github.com/yuegongzi/copilot-api/internal/translate"
)

// Pool grants accounts and receives request outcomes. The accounts.Selector
// is the production implementation.
type Pool interface {
	Acquire(ctx context.Context) (accounts.Selection, error)
	Report(ctx context.Context, accountID string, outcome accounts.Outcome)
}

// EventStream yields backend stream events until io.EOF.
type EventStream interface {
	Next() (canonical.StreamEvent, error)
	Close() error
}

// Backend is the completion backend surface the orchestrator needs.
type Backend interface {
	Complete(ctx context.Context, token string, req canonical.Request) (canonical.Response, copilot.RateLimitInfo, error)
	CompleteStream(ctx context.Context, token string, req canonical.Request) (EventStream, copilot.RateLimitInfo, error)
}

// Transcoder consumes backend stream events and writes client frames. The
// translate package provides one per client schema.
type Transcoder interface {
	Feed(evt canonical.StreamEvent) error
	Fail(message string)
	Done() bool
}

// UsageRecorder persists per-account token usage. The ledger package is the
// production implementation; a nil recorder disables accounting.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, accountID, model string, schema translate.Schema, usage canonical.Usage) error
}

// Config holds configuration for the orchestrator.
type Config struct {
	// AcquireTimeout bounds how long one request may wait for an account.
	// Zero selects 10s.
	AcquireTimeout time.Duration
	// MaxAttempts bounds how many accounts one request may burn through
	// before failing over to the client. Zero selects 2.
	MaxAttempts int
}

// Orchestrator runs the request pipeline: acquire an account, call the
// backend, report the outcome, and retry once on a different account while
// nothing has been written to the client.
type Orchestrator struct {
	pool    Pool
	backend Backend
	usage   UsageRecorder
	logger  *log.Logger
	cfg     Config
}

// NewOrchestrator creates an orchestrator. usage may be nil.
func NewOrchestrator(pool Pool, backend Backend, usage UsageRecorder, cfg Config, logger *log.Logger) *Orchestrator {
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	return &Orchestrator{
		pool:    pool,
		backend: backend,
		usage:   usage,
		logger:  logger,
		cfg:     cfg,
	}
}

// Complete runs one non-streaming request.
func (o *Orchestrator) Complete(ctx context.Context, req canonical.Request, schema translate.Schema) (canonical.Response, error) {
	if err := req.Validate(); err != nil {
		return canonical.Response{}, invalidRequest("%v", err)
	}

	var lastErr error
	for attempt := 0; attempt < o.cfg.MaxAttempts; attempt++ {
		sel, err := o.acquire(ctx)
		if err != nil {
			return canonical.Response{}, err
		}

		resp, info, err := o.backend.Complete(ctx, sel.Token.Token, req)
		if err == nil {
			o.pool.Report(ctx, sel.Account.ID, accounts.Outcome{Kind: accounts.OutcomeSuccess, RateLimit: info})
			o.recordUsage(ctx, sel.Account.ID, req.Model, schema, resp.Usage)
			return resp, nil
		}
		lastErr = err
		// A cancelled client is not the account's fault.
		if ctx.Err() != nil {
			break
		}
		o.reportFailure(ctx, sel.Account.ID, err)
		o.logf("attempt %d failed account=%s err=%v", attempt+1, sel.Account.ID, err)
	}
	return canonical.Response{}, classify(lastErr)
}

// Stream runs one streaming request, pumping backend events through the
// transcoder. Failover to another account happens only before the first
// byte reaches the client; afterwards a failure terminates the stream with
// an in-band error frame.
func (o *Orchestrator) Stream(ctx context.Context, req canonical.Request, schema translate.Schema, tr Transcoder) error {
	if err := req.Validate(); err != nil {
		return invalidRequest("%v", err)
	}

	var lastErr error
	for attempt := 0; attempt < o.cfg.MaxAttempts; attempt++ {
		sel, err := o.acquire(ctx)
		if err != nil {
			return err
		}

		stream, info, err := o.backend.CompleteStream(ctx, sel.Token.Token, req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			o.reportFailure(ctx, sel.Account.ID, err)
			o.logf("stream attempt %d failed account=%s err=%v", attempt+1, sel.Account.ID, err)
			continue
		}

		o.pool.Report(ctx, sel.Account.ID, accounts.Outcome{Kind: accounts.OutcomeSuccess, RateLimit: info})
		return o.pump(ctx, stream, tr, sel.Account.ID, req.Model, schema)
	}
	return classify(lastErr)
}

// pump drains the backend stream into the transcoder, accumulating usage
// from the event envelopes for the ledger.
func (o *Orchestrator) pump(ctx context.Context, stream EventStream, tr Transcoder, accountID, model string, schema translate.Schema) error {
	defer stream.Close()

	var usage canonical.Usage
	for {
		evt, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			o.logf("stream read failed account=%s err=%v", accountID, err)
			tr.Fail("upstream connection lost")
			return err
		}
		switch evt.Type {
		case canonical.EventMessageStart:
			if evt.Message != nil {
				usage.InputTokens = evt.Message.Usage.InputTokens
			}
		case canonical.EventMessageDelta:
			if evt.Usage != nil {
				usage.OutputTokens = evt.Usage.OutputTokens
			}
		}
		if err := tr.Feed(evt); err != nil {
			o.logf("stream transcode failed account=%s err=%v", accountID, err)
			tr.Fail("stream translation failed")
			return err
		}
		if tr.Done() {
			break
		}
	}
	if !tr.Done() {
		tr.Fail("upstream ended before message_stop")
		return errors.New("upstream stream truncated")
	}
	o.recordUsage(ctx, accountID, model, schema, usage)
	return nil
}

func (o *Orchestrator) acquire(ctx context.Context) (accounts.Selection, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, o.cfg.AcquireTimeout)
	defer cancel()
	sel, err := o.pool.Acquire(acquireCtx)
	if err == nil {
		return sel, nil
	}
	if errors.Is(err, accounts.ErrNoAccountAvailable) || errors.Is(err, context.DeadlineExceeded) {
		return accounts.Selection{}, &Error{
			Kind:    KindNoAccount,
			Status:  http.StatusServiceUnavailable,
			Message: "no backend account currently available",
		}
	}
	if ctx.Err() != nil {
		return accounts.Selection{}, ctx.Err()
	}
	return accounts.Selection{}, AsError(err)
}

func (o *Orchestrator) reportFailure(ctx context.Context, accountID string, err error) {
	var se *copilot.StatusError
	switch {
	case copilot.IsRateLimited(err):
		outcome := accounts.Outcome{Kind: accounts.OutcomeRateLimited}
		if errors.As(err, &se) {
			outcome.RateLimit = se.RateLimit
		}
		o.pool.Report(ctx, accountID, outcome)
	case copilot.IsAuthFailure(err):
		o.pool.Report(ctx, accountID, accounts.Outcome{Kind: accounts.OutcomeAuthFailed})
	default:
		o.pool.Report(ctx, accountID, accounts.Outcome{Kind: accounts.OutcomeError})
	}
}

func (o *Orchestrator) recordUsage(ctx context.Context, accountID, model string, schema translate.Schema, usage canonical.Usage) {
	if o.usage == nil {
		return
	}
	if err := o.usage.RecordUsage(ctx, accountID, model, schema, usage); err != nil {
		o.logf("usage record failed account=%s err=%v", accountID, err)
	}
}

// classify maps a final backend error to the client-facing error shape.
func classify(err error) *Error {
	if err == nil {
		return &Error{
			Kind:    KindNoAccount,
			Status:  http.StatusServiceUnavailable,
			Message: "no backend account currently available",
		}
	}
	switch {
	case copilot.IsRateLimited(err):
		return &Error{
			Kind:    KindRateLimited,
			Status:  http.StatusTooManyRequests,
			Message: "backend rate limit exceeded on all attempted accounts",
		}
	case copilot.IsAuthFailure(err):
		return &Error{
			Kind:    KindAuth,
			Status:  http.StatusBadGateway,
			Message: "backend rejected gateway credentials",
		}
	default:
		return AsError(err)
	}
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.logger != nil {
		o.logger.Printf(format, args...)
	}
}
