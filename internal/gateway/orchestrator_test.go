package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/yuegongzi/copilot-api/internal/accounts"
	"github.com/yuegongzi/copilot-api/internal/canonical"
	"github.com/yuegongzi/copilot-api/internal/copilot"
	"github.com/yuegongzi/copilot-api/internal/translate"
)

type fakePool struct {
	selections []accounts.Selection
	acquireErr error
	reports    []accounts.Outcome
	reportIDs  []string
}

func (p *fakePool) Acquire(ctx context.Context) (accounts.Selection, error) {
	if p.acquireErr != nil {
		return accounts.Selection{}, p.acquireErr
	}
	if len(p.selections) == 0 {
		return accounts.Selection{}, accounts.ErrNoAccountAvailable
	}
	sel := p.selections[0]
	p.selections = p.selections[1:]
	return sel, nil
}

func (p *fakePool) Report(ctx context.Context, accountID string, outcome accounts.Outcome) {
	p.reportIDs = append(p.reportIDs, accountID)
	p.reports = append(p.reports, outcome)
}

type backendCall struct {
	resp   canonical.Response
	events []canonical.StreamEvent
	err    error
}

type fakeBackend struct {
	calls  []backendCall
	tokens []string
}

func (b *fakeBackend) next() backendCall {
	call := b.calls[0]
	b.calls = b.calls[1:]
	return call
}

func (b *fakeBackend) Complete(ctx context.Context, token string, req canonical.Request) (canonical.Response, copilot.RateLimitInfo, error) {
	b.tokens = append(b.tokens, token)
	call := b.next()
	return call.resp, copilot.RateLimitInfo{}, call.err
}

func (b *fakeBackend) CompleteStream(ctx context.Context, token string, req canonical.Request) (EventStream, copilot.RateLimitInfo, error) {
	b.tokens = append(b.tokens, token)
	call := b.next()
	if call.err != nil {
		return nil, copilot.RateLimitInfo{}, call.err
	}
	return &fakeStream{events: call.events}, copilot.RateLimitInfo{}, nil
}

type fakeStream struct {
	events []canonical.StreamEvent
	errAt  int
	err    error
	closed bool
}

func (s *fakeStream) Next() (canonical.StreamEvent, error) {
	if s.err != nil && s.errAt == 0 {
		return canonical.StreamEvent{}, s.err
	}
	if s.err != nil {
		s.errAt--
	}
	if len(s.events) == 0 {
		return canonical.StreamEvent{}, io.EOF
	}
	evt := s.events[0]
	s.events = s.events[1:]
	return evt, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeTranscoder struct {
	fed     []canonical.EventType
	failMsg string
	done    bool
}

func (t *fakeTranscoder) Feed(evt canonical.StreamEvent) error {
	t.fed = append(t.fed, evt.Type)
	if evt.Type == canonical.EventMessageStop {
		t.done = true
	}
	return nil
}

func (t *fakeTranscoder) Fail(message string) {
	t.failMsg = message
	t.done = true
}

func (t *fakeTranscoder) Done() bool { return t.done }

type recordedUsage struct {
	accountID string
	model     string
	usage     canonical.Usage
}

type fakeRecorder struct {
	records []recordedUsage
}

func (r *fakeRecorder) RecordUsage(ctx context.Context, accountID, model string, schema translate.Schema, usage canonical.Usage) error {
	r.records = append(r.records, recordedUsage{accountID: accountID, model: model, usage: usage})
	return nil
}

func selection(id, token string) accounts.Selection {
	return accounts.Selection{
		Account: accounts.Account{ID: id, Login: id},
		Token:   copilot.AccessToken{Token: token},
	}
}

func validRequest() canonical.Request {
	return canonical.Request{
		Model: "gpt-4o",
		Messages: []canonical.Message{
			{Role: canonical.RoleUser, Content: []canonical.ContentBlock{canonical.TextBlock("hi")}},
		},
	}
}

func streamEvents() []canonical.StreamEvent {
	return []canonical.StreamEvent{
		{Type: canonical.EventMessageStart, Message: &canonical.MessageInfo{ID: "m", Usage: canonical.Usage{InputTokens: 3}}},
		{Type: canonical.EventContentBlockStart, Index: 0, ContentBlock: &canonical.ContentBlock{Type: canonical.BlockText}},
		{Type: canonical.EventContentBlockDelta, Index: 0, Delta: &canonical.Delta{Type: canonical.DeltaText, Text: "ok"}},
		{Type: canonical.EventContentBlockStop, Index: 0},
		{Type: canonical.EventMessageDelta, Delta: &canonical.Delta{StopReason: canonical.StopEndTurn}, Usage: &canonical.Usage{OutputTokens: 5}},
		{Type: canonical.EventMessageStop},
	}
}

func TestOrchestrator_CompleteSuccess(t *testing.T) {
	pool := &fakePool{selections: []accounts.Selection{selection("a1", "tok1")}}
	backend := &fakeBackend{calls: []backendCall{{
		resp: canonical.Response{
			ID:         "r1",
			Content:    []canonical.ContentBlock{canonical.TextBlock("hello")},
			StopReason: canonical.StopEndTurn,
			Usage:      canonical.Usage{InputTokens: 2, OutputTokens: 4},
		},
	}}}
	recorder := &fakeRecorder{}
	o := NewOrchestrator(pool, backend, recorder, Config{}, nil)

	resp, err := o.Complete(context.Background(), validRequest(), translate.SchemaOpenAI)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.ID != "r1" {
		t.Errorf("resp = %+v", resp)
	}
	if backend.tokens[0] != "tok1" {
		t.Errorf("token = %q", backend.tokens[0])
	}
	if len(pool.reports) != 1 || pool.reports[0].Kind != accounts.OutcomeSuccess {
		t.Errorf("reports = %+v", pool.reports)
	}
	if len(recorder.records) != 1 || recorder.records[0].usage.OutputTokens != 4 {
		t.Errorf("usage records = %+v", recorder.records)
	}
}

func TestOrchestrator_CompleteRetriesOnRateLimit(t *testing.T) {
	pool := &fakePool{selections: []accounts.Selection{
		selection("a1", "tok1"),
		selection("a2", "tok2"),
	}}
	backend := &fakeBackend{calls: []backendCall{
		{err: &copilot.StatusError{StatusCode: http.StatusTooManyRequests}},
		{resp: canonical.Response{ID: "r2", StopReason: canonical.StopEndTurn}},
	}}
	o := NewOrchestrator(pool, backend, nil, Config{}, nil)

	resp, err := o.Complete(context.Background(), validRequest(), translate.SchemaOpenAI)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.ID != "r2" {
		t.Errorf("resp id = %q", resp.ID)
	}
	if pool.reports[0].Kind != accounts.OutcomeRateLimited || pool.reportIDs[0] != "a1" {
		t.Errorf("first report = %+v for %s", pool.reports[0], pool.reportIDs[0])
	}
	if pool.reports[1].Kind != accounts.OutcomeSuccess || pool.reportIDs[1] != "a2" {
		t.Errorf("second report = %+v for %s", pool.reports[1], pool.reportIDs[1])
	}
}

func TestOrchestrator_CompleteAllAccountsRateLimited(t *testing.T) {
	pool := &fakePool{selections: []accounts.Selection{
		selection("a1", "tok1"),
		selection("a2", "tok2"),
	}}
	backend := &fakeBackend{calls: []backendCall{
		{err: &copilot.StatusError{StatusCode: http.StatusTooManyRequests}},
		{err: &copilot.StatusError{StatusCode: http.StatusTooManyRequests}},
	}}
	o := NewOrchestrator(pool, backend, nil, Config{}, nil)

	_, err := o.Complete(context.Background(), validRequest(), translate.SchemaOpenAI)
	ge := AsError(err)
	if ge.Kind != KindRateLimited || ge.Status != http.StatusTooManyRequests {
		t.Errorf("error = %+v", ge)
	}
}

func TestOrchestrator_CompleteNoAccount(t *testing.T) {
	pool := &fakePool{}
	o := NewOrchestrator(pool, &fakeBackend{}, nil, Config{}, nil)

	_, err := o.Complete(context.Background(), validRequest(), translate.SchemaOpenAI)
	ge := AsError(err)
	if ge.Kind != KindNoAccount || ge.Status != http.StatusServiceUnavailable {
		t.Errorf("error = %+v", ge)
	}
}

func TestOrchestrator_CompleteInvalidRequest(t *testing.T) {
	o := NewOrchestrator(&fakePool{}, &fakeBackend{}, nil, Config{}, nil)

	_, err := o.Complete(context.Background(), canonical.Request{Model: "gpt-4o"}, translate.SchemaOpenAI)
	ge := AsError(err)
	if ge.Kind != KindInvalidRequest || ge.Status != http.StatusBadRequest {
		t.Errorf("error = %+v", ge)
	}
}

func TestOrchestrator_StreamSuccess(t *testing.T) {
	pool := &fakePool{selections: []accounts.Selection{selection("a1", "tok1")}}
	backend := &fakeBackend{calls: []backendCall{{events: streamEvents()}}}
	recorder := &fakeRecorder{}
	o := NewOrchestrator(pool, backend, recorder, Config{}, nil)
	tr := &fakeTranscoder{}

	if err := o.Stream(context.Background(), validRequest(), translate.SchemaAnthropic, tr); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if len(tr.fed) != 6 || tr.fed[len(tr.fed)-1] != canonical.EventMessageStop {
		t.Errorf("fed events = %v", tr.fed)
	}
	if tr.failMsg != "" {
		t.Errorf("unexpected fail: %q", tr.failMsg)
	}
	if len(recorder.records) != 1 {
		t.Fatalf("usage records = %+v", recorder.records)
	}
	if got := recorder.records[0].usage; got.InputTokens != 3 || got.OutputTokens != 5 {
		t.Errorf("usage = %+v", got)
	}
}

func TestOrchestrator_StreamFailoverBeforeFirstByte(t *testing.T) {
	pool := &fakePool{selections: []accounts.Selection{
		selection("a1", "tok1"),
		selection("a2", "tok2"),
	}}
	backend := &fakeBackend{calls: []backendCall{
		{err: &copilot.StatusError{StatusCode: http.StatusTooManyRequests}},
		{events: streamEvents()},
	}}
	o := NewOrchestrator(pool, backend, nil, Config{}, nil)
	tr := &fakeTranscoder{}

	if err := o.Stream(context.Background(), validRequest(), translate.SchemaOpenAI, tr); err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if pool.reports[0].Kind != accounts.OutcomeRateLimited {
		t.Errorf("first report = %+v", pool.reports[0])
	}
	if backend.tokens[1] != "tok2" {
		t.Errorf("second attempt token = %q", backend.tokens[1])
	}
}

func TestOrchestrator_StreamTruncatedUpstream(t *testing.T) {
	events := streamEvents()
	pool := &fakePool{selections: []accounts.Selection{selection("a1", "tok1")}}
	backend := &fakeBackend{calls: []backendCall{{events: events[:3]}}}
	o := NewOrchestrator(pool, backend, nil, Config{}, nil)
	tr := &fakeTranscoder{}

	err := o.Stream(context.Background(), validRequest(), translate.SchemaOpenAI, tr)
	if err == nil {
		t.Fatal("expected error for truncated stream")
	}
	if tr.failMsg == "" {
		t.Error("transcoder should receive a terminal failure")
	}
}

func TestOrchestrator_StreamReadError(t *testing.T) {
	pool := &fakePool{selections: []accounts.Selection{selection("a1", "tok1")}}
	stream := &fakeStream{
		events: streamEvents()[:2],
		err:    errors.New("connection reset"),
		errAt:  2,
	}
	backend := &streamOnceBackend{stream: stream}
	o := NewOrchestrator(pool, backend, nil, Config{}, nil)
	tr := &fakeTranscoder{}

	err := o.Stream(context.Background(), validRequest(), translate.SchemaOpenAI, tr)
	if err == nil {
		t.Fatal("expected error")
	}
	if tr.failMsg != "upstream connection lost" {
		t.Errorf("fail message = %q", tr.failMsg)
	}
	if !stream.closed {
		t.Error("stream should be closed")
	}
}

type streamOnceBackend struct {
	stream *fakeStream
}

func (b *streamOnceBackend) Complete(ctx context.Context, token string, req canonical.Request) (canonical.Response, copilot.RateLimitInfo, error) {
	return canonical.Response{}, copilot.RateLimitInfo{}, errors.New("not used")
}

func (b *streamOnceBackend) CompleteStream(ctx context.Context, token string, req canonical.Request) (EventStream, copilot.RateLimitInfo, error) {
	return b.stream, copilot.RateLimitInfo{}, nil
}
