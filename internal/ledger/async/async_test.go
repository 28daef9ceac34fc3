package async

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/yuegongzi/copilot-api/internal/ledger"
)

// recordingStore counts writes; safe for concurrent use.
type recordingStore struct {
	mu      sync.Mutex
	entries []ledger.Entry
	closed  bool
}

func (r *recordingStore) Record(ctx context.Context, entry ledger.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *recordingStore) Summaries(ctx context.Context) ([]ledger.AccountSummary, error) {
	return nil, nil
}

func (r *recordingStore) ListRecent(ctx context.Context, accountID string, limit int) ([]ledger.Entry, error) {
	return nil, nil
}

func (r *recordingStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recordingStore) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func TestCloseFlushesQueued(t *testing.T) {
	under := &recordingStore{}
	s := New(under, Config{FlushInterval: time.Hour}) // flush only via Close

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := s.Record(ctx, ledger.Entry{AccountID: "a1", InputTokens: 1}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := under.count(); got != 5 {
		t.Errorf("flushed entries = %d, want 5", got)
	}
	if !under.closed {
		t.Error("underlying store not closed")
	}
}

func TestBatchFlushBySize(t *testing.T) {
	under := &recordingStore{}
	s := New(under, Config{BatchSize: 2, FlushInterval: time.Hour})
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_ = s.Record(ctx, ledger.Entry{AccountID: "a1"})
	}
	deadline := time.Now().Add(2 * time.Second)
	for under.count() < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("flushed entries = %d, want 4", under.count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Concurrent Record and Close must never send on a torn-down queue;
// recording during shutdown drops the entry instead.
func TestRecordDuringClose(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		s := New(&recordingStore{}, Config{})

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = s.Record(ctx, ledger.Entry{AccountID: "a1"})
			}
		}()
		go func() {
			defer wg.Done()
			_ = s.Close()
		}()
		wg.Wait()
	}
}

func TestRecordAfterCloseDrops(t *testing.T) {
	under := &recordingStore{}
	s := New(under, Config{})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := s.Record(context.Background(), ledger.Entry{AccountID: "a1"}); err != nil {
		t.Fatalf("Record after close: %v", err)
	}
	if got := under.count(); got != 0 {
		t.Errorf("entries after close = %d, want 0", got)
	}
	// Second Close is a no-op.
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
