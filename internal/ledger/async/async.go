// Package async wraps a ledger store with buffered background writes so the
// request path never blocks on ledger I/O.
package async

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/yuegongzi/copilot-api/internal/ledger"
)

// Store wraps a ledger.Store with asynchronous batch writes. Entries are
// queued in memory and flushed in batches; entries still queued when the
// process dies are lost.
type Store struct {
	underlying    ledger.Store
	entryChan     chan ledger.Entry
	batchSize     int
	flushInterval time.Duration
	wg            sync.WaitGroup
	stopChan      chan struct{}
	logger        *log.Logger

	// mu guards closed. Record holds the read lock while sending so Close
	// cannot mark the store closed mid-send; after Close no sender touches
	// entryChan and the writer drains what is buffered.
	mu     sync.RWMutex
	closed bool
}

// Config configures the async ledger behaviour.
type Config struct {
	BatchSize     int           // maximum entries per batch, default 100
	FlushInterval time.Duration // maximum time between flushes, default 1s
	ChannelBuffer int           // queue capacity, default 10000
	Logger        *log.Logger
}

// New wraps an existing ledger store with async batch writing.
func New(underlying ledger.Store, cfg Config) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 10000
	}

	s := &Store{
		underlying:    underlying,
		entryChan:     make(chan ledger.Entry, cfg.ChannelBuffer),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		stopChan:      make(chan struct{}),
		logger:        cfg.Logger,
	}
	s.wg.Add(1)
	go s.batchWriter()
	return s
}

func (s *Store) batchWriter() {
	defer s.wg.Done()

	batch := make([]ledger.Entry, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx := context.Background()
		for _, entry := range batch {
			if err := s.underlying.Record(ctx, entry); err != nil && s.logger != nil {
				s.logger.Printf("[async-ledger] write failed account=%s err=%v", entry.AccountID, err)
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-s.entryChan:
			batch = append(batch, entry)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stopChan:
			// Close has already fenced off new senders; drain whatever
			// is buffered and flush. The channel itself stays open so a
			// racing Record can never hit a closed channel.
			for {
				select {
				case entry := <-s.entryChan:
					batch = append(batch, entry)
					if len(batch) >= s.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Record queues an entry without blocking. When the queue is full, or the
// store is shutting down, the entry is dropped with a warning rather than
// stalling the request path.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		if s.logger != nil {
			s.logger.Printf("[async-ledger] store closed, dropping entry account=%s", entry.AccountID)
		}
		return nil
	}
	select {
	case s.entryChan <- entry:
		return nil
	default:
		if s.logger != nil {
			s.logger.Printf("[async-ledger] queue full, dropping entry account=%s", entry.AccountID)
		}
		return nil
	}
}

// Summaries delegates to the underlying store.
func (s *Store) Summaries(ctx context.Context) ([]ledger.AccountSummary, error) {
	return s.underlying.Summaries(ctx)
}

// ListRecent delegates to the underlying store.
func (s *Store) ListRecent(ctx context.Context, accountID string, limit int) ([]ledger.Entry, error) {
	return s.underlying.ListRecent(ctx, accountID, limit)
}

// Close flushes remaining entries and closes the underlying store. Safe to
// call more than once; later calls are no-ops.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	return s.underlying.Close()
}
