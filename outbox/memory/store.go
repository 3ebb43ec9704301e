// Package memory provides an in-memory outbox store for local runs and
// tests. It honors the same contract as the postgres store: creation-order
// fetch, batch locking, idempotent publish marking and an attempt budget.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/shopflow/shopflow/outbox"
)

const defaultMaxAttempts = 5

// Store is an in-memory outbox.
type Store struct {
	mu          sync.Mutex
	records     map[uuid.UUID]*row
	order       []uuid.UUID
	inFlight    map[uuid.UUID]bool
	clock       outbox.Clock
	maxAttempts int
}

type row struct {
	rec  outbox.Record
	dead bool
}

var _ outbox.Source = (*Store)(nil)
var _ outbox.PendingCounter = (*Store)(nil)

// Option configures the store.
type Option func(*Store)

// WithClock sets the time source.
func WithClock(clock outbox.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// WithMaxAttempts sets the publish retry limit before a record is parked.
func WithMaxAttempts(attempts int) Option {
	return func(s *Store) {
		s.maxAttempts = attempts
	}
}

// NewStore constructs an empty in-memory outbox.
func NewStore(opts ...Option) *Store {
	s := &Store{
		records:     make(map[uuid.UUID]*row),
		inFlight:    make(map[uuid.UUID]bool),
		clock:       outbox.SystemClock{},
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Append stores a validated entry as an unpublished record.
func (s *Store) Append(_ context.Context, entry outbox.Entry) (outbox.Record, error) {
	if err := entry.Validate(); err != nil {
		return outbox.Record{}, err
	}

	rec := outbox.Record{
		ID:        uuid.New(),
		RequestID: entry.RequestID,
		EventType: entry.EventType,
		Payload:   entry.Payload,
		CreatedAt: s.clock.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = &row{rec: rec}
	s.order = append(s.order, rec.ID)

	return rec, nil
}

// Fetch locks and returns a batch of unpublished records, oldest first.
func (s *Store) Fetch(_ context.Context, opts outbox.FetchOptions) (outbox.Batch, error) {
	if opts.BatchSize <= 0 {
		return nil, outbox.ErrInvalidBatchSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	picked := make([]outbox.Record, 0, opts.BatchSize)
	for _, id := range s.order {
		if len(picked) == opts.BatchSize {
			break
		}
		r := s.records[id]
		if r.rec.Published || r.dead || s.inFlight[id] {
			continue
		}
		s.inFlight[id] = true
		picked = append(picked, r.rec)
	}
	if len(picked) == 0 {
		return nil, outbox.ErrNoRecords
	}

	return &batch{store: s, records: picked, staged: make(map[uuid.UUID]func(*row))}, nil
}

// PendingCount returns the number of unpublished, non-parked records.
func (s *Store) PendingCount(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, r := range s.records {
		if !r.rec.Published && !r.dead {
			count++
		}
	}

	return count, nil
}

// Record returns a stored record by id. Test helper.
func (s *Store) Record(id uuid.UUID) (outbox.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return outbox.Record{}, false
	}

	return r.rec, true
}

// All returns every stored record in creation order. Test helper.
func (s *Store) All() []outbox.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]outbox.Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id].rec)
	}

	return out
}

type batch struct {
	store   *Store
	records []outbox.Record
	staged  map[uuid.UUID]func(*row)
	done    bool
}

var _ outbox.Batch = (*batch)(nil)
var _ outbox.DeadBatch = (*batch)(nil)

// Records returns the records fetched for this batch.
func (b *batch) Records() []outbox.Record {
	return b.records
}

// MarkPublished stages the published flag flip. Already-published records
// stay untouched, keeping the step idempotent.
func (b *batch) MarkPublished(_ context.Context, ids []uuid.UUID) error {
	now := b.store.clock.Now()
	for _, id := range ids {
		b.staged[id] = func(r *row) {
			if r.rec.Published {
				return
			}
			r.rec.Published = true
			at := now
			r.rec.PublishedAt = &at
		}
	}

	return nil
}

// Fail stages attempt increments, parking records at the attempt limit.
func (b *batch) Fail(_ context.Context, failures []outbox.Failure) error {
	limit := b.store.maxAttempts
	for _, failure := range failures {
		b.staged[failure.ID] = func(r *row) {
			r.rec.Attempts++
			if r.rec.Attempts >= limit {
				r.dead = true
			}
		}
	}

	return nil
}

// Dead stages immediate parking.
func (b *batch) Dead(_ context.Context, failures []outbox.Failure) error {
	for _, failure := range failures {
		b.staged[failure.ID] = func(r *row) {
			r.rec.Attempts++
			r.dead = true
		}
	}

	return nil
}

// Commit applies staged changes and releases the batch locks.
func (b *batch) Commit() error {
	if b.done {
		return fmt.Errorf("outbox memory: batch already finished")
	}
	b.done = true

	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	for id, apply := range b.staged {
		if r, ok := b.store.records[id]; ok {
			apply(r)
		}
	}
	b.release()

	return nil
}

// Rollback releases the batch locks without applying changes.
func (b *batch) Rollback() error {
	if b.done {
		return nil
	}
	b.done = true

	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	b.release()

	return nil
}

func (b *batch) release() {
	for _, rec := range b.records {
		delete(b.store.inFlight, rec.ID)
	}
}
