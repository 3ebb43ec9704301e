package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shopflow/shopflow/event"
)

// Publisher sends an event envelope to the broker. Send must be durable on
// success and safe to repeat: the relay treats a failure as "maybe delivered"
// and will send again.
type Publisher interface {
	// Send publishes one envelope.
	Send(ctx context.Context, env event.Envelope) error
}

// Relay polls a Source for unpublished records and hands them to a
// Publisher, marking each record published only after a confirmed send. It
// runs independently of the request path that created the records, so the
// business transaction never depends on broker reachability.
type Relay struct {
	source    Source
	publisher Publisher
	cfg       RelayConfig

	pendingMu sync.Mutex
	pendingAt time.Time
}

type batchOutcome struct {
	published []uuid.UUID
	failed    []Failure
	dead      []Failure
}

// NewRelay constructs a Relay with defaults and optional settings.
func NewRelay(source Source, publisher Publisher, opts ...RelayOption) *Relay {
	if source == nil {
		panic("outbox: nil Source")
	}
	if publisher == nil {
		panic("outbox: nil Publisher")
	}

	var cfg RelayConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Relay{
		source:    source,
		publisher: publisher,
		cfg:       cfg,
	}
}

// Run starts the polling loop with the configured number of workers and
// blocks until ctx is canceled or a worker fails.
func (r *Relay) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, r.cfg.Workers)
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		workerID := i
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					err := fmt.Errorf("%w: %v", ErrWorkerPanic, rec)
					r.cfg.Logger.Error("outbox relay worker panic", "worker", workerID, "panic", rec)
					errCh <- err
					cancel()
				}
			}()

			if err := r.runWorker(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.cfg.Logger.Error("outbox relay worker error", "worker", workerID, "err", err)
				errCh <- err
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return err
	}
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// ProcessOnce fetches and publishes a single batch. It reports whether a
// batch was available.
func (r *Relay) ProcessOnce(ctx context.Context) (bool, error) {
	batch, err := r.source.Fetch(ctx, FetchOptions{BatchSize: r.cfg.BatchSize})
	if err != nil {
		if errors.Is(err, ErrNoRecords) {
			r.maybeRecordPending(ctx)

			return false, nil
		}

		return false, err
	}

	if err := r.publishBatch(ctx, batch); err != nil {
		return false, err
	}

	return true, nil
}

func (r *Relay) runWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		processed, err := r.ProcessOnce(ctx)
		if err != nil {
			return err
		}
		if !processed {
			if sleepErr := r.sleep(ctx, r.cfg.PollInterval); sleepErr != nil {
				return sleepErr
			}
		}
	}
}

func (r *Relay) publishBatch(ctx context.Context, batch Batch) error {
	start := time.Now()
	defer func() {
		r.cfg.Metrics.ObserveBatchDuration(time.Since(start))
	}()

	if batch == nil {
		return ErrNilBatch
	}

	records := batch.Records()
	if len(records) == 0 {
		rollbackErr := batch.Rollback()

		return errors.Join(ErrEmptyBatch, rollbackErr)
	}

	outcome, err := r.sendRecords(ctx, records)
	if err != nil {
		return r.rollbackWith(batch, err)
	}

	return r.applyOutcome(ctx, batch, outcome)
}

// sendRecords publishes records one at a time in batch order. A failure does
// not stop the batch; the record is classified and the pass continues.
func (r *Relay) sendRecords(ctx context.Context, records []Record) (batchOutcome, error) {
	outcome := batchOutcome{
		published: make([]uuid.UUID, 0, len(records)),
	}
	for i := range records {
		record := records[i]
		sendCtx := ctx
		cancel := func() {}
		if r.cfg.PublishTimeout > 0 {
			sendCtx, cancel = context.WithTimeout(ctx, r.cfg.PublishTimeout)
		}
		err := r.publisher.Send(sendCtx, record.Envelope())
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return outcome, ctx.Err()
			}
			r.recordFailure(ctx, record, err, &outcome)

			continue
		}
		outcome.published = append(outcome.published, record.ID)
	}

	return outcome, nil
}

func (r *Relay) recordFailure(ctx context.Context, record Record, err error, outcome *batchOutcome) {
	r.cfg.Logger.Warn("outbox publish failed",
		"record", record.ID, "request", record.RequestID, "event", record.EventType, "err", err)
	if r.cfg.ErrorHandler != nil {
		r.cfg.ErrorHandler(ctx, record, err)
	}

	if r.cfg.FailureClassifier(ctx, record, err) == FailureDead {
		outcome.dead = append(outcome.dead, Failure{ID: record.ID, Err: err})

		return
	}
	outcome.failed = append(outcome.failed, Failure{ID: record.ID, Err: err})
}

func (r *Relay) applyOutcome(ctx context.Context, batch Batch, outcome batchOutcome) error {
	if len(outcome.published) > 0 {
		if err := batch.MarkPublished(ctx, outcome.published); err != nil {
			return r.rollbackWith(batch, fmt.Errorf("outbox mark published failed: %w", err))
		}
	}
	if len(outcome.failed) > 0 {
		if err := batch.Fail(ctx, outcome.failed); err != nil {
			return r.rollbackWith(batch, fmt.Errorf("outbox fail update failed: %w", err))
		}
	}
	if len(outcome.dead) > 0 {
		if err := r.parkDead(ctx, batch, outcome.dead); err != nil {
			return err
		}
	}

	if err := batch.Commit(); err != nil {
		return r.rollbackWith(batch, fmt.Errorf("outbox commit failed: %w", err))
	}

	r.cfg.Metrics.AddPublished(len(outcome.published))
	r.cfg.Metrics.AddRetries(len(outcome.failed))
	r.cfg.Metrics.AddDead(len(outcome.dead))

	return nil
}

func (r *Relay) parkDead(ctx context.Context, batch Batch, dead []Failure) error {
	deadBatch, ok := batch.(DeadBatch)
	if ok {
		if err := deadBatch.Dead(ctx, dead); err != nil {
			return r.rollbackWith(batch, fmt.Errorf("outbox dead update failed: %w", err))
		}

		return nil
	}

	r.cfg.Logger.Warn("outbox batch does not support parking; falling back to retry", "count", len(dead))
	if err := batch.Fail(ctx, dead); err != nil {
		return r.rollbackWith(batch, fmt.Errorf("outbox dead fallback failed: %w", err))
	}

	return nil
}

func (r *Relay) rollbackWith(batch Batch, err error) error {
	rollbackErr := batch.Rollback()
	if rollbackErr == nil {
		return err
	}

	return errors.Join(err, fmt.Errorf("outbox rollback failed: %w", rollbackErr))
}

func (r *Relay) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (r *Relay) maybeRecordPending(ctx context.Context) {
	counter, ok := r.source.(PendingCounter)
	if !ok {
		return
	}
	if r.cfg.PendingInterval <= 0 {
		return
	}
	if ctx.Err() != nil {
		return
	}

	now := r.cfg.Clock.Now()
	r.pendingMu.Lock()
	nextAllowed := r.pendingAt.Add(r.cfg.PendingInterval)
	if !r.pendingAt.IsZero() && now.Before(nextAllowed) {
		r.pendingMu.Unlock()

		return
	}
	r.pendingAt = now
	r.pendingMu.Unlock()

	count, err := counter.PendingCount(ctx)
	if err != nil {
		r.cfg.Logger.Warn("outbox pending count failed", "err", err)

		return
	}

	r.cfg.Metrics.SetPending(count)
}
