package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shopflow/shopflow/event"
)

type staticSource struct {
	batch Batch
	err   error
}

func (s staticSource) Fetch(_ context.Context, _ FetchOptions) (Batch, error) {
	return s.batch, s.err
}

type fakeBatch struct {
	records   []Record
	published []uuid.UUID
	failures  []Failure
	dead      []Failure
	committed bool
	rolled    bool
	markErr   error
	failErr   error
	deadErr   error
	commitErr error
	rollErr   error
}

func (b *fakeBatch) Records() []Record {
	return b.records
}

func (b *fakeBatch) MarkPublished(_ context.Context, ids []uuid.UUID) error {
	b.published = append(b.published, ids...)
	return b.markErr
}

func (b *fakeBatch) Fail(_ context.Context, failures []Failure) error {
	b.failures = append(b.failures, failures...)
	return b.failErr
}

func (b *fakeBatch) Dead(_ context.Context, failures []Failure) error {
	b.dead = append(b.dead, failures...)
	return b.deadErr
}

func (b *fakeBatch) Commit() error {
	b.committed = true
	return b.commitErr
}

func (b *fakeBatch) Rollback() error {
	b.rolled = true
	return b.rollErr
}

type fakeBatchNoDead struct {
	records   []Record
	published []uuid.UUID
	failures  []Failure
	committed bool
	rolled    bool
}

func (b *fakeBatchNoDead) Records() []Record {
	return b.records
}

func (b *fakeBatchNoDead) MarkPublished(_ context.Context, ids []uuid.UUID) error {
	b.published = append(b.published, ids...)
	return nil
}

func (b *fakeBatchNoDead) Fail(_ context.Context, failures []Failure) error {
	b.failures = append(b.failures, failures...)
	return nil
}

func (b *fakeBatchNoDead) Commit() error {
	b.committed = true
	return nil
}

func (b *fakeBatchNoDead) Rollback() error {
	b.rolled = true
	return nil
}

type publisherFunc func(ctx context.Context, env event.Envelope) error

func (f publisherFunc) Send(ctx context.Context, env event.Envelope) error {
	return f(ctx, env)
}

func okPublisher() Publisher {
	return publisherFunc(func(context.Context, event.Envelope) error { return nil })
}

func testRecords(n int) []Record {
	records := make([]Record, n)
	for i := range records {
		records[i] = Record{
			ID:        uuid.New(),
			RequestID: int64(i + 1),
			EventType: event.TypeRequestCreated,
			Payload:   []byte(`{}`),
			CreatedAt: time.Now(),
		}
	}
	return records
}

func TestRelayProcessOnce(t *testing.T) {
	records := testRecords(3)
	batch := &fakeBatch{records: records}
	failing := records[1].ID

	relay := NewRelay(staticSource{batch: batch}, publisherFunc(func(_ context.Context, env event.Envelope) error {
		if env.RequestID == records[1].RequestID {
			return errors.New("send fail")
		}
		return nil
	}))

	ok, err := relay.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("process once: %v", err)
	}
	if !ok {
		t.Fatalf("expected batch to be processed")
	}
	if len(batch.published) != 2 {
		t.Fatalf("expected 2 published ids, got %d", len(batch.published))
	}
	for _, id := range batch.published {
		if id == failing {
			t.Fatalf("failed record %s marked published", id)
		}
	}
	if len(batch.failures) != 1 || batch.failures[0].ID != failing {
		t.Fatalf("expected 1 failure for %s, got %+v", failing, batch.failures)
	}
	if !batch.committed {
		t.Fatalf("expected commit")
	}
}

func TestRelayProcessOnceNoRecords(t *testing.T) {
	relay := NewRelay(staticSource{err: ErrNoRecords}, okPublisher())

	ok, err := relay.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("process once: %v", err)
	}
	if ok {
		t.Fatalf("expected no batch")
	}
}

func TestRelayEnvelopeFromRecord(t *testing.T) {
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	record := Record{
		ID:        uuid.New(),
		RequestID: 7,
		EventType: event.TypeInvoiceGenerated,
		Payload:   []byte(`{"invoiceId":1}`),
		CreatedAt: created,
	}
	batch := &fakeBatch{records: []Record{record}}

	var got event.Envelope
	relay := NewRelay(staticSource{batch: batch}, publisherFunc(func(_ context.Context, env event.Envelope) error {
		got = env
		return nil
	}))

	if _, err := relay.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if got.EventType != event.TypeInvoiceGenerated || got.RequestID != 7 {
		t.Fatalf("unexpected envelope: %+v", got)
	}
	if !got.Timestamp.Equal(created) {
		t.Fatalf("expected record creation time as event time, got %v", got.Timestamp)
	}
}

func TestRelayFailureHandlerCalled(t *testing.T) {
	batch := &fakeBatch{records: testRecords(1)}
	var calls int
	relay := NewRelay(staticSource{}, publisherFunc(func(context.Context, event.Envelope) error {
		return errors.New("boom")
	}), WithErrorHandler(func(context.Context, Record, error) {
		calls++
	}))

	if err := relay.publishBatch(context.Background(), batch); err != nil {
		t.Fatalf("publish batch: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected failure handler to be called once, got %d", calls)
	}
}

func TestRelayFailureHandlerNotCalledOnContextCancel(t *testing.T) {
	batch := &fakeBatch{records: testRecords(1)}
	var calls int
	relay := NewRelay(staticSource{}, publisherFunc(func(ctx context.Context, _ event.Envelope) error {
		return ctx.Err()
	}), WithErrorHandler(func(context.Context, Record, error) {
		calls++
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := relay.publishBatch(ctx, batch)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected failure handler not to be called, got %d", calls)
	}
	if !batch.rolled {
		t.Fatalf("expected rollback on cancel")
	}
}

func TestRelayMarkPublishedErrorRollback(t *testing.T) {
	batch := &fakeBatch{records: testRecords(1), markErr: errors.New("mark fail")}
	relay := NewRelay(staticSource{}, okPublisher())

	err := relay.publishBatch(context.Background(), batch)
	if err == nil || !errors.Is(err, batch.markErr) {
		t.Fatalf("expected mark error, got %v", err)
	}
	if !batch.rolled {
		t.Fatalf("expected rollback on mark error")
	}
	if batch.committed {
		t.Fatalf("expected no commit on mark error")
	}
}

func TestRelayFailErrorRollback(t *testing.T) {
	batch := &fakeBatch{records: testRecords(1), failErr: errors.New("fail update")}
	relay := NewRelay(staticSource{}, publisherFunc(func(context.Context, event.Envelope) error {
		return errors.New("boom")
	}))

	err := relay.publishBatch(context.Background(), batch)
	if err == nil || !errors.Is(err, batch.failErr) {
		t.Fatalf("expected fail error, got %v", err)
	}
	if !batch.rolled {
		t.Fatalf("expected rollback on fail error")
	}
}

func TestRelayCommitErrorRollback(t *testing.T) {
	batch := &fakeBatch{records: testRecords(1), commitErr: errors.New("commit fail")}
	relay := NewRelay(staticSource{}, okPublisher())

	err := relay.publishBatch(context.Background(), batch)
	if err == nil || !errors.Is(err, batch.commitErr) {
		t.Fatalf("expected commit error, got %v", err)
	}
	if !batch.rolled {
		t.Fatalf("expected rollback on commit error")
	}
}

func TestRelayDeadClassifier(t *testing.T) {
	records := testRecords(2)
	batch := &fakeBatch{records: records}
	relay := NewRelay(staticSource{}, publisherFunc(func(_ context.Context, env event.Envelope) error {
		if env.RequestID == records[1].RequestID {
			return errors.New("boom")
		}
		return nil
	}), WithFailureClassifier(func(context.Context, Record, error) FailureAction {
		return FailureDead
	}))

	if err := relay.publishBatch(context.Background(), batch); err != nil {
		t.Fatalf("publish batch: %v", err)
	}
	if len(batch.dead) != 1 {
		t.Fatalf("expected 1 dead failure, got %d", len(batch.dead))
	}
	if len(batch.failures) != 0 {
		t.Fatalf("expected no retry failures, got %d", len(batch.failures))
	}
	if len(batch.published) != 1 {
		t.Fatalf("expected 1 published id, got %d", len(batch.published))
	}
	if !batch.committed {
		t.Fatalf("expected commit")
	}
}

func TestRelayDeadFallback(t *testing.T) {
	batch := &fakeBatchNoDead{records: testRecords(1)}
	relay := NewRelay(staticSource{}, publisherFunc(func(context.Context, event.Envelope) error {
		return errors.New("boom")
	}), WithFailureClassifier(func(context.Context, Record, error) FailureAction {
		return FailureDead
	}))

	if err := relay.publishBatch(context.Background(), batch); err != nil {
		t.Fatalf("publish batch: %v", err)
	}
	if len(batch.failures) != 1 {
		t.Fatalf("expected 1 failure fallback, got %d", len(batch.failures))
	}
	if !batch.committed {
		t.Fatalf("expected commit")
	}
}

func TestRelayPublishTimeoutApplied(t *testing.T) {
	batch := &fakeBatch{records: testRecords(1)}
	deadlineCh := make(chan time.Time, 1)
	relay := NewRelay(staticSource{}, publisherFunc(func(ctx context.Context, _ event.Envelope) error {
		if deadline, ok := ctx.Deadline(); ok {
			deadlineCh <- deadline
		}
		return nil
	}), WithPublishTimeout(100*time.Millisecond))

	if err := relay.publishBatch(context.Background(), batch); err != nil {
		t.Fatalf("publish batch: %v", err)
	}
	select {
	case <-deadlineCh:
	default:
		t.Fatalf("expected a deadline on the publish context")
	}
}

func TestRelayRunCancel(t *testing.T) {
	relay := NewRelay(staticSource{err: ErrNoRecords}, okPublisher(),
		WithPollInterval(time.Millisecond), WithWorkers(2))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- relay.Run(ctx)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("run did not stop after cancel")
	}
}

type pendingSource struct {
	staticSource
	count int
	calls int
}

func (s *pendingSource) PendingCount(context.Context) (int, error) {
	s.calls++
	return s.count, nil
}

type captureMetrics struct {
	NopMetrics
	pending int
	calls   int
}

func (m *captureMetrics) SetPending(count int) {
	m.pending = count
	m.calls++
}

func TestRelayPendingCount(t *testing.T) {
	source := &pendingSource{staticSource: staticSource{err: ErrNoRecords}, count: 9}
	metrics := &captureMetrics{}
	relay := NewRelay(source, okPublisher(),
		WithMetrics(metrics), WithPendingInterval(time.Minute))

	if _, err := relay.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if metrics.pending != 9 || metrics.calls != 1 {
		t.Fatalf("expected one pending sample of 9, got %d samples, value %d", metrics.calls, metrics.pending)
	}

	// Within the sample interval the counter is not polled again.
	if _, err := relay.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if source.calls != 1 {
		t.Fatalf("expected pending count to be sampled once, got %d", source.calls)
	}
}
