package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/shopflow/shopflow/event"
	"github.com/shopflow/shopflow/outbox"
)

func appendEntries(t *testing.T, store *Store, n int) []outbox.Record {
	t.Helper()
	records := make([]outbox.Record, n)
	for i := range records {
		rec, err := store.Append(context.Background(), outbox.Entry{
			RequestID: int64(i + 1),
			EventType: event.TypeRequestCreated,
			Payload:   []byte(`{}`),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		records[i] = rec
	}
	return records
}

func fetchIDs(t *testing.T, store *Store) []uuid.UUID {
	t.Helper()
	batch, err := store.Fetch(context.Background(), outbox.FetchOptions{BatchSize: 100})
	if errors.Is(err, outbox.ErrNoRecords) {
		return nil
	}
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	ids := make([]uuid.UUID, 0, len(batch.Records()))
	for _, rec := range batch.Records() {
		ids = append(ids, rec.ID)
	}
	if err := batch.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	return ids
}

func TestStoreFetchOldestFirst(t *testing.T) {
	store := NewStore()
	records := appendEntries(t, store, 3)

	batch, err := store.Fetch(context.Background(), outbox.FetchOptions{BatchSize: 2})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	got := batch.Records()
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].ID != records[0].ID || got[1].ID != records[1].ID {
		t.Fatalf("expected creation order, got %v then %v", got[0].RequestID, got[1].RequestID)
	}
	if err := batch.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
}

func TestStoreFetchSkipsInFlight(t *testing.T) {
	store := NewStore()
	appendEntries(t, store, 1)

	first, err := store.Fetch(context.Background(), outbox.FetchOptions{BatchSize: 10})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if _, err := store.Fetch(context.Background(), outbox.FetchOptions{BatchSize: 10}); !errors.Is(err, outbox.ErrNoRecords) {
		t.Fatalf("expected locked record to be skipped, got %v", err)
	}

	if err := first.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if got := fetchIDs(t, store); len(got) != 1 {
		t.Fatalf("expected record to be fetchable after rollback, got %d", len(got))
	}
}

func TestStorePublishedNeverRefetched(t *testing.T) {
	store := NewStore()
	records := appendEntries(t, store, 2)

	batch, err := store.Fetch(context.Background(), outbox.FetchOptions{BatchSize: 10})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if err := batch.MarkPublished(context.Background(), []uuid.UUID{records[0].ID}); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	remaining := fetchIDs(t, store)
	if len(remaining) != 1 || remaining[0] != records[1].ID {
		t.Fatalf("expected only the unpublished record, got %v", remaining)
	}

	rec, ok := store.Record(records[0].ID)
	if !ok || !rec.Published || rec.PublishedAt == nil {
		t.Fatalf("expected published record with timestamp, got %+v", rec)
	}
}

func TestStoreFailParksAtAttemptLimit(t *testing.T) {
	store := NewStore(WithMaxAttempts(2))
	records := appendEntries(t, store, 1)
	boom := errors.New("boom")

	for attempt := 1; attempt <= 2; attempt++ {
		batch, err := store.Fetch(context.Background(), outbox.FetchOptions{BatchSize: 10})
		if err != nil {
			t.Fatalf("fetch attempt %d: %v", attempt, err)
		}
		if err := batch.Fail(context.Background(), []outbox.Failure{{ID: records[0].ID, Err: boom}}); err != nil {
			t.Fatalf("fail: %v", err)
		}
		if err := batch.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
	}

	if got := fetchIDs(t, store); len(got) != 0 {
		t.Fatalf("expected parked record to be skipped, got %v", got)
	}
	rec, _ := store.Record(records[0].ID)
	if rec.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", rec.Attempts)
	}

	count, err := store.PendingCount(context.Background())
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no pending records, got %d", count)
	}
}

func TestStorePendingCount(t *testing.T) {
	store := NewStore()
	records := appendEntries(t, store, 3)

	batch, err := store.Fetch(context.Background(), outbox.FetchOptions{BatchSize: 10})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if err := batch.MarkPublished(context.Background(), []uuid.UUID{records[0].ID}); err != nil {
		t.Fatalf("mark published: %v", err)
	}
	if err := batch.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	count, err := store.PendingCount(context.Background())
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 pending, got %d", count)
	}
}

func TestStoreAppendValidates(t *testing.T) {
	store := NewStore()
	_, err := store.Append(context.Background(), outbox.Entry{EventType: event.TypeRequestCreated, Payload: []byte(`{}`)})
	if !errors.Is(err, outbox.ErrRequestIDRequired) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
