package outbox

import (
	"context"

	"github.com/google/uuid"
)

// FetchOptions controls how unpublished records are selected.
type FetchOptions struct {
	BatchSize int
}

// Source provides locked batches of unpublished outbox records in creation
// order, oldest first.
type Source interface {
	// Fetch returns a batch of unpublished records locked for publishing, or
	// ErrNoRecords when nothing is pending.
	Fetch(ctx context.Context, opts FetchOptions) (Batch, error)
}

// Batch is a locked set of records fetched for publishing. The lock bounds
// concurrent relays: two relay passes never publish the same record at the
// same time, and the published flag keeps the mark step idempotent even if
// they race across crashes.
type Batch interface {
	// Records returns the fetched records, oldest first.
	Records() []Record
	// MarkPublished flips published to true and stamps the publish time for
	// the given records. Records already published are left untouched.
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
	// Fail increments the attempt count for each failed record, parking
	// records that reached the attempt limit.
	Fail(ctx context.Context, failures []Failure) error
	// Commit finalizes the batch transaction.
	Commit() error
	// Rollback releases locks without applying any changes.
	Rollback() error
}

// DeadBatch supports parking records without burning the remaining attempts.
type DeadBatch interface {
	// Dead parks the given records as permanently unpublishable.
	Dead(ctx context.Context, failures []Failure) error
}

// PendingCounter reports the number of unpublished records.
type PendingCounter interface {
	// PendingCount returns the current number of unpublished records.
	PendingCount(ctx context.Context) (int, error)
}
