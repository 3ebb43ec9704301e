package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/shopflow/shopflow/outbox"
)

type batch struct {
	tx      pgx.Tx
	store   *Store
	records []outbox.Record
}

var _ outbox.Batch = (*batch)(nil)
var _ outbox.DeadBatch = (*batch)(nil)

// Records returns the records fetched for this batch.
func (b *batch) Records() []outbox.Record {
	return b.records
}

// MarkPublished flips the published flag for the given records.
func (b *batch) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	return b.store.markPublished(ctx, b.tx, ids)
}

// Fail increments attempts, parking records at the attempt limit.
func (b *batch) Fail(ctx context.Context, failures []outbox.Failure) error {
	return b.store.fail(ctx, b.tx, failures)
}

// Dead parks the given records immediately.
func (b *batch) Dead(ctx context.Context, failures []outbox.Failure) error {
	return b.store.dead(ctx, b.tx, failures)
}

// Commit finalizes the batch transaction.
func (b *batch) Commit() error {
	return b.tx.Commit(context.Background())
}

// Rollback releases locks without applying any changes.
func (b *batch) Rollback() error {
	return rollback(context.Background(), b.tx)
}
