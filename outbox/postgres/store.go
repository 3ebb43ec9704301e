package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopflow/shopflow/event"
	"github.com/shopflow/shopflow/outbox"
)

const maxErrorLen = 1024

// Executor allows enqueuing within an existing transaction. Both pgx.Tx and
// *pgxpool.Pool satisfy it.
type Executor interface {
	// Exec executes a statement with the provided context.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store implements a PostgreSQL-backed outbox using polling + SKIP LOCKED.
type Store struct {
	pool    *pgxpool.Pool
	cfg     Config
	queries queries
	table   string
}

var _ outbox.Source = (*Store)(nil)
var _ outbox.PendingCounter = (*Store)(nil)

// NewStore constructs a PostgreSQL store with validated configuration.
func NewStore(pool *pgxpool.Pool, opts ...Option) (*Store, error) {
	if pool == nil {
		return nil, ErrPoolRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	table, err := sanitizeTableName(cfg.Table)
	if err != nil {
		return nil, err
	}

	return &Store{
		pool:    pool,
		cfg:     cfg,
		queries: newQueries(table),
		table:   table,
	}, nil
}

// MustNewStore constructs a PostgreSQL store or panics on error.
func MustNewStore(pool *pgxpool.Pool, opts ...Option) *Store {
	store, err := NewStore(pool, opts...)
	if err != nil {
		panic(err)
	}

	return store
}

// Enqueue inserts an outbox entry using the provided executor. Callers pass
// the transaction their business mutation runs in so both commit together.
func (s *Store) Enqueue(ctx context.Context, exec Executor, entry outbox.Entry) (uuid.UUID, error) {
	if exec == nil {
		return uuid.Nil, ErrExecutorRequired
	}
	if err := entry.Validate(); err != nil {
		return uuid.Nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("outbox postgres: generate id failed: %w", err)
	}

	_, err = exec.Exec(
		ctx,
		s.queries.insert,
		id.String(),
		entry.RequestID,
		string(entry.EventType),
		entry.Payload,
		s.cfg.Clock.Now(),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("outbox postgres: insert failed: %w", err)
	}

	return id, nil
}

// Fetch locks and returns a batch of unpublished records using
// READ COMMITTED + SKIP LOCKED, oldest first.
func (s *Store) Fetch(ctx context.Context, opts outbox.FetchOptions) (outbox.Batch, error) {
	if opts.BatchSize <= 0 {
		return nil, outbox.ErrInvalidBatchSize
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("outbox postgres: begin tx failed: %w", err)
	}

	records, err := s.selectBatch(ctx, tx, opts)
	if err != nil {
		rollbackErr := rollback(ctx, tx)

		return nil, errors.Join(err, rollbackErr)
	}
	if len(records) == 0 {
		_ = rollback(ctx, tx)

		return nil, outbox.ErrNoRecords
	}

	return &batch{tx: tx, store: s, records: records}, nil
}

func (s *Store) selectBatch(ctx context.Context, tx pgx.Tx, opts outbox.FetchOptions) ([]outbox.Record, error) {
	rows, err := tx.Query(ctx, s.queries.selectPending, opts.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("outbox postgres: select failed: %w", err)
	}
	defer rows.Close()

	records := make([]outbox.Record, 0, opts.BatchSize)
	for rows.Next() {
		var (
			idText    string
			requestID int64
			eventType string
			payload   []byte
			attempts  int
			createdAt time.Time
		)

		if err := rows.Scan(&idText, &requestID, &eventType, &payload, &attempts, &createdAt); err != nil {
			return nil, fmt.Errorf("outbox postgres: scan failed: %w", err)
		}

		id, err := uuid.Parse(idText)
		if err != nil {
			return nil, fmt.Errorf("outbox postgres: parse id failed: %w", err)
		}

		records = append(records, outbox.Record{
			ID:        id,
			RequestID: requestID,
			EventType: event.Type(eventType),
			Payload:   payload,
			Attempts:  attempts,
			CreatedAt: createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox postgres: rows failed: %w", err)
	}

	return records, nil
}

func (s *Store) markPublished(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	idText := make([]string, 0, len(ids))
	for _, id := range ids {
		idText = append(idText, id.String())
	}

	if _, err := tx.Exec(ctx, s.queries.markPublished, s.cfg.Clock.Now(), idText); err != nil {
		return fmt.Errorf("outbox postgres: mark published failed: %w", err)
	}

	return nil
}

func (s *Store) fail(ctx context.Context, tx pgx.Tx, failures []outbox.Failure) error {
	for _, failure := range failures {
		errText := truncateError(failure.Err)
		if _, err := tx.Exec(ctx, s.queries.failOne, errText, s.cfg.MaxAttempts, failure.ID.String()); err != nil {
			return fmt.Errorf("outbox postgres: fail update failed: %w", err)
		}
	}

	return nil
}

func (s *Store) dead(ctx context.Context, tx pgx.Tx, failures []outbox.Failure) error {
	for _, failure := range failures {
		errText := truncateError(failure.Err)
		if _, err := tx.Exec(ctx, s.queries.deadOne, errText, failure.ID.String()); err != nil {
			return fmt.Errorf("outbox postgres: dead update failed: %w", err)
		}
	}

	return nil
}

// PendingCount returns the number of unpublished rows.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, s.queries.countPending).Scan(&count); err != nil {
		return 0, fmt.Errorf("outbox postgres: pending count failed: %w", err)
	}

	return count, nil
}

func rollback(ctx context.Context, tx pgx.Tx) error {
	err := tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}

	return err
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	if utf8.RuneCountInString(msg) <= maxErrorLen {
		return msg
	}

	runes := []rune(msg)

	return string(runes[:maxErrorLen])
}
