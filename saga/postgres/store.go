// Package postgres implements the saga store on PostgreSQL with pgx. Each
// Execute call runs in one database transaction; the request row lock taken
// by RequestForUpdate serializes concurrent deliveries for the same request,
// and staged outbox records commit atomically with the business writes.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/shopflow/shopflow/event"
	"github.com/shopflow/shopflow/outbox"
	outboxpg "github.com/shopflow/shopflow/outbox/postgres"
	"github.com/shopflow/shopflow/saga"
)

// ErrPoolRequired is returned when the store is constructed without a pool.
var ErrPoolRequired = errors.New("saga postgres: pool is required")

// ErrOutboxRequired is returned when the store is constructed without an
// outbox to stage events into.
var ErrOutboxRequired = errors.New("saga postgres: outbox store is required")

// Store is a PostgreSQL-backed saga store.
type Store struct {
	pool   *pgxpool.Pool
	outbox *outboxpg.Store
}

var _ saga.Store = (*Store)(nil)

// NewStore constructs a store that stages outbox records through ob inside
// the same transaction as the business writes.
func NewStore(pool *pgxpool.Pool, ob *outboxpg.Store) (*Store, error) {
	if pool == nil {
		return nil, ErrPoolRequired
	}
	if ob == nil {
		return nil, ErrOutboxRequired
	}

	return &Store{pool: pool, outbox: ob}, nil
}

// MustNewStore constructs a store or panics on error.
func MustNewStore(pool *pgxpool.Pool, ob *outboxpg.Store) *Store {
	store, err := NewStore(pool, ob)
	if err != nil {
		panic(err)
	}

	return store
}

// Execute runs fn in one transaction. Any error rolls everything back.
func (s *Store) Execute(ctx context.Context, fn func(ctx context.Context, tx saga.Tx) error) error {
	pgxTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("saga postgres: begin tx failed: %w", err)
	}

	if err := fn(ctx, &tx{tx: pgxTx, outbox: s.outbox}); err != nil {
		rollbackErr := rollback(ctx, pgxTx)

		return errors.Join(err, rollbackErr)
	}

	if err := pgxTx.Commit(ctx); err != nil {
		return fmt.Errorf("saga postgres: commit failed: %w", err)
	}

	return nil
}

type tx struct {
	tx     pgx.Tx
	outbox *outboxpg.Store
}

var _ saga.Tx = (*tx)(nil)

func (t *tx) Request(ctx context.Context, id int64) (saga.Request, error) {
	return t.scanRequest(t.tx.QueryRow(ctx, selectRequest, id))
}

func (t *tx) RequestForUpdate(ctx context.Context, id int64) (saga.Request, error) {
	return t.scanRequest(t.tx.QueryRow(ctx, selectRequestForUpdate, id))
}

func (t *tx) scanRequest(row pgx.Row) (saga.Request, error) {
	var (
		req   saga.Request
		total string
	)
	err := row.Scan(&req.ID, &req.UserID, &total, &req.Status, &req.ChargeID, &req.TrackingID, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return saga.Request{}, saga.ErrRequestNotFound
	}
	if err != nil {
		return saga.Request{}, fmt.Errorf("saga postgres: scan request failed: %w", err)
	}

	req.TotalPrice, err = decimal.NewFromString(total)
	if err != nil {
		return saga.Request{}, fmt.Errorf("saga postgres: parse total failed: %w", err)
	}

	return req, nil
}

func (t *tx) CreateRequest(ctx context.Context, req *saga.Request, items []saga.Item) error {
	if len(items) == 0 {
		return saga.ErrNoItems
	}

	row := t.tx.QueryRow(ctx, insertRequest, req.UserID, req.TotalPrice.String(), string(req.Status))
	if err := row.Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt); err != nil {
		return fmt.Errorf("saga postgres: insert request failed: %w", err)
	}

	for i := range items {
		items[i].RequestID = req.ID
		row := t.tx.QueryRow(ctx, insertItem,
			req.ID, items[i].ProductID, items[i].Quantity, items[i].Price.String())
		if err := row.Scan(&items[i].ID, &items[i].CreatedAt); err != nil {
			return fmt.Errorf("saga postgres: insert item failed: %w", err)
		}
	}

	return nil
}

func (t *tx) UpdateRequest(ctx context.Context, req saga.Request) error {
	tag, err := t.tx.Exec(ctx, updateRequest, req.ID, string(req.Status), req.ChargeID, req.TrackingID)
	if err != nil {
		return fmt.Errorf("saga postgres: update request failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return saga.ErrRequestNotFound
	}

	return nil
}

func (t *tx) Items(ctx context.Context, requestID int64) ([]saga.Item, error) {
	rows, err := t.tx.Query(ctx, selectItems, requestID)
	if err != nil {
		return nil, fmt.Errorf("saga postgres: select items failed: %w", err)
	}
	defer rows.Close()

	var items []saga.Item
	for rows.Next() {
		var (
			item  saga.Item
			price string
		)
		if err := rows.Scan(&item.ID, &item.RequestID, &item.ProductID, &item.Quantity, &price, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("saga postgres: scan item failed: %w", err)
		}
		item.Price, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("saga postgres: parse item price failed: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("saga postgres: items rows failed: %w", err)
	}

	return items, nil
}

func (t *tx) User(ctx context.Context, id int64) (saga.User, error) {
	var u saga.User
	err := t.tx.QueryRow(ctx, selectUser, id).Scan(&u.ID, &u.Email, &u.CustomerID, &u.Address)
	if errors.Is(err, pgx.ErrNoRows) {
		return saga.User{}, saga.ErrUserNotFound
	}
	if err != nil {
		return saga.User{}, fmt.Errorf("saga postgres: scan user failed: %w", err)
	}

	return u, nil
}

func (t *tx) Products(ctx context.Context, ids []int64) ([]saga.Product, error) {
	rows, err := t.tx.Query(ctx, selectProducts, ids)
	if err != nil {
		return nil, fmt.Errorf("saga postgres: select products failed: %w", err)
	}
	defer rows.Close()

	found := make(map[int64]saga.Product, len(ids))
	for rows.Next() {
		var (
			p     saga.Product
			price string
		)
		if err := rows.Scan(&p.ID, &p.Name, &price); err != nil {
			return nil, fmt.Errorf("saga postgres: scan product failed: %w", err)
		}
		p.Price, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("saga postgres: parse product price failed: %w", err)
		}
		found[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("saga postgres: products rows failed: %w", err)
	}

	// Preserve the requested order and surface the first missing id.
	products := make([]saga.Product, 0, len(ids))
	for _, id := range ids {
		p, ok := found[id]
		if !ok {
			return nil, fmt.Errorf("%w: id %d", saga.ErrProductNotFound, id)
		}
		products = append(products, p)
	}

	return products, nil
}

func (t *tx) ListProducts(ctx context.Context) ([]saga.Product, error) {
	rows, err := t.tx.Query(ctx, listProducts)
	if err != nil {
		return nil, fmt.Errorf("saga postgres: list products failed: %w", err)
	}
	defer rows.Close()

	var products []saga.Product
	for rows.Next() {
		var (
			p     saga.Product
			price string
		)
		if err := rows.Scan(&p.ID, &p.Name, &price); err != nil {
			return nil, fmt.Errorf("saga postgres: scan product failed: %w", err)
		}
		p.Price, err = decimal.NewFromString(price)
		if err != nil {
			return nil, fmt.Errorf("saga postgres: parse product price failed: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("saga postgres: products rows failed: %w", err)
	}

	return products, nil
}

func (t *tx) CreateInvoice(ctx context.Context, inv *saga.Invoice) error {
	row := t.tx.QueryRow(ctx, insertInvoice, inv.RequestID, inv.PDFURL)
	if err := row.Scan(&inv.ID, &inv.CreatedAt); err != nil {
		return fmt.Errorf("saga postgres: insert invoice failed: %w", err)
	}

	return nil
}

func (t *tx) Invoice(ctx context.Context, requestID int64) (saga.Invoice, error) {
	var inv saga.Invoice
	err := t.tx.QueryRow(ctx, selectInvoice, requestID).Scan(&inv.ID, &inv.RequestID, &inv.PDFURL, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return saga.Invoice{}, saga.ErrRequestNotFound
	}
	if err != nil {
		return saga.Invoice{}, fmt.Errorf("saga postgres: scan invoice failed: %w", err)
	}

	return inv, nil
}

func (t *tx) AppendEvent(ctx context.Context, env event.Envelope) error {
	_, err := t.outbox.Enqueue(ctx, t.tx, outbox.FromEnvelope(env))

	return err
}

func rollback(ctx context.Context, tx pgx.Tx) error {
	err := tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}

	return err
}
