// Package memory provides an in-memory saga store for local runs and tests.
// Transactions are emulated by staging every write and applying the stage on
// commit; the store mutex plays the role of the row lock, so two Execute
// calls for the same request serialize exactly like they would on postgres.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopflow/shopflow/event"
	"github.com/shopflow/shopflow/outbox"
	outboxmem "github.com/shopflow/shopflow/outbox/memory"
	"github.com/shopflow/shopflow/saga"
)

// Store is an in-memory saga store.
type Store struct {
	mu       sync.Mutex
	requests map[int64]saga.Request
	items    map[int64][]saga.Item
	users    map[int64]saga.User
	products map[int64]saga.Product
	invoices map[int64]saga.Invoice

	nextRequestID int64
	nextItemID    int64
	nextInvoiceID int64

	outbox *outboxmem.Store
	clock  outbox.Clock
}

var _ saga.Store = (*Store)(nil)

// Option configures the store.
type Option func(*Store)

// WithClock sets the time source.
func WithClock(clock outbox.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// NewStore constructs an empty store whose transactions also stage records
// into the given outbox.
func NewStore(ob *outboxmem.Store, opts ...Option) *Store {
	if ob == nil {
		panic("saga memory: nil outbox store")
	}

	s := &Store{
		requests: make(map[int64]saga.Request),
		items:    make(map[int64][]saga.Item),
		users:    make(map[int64]saga.User),
		products: make(map[int64]saga.Product),
		invoices: make(map[int64]saga.Invoice),
		outbox:   ob,
		clock:    outbox.SystemClock{},
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Outbox returns the outbox this store stages events into.
func (s *Store) Outbox() *outboxmem.Store {
	return s.outbox
}

// SeedUser inserts a user directly, bypassing transactions.
func (s *Store) SeedUser(u saga.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// SeedProduct inserts a catalog entry directly, bypassing transactions.
func (s *Store) SeedProduct(p saga.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// RequestByID returns a request outside any transaction. Test helper.
func (s *Store) RequestByID(id int64) (saga.Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]

	return req, ok
}

// InvoiceByRequest returns the invoice for a request, if any. Test helper.
func (s *Store) InvoiceByRequest(requestID int64) (saga.Invoice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, ok := s.invoices[requestID]

	return inv, ok
}

// Execute runs fn under the store mutex with all writes staged. The stage is
// applied only when fn returns nil; any error discards it, outbox events
// included.
func (s *Store) Execute(ctx context.Context, fn func(ctx context.Context, tx saga.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{
		store:    s,
		requests: make(map[int64]saga.Request),
		items:    make(map[int64][]saga.Item),
		invoices: make(map[int64]saga.Invoice),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}

	return t.commit(ctx)
}

// tx stages writes against the store. Reads consult the stage first so the
// transaction observes its own mutations.
type tx struct {
	store    *Store
	requests map[int64]saga.Request
	items    map[int64][]saga.Item
	invoices map[int64]saga.Invoice
	events   []event.Envelope
}

var _ saga.Tx = (*tx)(nil)

func (t *tx) Request(_ context.Context, id int64) (saga.Request, error) {
	if req, ok := t.requests[id]; ok {
		return req, nil
	}
	if req, ok := t.store.requests[id]; ok {
		return req, nil
	}

	return saga.Request{}, saga.ErrRequestNotFound
}

func (t *tx) RequestForUpdate(ctx context.Context, id int64) (saga.Request, error) {
	// The store mutex already serializes transactions.
	return t.Request(ctx, id)
}

func (t *tx) CreateRequest(_ context.Context, req *saga.Request, items []saga.Item) error {
	if len(items) == 0 {
		return saga.ErrNoItems
	}

	now := t.store.clock.Now()
	t.store.nextRequestID++
	req.ID = t.store.nextRequestID
	req.CreatedAt = now
	req.UpdatedAt = now
	t.requests[req.ID] = *req

	staged := make([]saga.Item, len(items))
	for i, item := range items {
		t.store.nextItemID++
		item.ID = t.store.nextItemID
		item.RequestID = req.ID
		item.CreatedAt = now
		staged[i] = item
	}
	t.items[req.ID] = staged

	return nil
}

func (t *tx) UpdateRequest(ctx context.Context, req saga.Request) error {
	if _, err := t.Request(ctx, req.ID); err != nil {
		return err
	}

	req.UpdatedAt = t.store.clock.Now()
	t.requests[req.ID] = req

	return nil
}

func (t *tx) Items(_ context.Context, requestID int64) ([]saga.Item, error) {
	if items, ok := t.items[requestID]; ok {
		return append([]saga.Item(nil), items...), nil
	}

	return append([]saga.Item(nil), t.store.items[requestID]...), nil
}

func (t *tx) User(_ context.Context, id int64) (saga.User, error) {
	u, ok := t.store.users[id]
	if !ok {
		return saga.User{}, saga.ErrUserNotFound
	}

	return u, nil
}

func (t *tx) Products(_ context.Context, ids []int64) ([]saga.Product, error) {
	products := make([]saga.Product, 0, len(ids))
	for _, id := range ids {
		p, ok := t.store.products[id]
		if !ok {
			return nil, saga.ErrProductNotFound
		}
		products = append(products, p)
	}

	return products, nil
}

func (t *tx) ListProducts(_ context.Context) ([]saga.Product, error) {
	products := make([]saga.Product, 0, len(t.store.products))
	for _, p := range t.store.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].ID < products[j].ID })

	return products, nil
}

func (t *tx) CreateInvoice(_ context.Context, inv *saga.Invoice) error {
	t.store.nextInvoiceID++
	inv.ID = t.store.nextInvoiceID
	inv.CreatedAt = t.store.clock.Now()
	t.invoices[inv.RequestID] = *inv

	return nil
}

func (t *tx) Invoice(_ context.Context, requestID int64) (saga.Invoice, error) {
	if inv, ok := t.invoices[requestID]; ok {
		return inv, nil
	}
	if inv, ok := t.store.invoices[requestID]; ok {
		return inv, nil
	}

	return saga.Invoice{}, saga.ErrRequestNotFound
}

func (t *tx) AppendEvent(_ context.Context, env event.Envelope) error {
	t.events = append(t.events, env)

	return nil
}

func (t *tx) commit(ctx context.Context) error {
	for _, env := range t.events {
		if _, err := t.store.outbox.Append(ctx, outbox.FromEnvelope(env)); err != nil {
			return err
		}
	}

	for id, req := range t.requests {
		t.store.requests[id] = req
	}
	for id, items := range t.items {
		t.store.items[id] = items
	}
	for id, inv := range t.invoices {
		t.store.invoices[id] = inv
	}

	return nil
}
