// Package intake creates fulfillment requests. It is the entry point of the
// saga: a request row, its items and the REQUEST_CREATED outbox record commit
// in one transaction, and everything after that is driven by events.
package intake

import (
	"context"
	"fmt"

	"github.com/shopflow/shopflow/event"
	"github.com/shopflow/shopflow/outbox"
	"github.com/shopflow/shopflow/saga"
)

// Line is one ordered product as submitted by the client. Prices are never
// client-supplied; the service snapshots them from the catalog.
type Line struct {
	ProductID int64
	Quantity  int
}

// Service handles request intake.
type Service struct {
	store saga.Store
	cache *ProductCache
	clock outbox.Clock
	log   outbox.Logger
}

// Option configures the service.
type Option func(*Service)

// WithCache sets the product catalog cache.
func WithCache(cache *ProductCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

// WithClock sets the time source.
func WithClock(clock outbox.Clock) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// WithLogger sets the service logger.
func WithLogger(log outbox.Logger) Option {
	return func(s *Service) {
		s.log = log
	}
}

// NewService constructs the intake service.
func NewService(store saga.Store, opts ...Option) *Service {
	if store == nil {
		panic("intake: nil Store")
	}

	s := &Service{
		store: store,
		clock: outbox.SystemClock{},
		log:   outbox.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// CreateRequest validates the order, snapshots current catalog prices, and
// commits the pending request together with its REQUEST_CREATED record.
func (s *Service) CreateRequest(ctx context.Context, userID int64, lines []Line) (int64, error) {
	if len(lines) == 0 {
		return 0, saga.ErrNoItems
	}
	for _, line := range lines {
		if line.Quantity <= 0 {
			return 0, fmt.Errorf("%w: product %d", saga.ErrInvalidQuantity, line.ProductID)
		}
	}

	var requestID int64
	err := s.store.Execute(ctx, func(ctx context.Context, tx saga.Tx) error {
		if _, err := tx.User(ctx, userID); err != nil {
			return err
		}

		ids := make([]int64, len(lines))
		for i, line := range lines {
			ids[i] = line.ProductID
		}
		products, err := tx.Products(ctx, ids)
		if err != nil {
			return err
		}

		prices := make(map[int64]saga.Product, len(products))
		for _, p := range products {
			prices[p.ID] = p
		}

		items := make([]saga.Item, len(lines))
		productLines := make([]event.ProductLine, len(lines))
		for i, line := range lines {
			p := prices[line.ProductID]
			items[i] = saga.Item{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
				Price:     p.Price,
			}
			productLines[i] = event.ProductLine{
				ID:       line.ProductID,
				Quantity: line.Quantity,
				Price:    p.Price,
			}
		}

		req := saga.Request{
			UserID:     userID,
			TotalPrice: saga.ItemsTotal(items),
			Status:     saga.StatusPending,
		}
		if err := tx.CreateRequest(ctx, &req, items); err != nil {
			return err
		}

		env, err := event.New(event.TypeRequestCreated, req.ID, s.clock.Now(), event.RequestCreated{
			UserID:     userID,
			TotalPrice: req.TotalPrice,
			Products:   productLines,
		})
		if err != nil {
			return err
		}
		if err := tx.AppendEvent(ctx, env); err != nil {
			return err
		}

		requestID = req.ID

		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Info("request created", "request", requestID, "user", userID)

	return requestID, nil
}

// Request returns the current state of a request.
func (s *Service) Request(ctx context.Context, id int64) (saga.Request, error) {
	var req saga.Request
	err := s.store.Execute(ctx, func(ctx context.Context, tx saga.Tx) error {
		var err error
		req, err = tx.Request(ctx, id)

		return err
	})

	return req, err
}

// Products returns the catalog, served from the cache when possible.
func (s *Service) Products(ctx context.Context) ([]saga.Product, error) {
	if products, ok := s.cache.Get(ctx); ok {
		return products, nil
	}

	var products []saga.Product
	err := s.store.Execute(ctx, func(ctx context.Context, tx saga.Tx) error {
		var err error
		products, err = tx.ListProducts(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	s.cache.Set(ctx, products)

	return products, nil
}
