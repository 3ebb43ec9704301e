// Package invoicing advances requests from pending to invoiced. It consumes
// REQUEST_CREATED, renders the invoice artifact, and commits the invoice row,
// the status change and the INVOICE_GENERATED record together.
package invoicing

import (
	"context"

	"github.com/shopflow/shopflow/event"
	"github.com/shopflow/shopflow/outbox"
	"github.com/shopflow/shopflow/saga"
)

// Service handles invoice generation.
type Service struct {
	store    saga.Store
	renderer Renderer
	clock    outbox.Clock
	log      outbox.Logger
}

// Option configures the service.
type Option func(*Service)

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

// NewService constructs the invoicing service.
func NewService(store saga.Store, renderer Renderer, opts ...Option) *Service {
	if store == nil {
		panic("invoicing: nil Store")
	}
	if renderer == nil {
		panic("invoicing: nil Renderer")
	}

	s := &Service{
		store:    store,
		renderer: renderer,
		clock:    outbox.SystemClock{},
		log:      outbox.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// HandleRequestCreated performs the pending -> invoiced step. Duplicate or
// out-of-order deliveries are absorbed without a second artifact or event.
func (s *Service) HandleRequestCreated(ctx context.Context, env event.Envelope) error {
	applied, err := saga.Apply(ctx, s.store, env.RequestID, event.TypeRequestCreated,
		func(ctx context.Context, tx saga.Tx, req *saga.Request) error {
			user, err := tx.User(ctx, req.UserID)
			if err != nil {
				return err
			}
			items, err := tx.Items(ctx, req.ID)
			if err != nil {
				return err
			}

			pdfURL, err := s.renderer.Render(ctx, *req, items, user)
			if err != nil {
				return err
			}

			inv := saga.Invoice{RequestID: req.ID, PDFURL: pdfURL}
			if err := tx.CreateInvoice(ctx, &inv); err != nil {
				return err
			}

			next, err := event.New(event.TypeInvoiceGenerated, req.ID, s.clock.Now(), event.InvoiceGenerated{
				InvoiceID:  inv.ID,
				PDFURL:     pdfURL,
				TotalPrice: req.TotalPrice,
			})
			if err != nil {
				return err
			}

			return tx.AppendEvent(ctx, next)
		})
	if err != nil {
		if saga.IsPermanent(err) {
			s.log.Error("invoicing failed permanently", "request", env.RequestID, "err", err)
			if failErr := saga.Fail(ctx, s.store, env.RequestID); failErr != nil {
				return failErr
			}
		}

		return err
	}

	if applied {
		s.log.Info("invoice generated", "request", env.RequestID)
	}

	return nil
}
