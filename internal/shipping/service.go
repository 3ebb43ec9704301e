// Package shipping advances requests from billed to shipped. It consumes
// PAYMENT_PROCESSED, books a shipment with the partner, and commits the
// tracking reference together with the SHIPPING_CREATED record.
package shipping

import (
	"context"

	"github.com/shopflow/shopflow/event"
	"github.com/shopflow/shopflow/outbox"
	"github.com/shopflow/shopflow/saga"
)

// Service handles shipment creation.
type Service struct {
	store   saga.Store
	partner Partner
	clock   outbox.Clock
	log     outbox.Logger
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

// NewService constructs the shipping service.
func NewService(store saga.Store, partner Partner, opts ...Option) *Service {
	if store == nil {
		panic("shipping: nil Store")
	}
	if partner == nil {
		panic("shipping: nil Partner")
	}

	s := &Service{
		store:   store,
		partner: partner,
		clock:   outbox.SystemClock{},
		log:     outbox.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// HandlePaymentProcessed performs the billed -> shipped step.
func (s *Service) HandlePaymentProcessed(ctx context.Context, env event.Envelope) error {
	applied, err := saga.Apply(ctx, s.store, env.RequestID, event.TypePaymentProcessed,
		func(ctx context.Context, tx saga.Tx, req *saga.Request) error {
			user, err := tx.User(ctx, req.UserID)
			if err != nil {
				return err
			}

			trackingID, err := s.partner.CreateShipment(ctx, req.ID, user.Address)
			if err != nil {
				return err
			}
			req.TrackingID = trackingID

			next, err := event.New(event.TypeShippingCreated, req.ID, s.clock.Now(), event.ShippingCreated{
				TrackingID: trackingID,
				Address:    user.Address,
			})
			if err != nil {
				return err
			}

			return tx.AppendEvent(ctx, next)
		})
	if err != nil {
		if saga.IsPermanent(err) {
			s.log.Error("shipping failed permanently", "request", env.RequestID, "err", err)
			if failErr := saga.Fail(ctx, s.store, env.RequestID); failErr != nil {
				return failErr
			}
		}

		return err
	}

	if applied {
		s.log.Info("shipment created", "request", env.RequestID)
	}

	return nil
}
