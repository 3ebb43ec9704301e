// Package billing advances requests from invoiced to billed. It consumes
// INVOICE_GENERATED, re-checks the total invariant against the stored items,
// charges the customer, and commits the charge reference together with the
// PAYMENT_PROCESSED record.
package billing

import (
	"context"

	"github.com/shopflow/shopflow/event"
	"github.com/shopflow/shopflow/outbox"
	"github.com/shopflow/shopflow/saga"
)

// Service handles payment processing.
type Service struct {
	store   saga.Store
	charger Charger
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

// NewService constructs the billing service.
func NewService(store saga.Store, charger Charger, opts ...Option) *Service {
	if store == nil {
		panic("billing: nil Store")
	}
	if charger == nil {
		panic("billing: nil Charger")
	}

	s := &Service{
		store:   store,
		charger: charger,
		clock:   outbox.SystemClock{},
		log:     outbox.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// HandleInvoiceGenerated performs the invoiced -> billed step. A total
// mismatch is permanent: the request is driven to failed, no charge is made
// and no business event is emitted.
func (s *Service) HandleInvoiceGenerated(ctx context.Context, env event.Envelope) error {
	applied, err := saga.Apply(ctx, s.store, env.RequestID, event.TypeInvoiceGenerated,
		func(ctx context.Context, tx saga.Tx, req *saga.Request) error {
			items, err := tx.Items(ctx, req.ID)
			if err != nil {
				return err
			}
			if err := saga.VerifyTotal(req.TotalPrice, items); err != nil {
				return err
			}

			user, err := tx.User(ctx, req.UserID)
			if err != nil {
				return err
			}

			// The charge happens before commit. If the commit is lost the
			// redelivered event charges again with the same idempotency key,
			// which the provider resolves to the original charge.
			chargeID, err := s.charger.Charge(ctx, user.CustomerID, req.TotalPrice, req.ID)
			if err != nil {
				return err
			}
			req.ChargeID = chargeID

			next, err := event.New(event.TypePaymentProcessed, req.ID, s.clock.Now(), event.PaymentProcessed{
				ChargeID:   chargeID,
				Amount:     req.TotalPrice,
				CustomerID: user.CustomerID,
			})
			if err != nil {
				return err
			}

			return tx.AppendEvent(ctx, next)
		})
	if err != nil {
		if saga.IsPermanent(err) {
			s.log.Error("billing failed permanently", "request", env.RequestID, "err", err)
			if failErr := saga.Fail(ctx, s.store, env.RequestID); failErr != nil {
				return failErr
			}
		}

		return err
	}

	if applied {
		s.log.Info("payment processed", "request", env.RequestID)
	}

	return nil
}
