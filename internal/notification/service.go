// Package notification emails the customer at every step of the saga. It is
// also the service that closes the saga: consuming SHIPPING_CREATED moves the
// request from shipped to completed and emits ORDER_COMPLETED.
package notification

import (
	"context"

	"github.com/shopflow/shopflow/consumer"
	"github.com/shopflow/shopflow/event"
	"github.com/shopflow/shopflow/outbox"
	"github.com/shopflow/shopflow/saga"
)

// Service handles customer notifications.
type Service struct {
	store  saga.Store
	mailer Mailer
	clock  outbox.Clock
	log    outbox.Logger
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

// NewService constructs the notification service.
func NewService(store saga.Store, mailer Mailer, opts ...Option) *Service {
	if store == nil {
		panic("notification: nil Store")
	}
	if mailer == nil {
		panic("notification: nil Mailer")
	}

	s := &Service{
		store:  store,
		mailer: mailer,
		clock:  outbox.SystemClock{},
		log:    outbox.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Register wires every handler this service owns into the loop.
func (s *Service) Register(loop *consumer.Loop) {
	loop.Handle(event.TypeRequestCreated, s.HandleRequestCreated)
	loop.Handle(event.TypeInvoiceGenerated, s.HandleInvoiceGenerated)
	loop.Handle(event.TypePaymentProcessed, s.HandlePaymentProcessed)
	loop.Handle(event.TypeShippingCreated, s.HandleShippingCreated)
	loop.Handle(event.TypeOrderCompleted, s.HandleOrderCompleted)
}

// HandleRequestCreated emails the order confirmation.
func (s *Service) HandleRequestCreated(ctx context.Context, env event.Envelope) error {
	var payload event.RequestCreated
	if err := env.Decode(&payload); err != nil {
		return err
	}

	return s.email(ctx, env, templateData{
		RequestID: env.RequestID,
		Total:     payload.TotalPrice.StringFixed(2),
	})
}

// HandleInvoiceGenerated emails the invoice link.
func (s *Service) HandleInvoiceGenerated(ctx context.Context, env event.Envelope) error {
	var payload event.InvoiceGenerated
	if err := env.Decode(&payload); err != nil {
		return err
	}

	return s.email(ctx, env, templateData{
		RequestID: env.RequestID,
		PDFURL:    payload.PDFURL,
	})
}

// HandlePaymentProcessed emails the payment confirmation.
func (s *Service) HandlePaymentProcessed(ctx context.Context, env event.Envelope) error {
	var payload event.PaymentProcessed
	if err := env.Decode(&payload); err != nil {
		return err
	}

	return s.email(ctx, env, templateData{
		RequestID: env.RequestID,
		Total:     payload.Amount.StringFixed(2),
		ChargeID:  payload.ChargeID,
	})
}

// HandleShippingCreated performs the shipped -> completed step and emails the
// tracking reference. The status change and the ORDER_COMPLETED record commit
// together; the email goes out only after the step is durable.
func (s *Service) HandleShippingCreated(ctx context.Context, env event.Envelope) error {
	var payload event.ShippingCreated
	if err := env.Decode(&payload); err != nil {
		return err
	}

	_, err := saga.Apply(ctx, s.store, env.RequestID, event.TypeShippingCreated,
		func(ctx context.Context, tx saga.Tx, req *saga.Request) error {
			next, err := event.New(event.TypeOrderCompleted, req.ID, s.clock.Now(), event.OrderCompleted{
				RequestID: req.ID,
				Status:    saga.StatusCompleted.String(),
			})
			if err != nil {
				return err
			}

			return tx.AppendEvent(ctx, next)
		})
	if err != nil {
		if saga.IsPermanent(err) {
			s.log.Error("completion failed permanently", "request", env.RequestID, "err", err)
			if failErr := saga.Fail(ctx, s.store, env.RequestID); failErr != nil {
				return failErr
			}
		}

		return err
	}

	return s.email(ctx, env, templateData{
		RequestID:  env.RequestID,
		TrackingID: payload.TrackingID,
	})
}

// HandleOrderCompleted emails the closing confirmation.
func (s *Service) HandleOrderCompleted(ctx context.Context, env event.Envelope) error {
	return s.email(ctx, env, templateData{RequestID: env.RequestID})
}

func (s *Service) email(ctx context.Context, env event.Envelope, data templateData) error {
	var user saga.User
	err := s.store.Execute(ctx, func(ctx context.Context, tx saga.Tx) error {
		req, err := tx.Request(ctx, env.RequestID)
		if err != nil {
			return err
		}
		user, err = tx.User(ctx, req.UserID)

		return err
	})
	if err != nil {
		return err
	}

	subject, body, err := render(env.EventType.String(), env.RequestID, data)
	if err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, user.Email, subject, body); err != nil {
		return err
	}

	s.log.Info("email sent", "request", env.RequestID, "event", env.EventType, "to", user.Email)

	return nil
}
