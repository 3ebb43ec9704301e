// Package consumer runs the per-service polling cycle against the broker.
//
// Each service registers a handler per event type it cares about. The loop
// receives batches, dispatches concurrently, and acknowledges a delivery
// only after its handler succeeds; a failed handler leaves the delivery
// unacknowledged so the broker redelivers it after the visibility timeout.
// That redelivery IS the retry mechanism; handlers carry no retry logic of
// their own and must be idempotent.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopflow/shopflow/broker"
	"github.com/shopflow/shopflow/event"
)

// Handler processes one decoded event.
type Handler func(ctx context.Context, env event.Envelope) error

// Loop polls a broker client and dispatches deliveries by event type.
type Loop struct {
	client   broker.Client
	handlers map[event.Type]Handler
	cfg      Config
}

// New constructs a loop with defaults and optional settings.
func New(client broker.Client, opts ...Option) *Loop {
	if client == nil {
		panic("consumer: nil Client")
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Loop{
		client:   client,
		handlers: make(map[event.Type]Handler),
		cfg:      cfg,
	}
}

// Handle registers the handler for an event type. Registering a type twice
// panics: it would silently drop one handler.
func (l *Loop) Handle(eventType event.Type, handler Handler) {
	if handler == nil {
		panic("consumer: nil Handler")
	}
	if _, dup := l.handlers[eventType]; dup {
		panic(fmt.Sprintf("consumer: duplicate handler for %s", eventType))
	}
	l.handlers[eventType] = handler
}

// Run polls until ctx is canceled. In-flight handlers finish (or hit their
// timeout) before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		deliveries, err := l.client.Receive(ctx, l.cfg.BatchSize, l.cfg.WaitTime)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.cfg.Logger.Error("consumer receive failed", "err", err)
			if sleepErr := l.sleep(ctx, l.cfg.ReceiveBackoff); sleepErr != nil {
				return sleepErr
			}

			continue
		}
		if len(deliveries) == 0 {
			continue
		}

		// Batch order is not meaningful; deliveries are processed
		// concurrently and serialize per aggregate at the store.
		var wg sync.WaitGroup
		for i := range deliveries {
			delivery := deliveries[i]
			wg.Add(1)
			go func() {
				defer wg.Done()
				l.process(ctx, delivery)
			}()
		}
		wg.Wait()
	}
}

// ProcessOnce receives and processes a single batch. It reports whether any
// deliveries arrived. Used by tests and by tooling that drains a queue.
func (l *Loop) ProcessOnce(ctx context.Context) (bool, error) {
	deliveries, err := l.client.Receive(ctx, l.cfg.BatchSize, l.cfg.WaitTime)
	if err != nil {
		return false, err
	}
	for i := range deliveries {
		l.process(ctx, deliveries[i])
	}

	return len(deliveries) > 0, nil
}

func (l *Loop) process(ctx context.Context, delivery broker.Delivery) {
	defer func() {
		if rec := recover(); rec != nil {
			// A panicking handler must not kill the loop; the delivery is
			// left unacknowledged and comes back.
			l.cfg.Logger.Error("consumer handler panic", "message", delivery.ID, "panic", rec)
		}
	}()

	if l.cfg.MaxReceives > 0 && delivery.ReceiveCount > l.cfg.MaxReceives {
		l.deadLetter(ctx, delivery, ErrRetryBudgetExhausted)

		return
	}

	env, err := event.Parse(delivery.Body)
	if err != nil {
		// The body will never parse on redelivery either.
		l.deadLetter(ctx, delivery, err)

		return
	}

	handler, ok := l.handlers[env.EventType]
	if !ok {
		// Not our event; acknowledge so it is not redelivered forever.
		l.acknowledge(ctx, delivery)

		return
	}

	start := time.Now()
	err = l.invoke(ctx, handler, env)
	l.cfg.Metrics.ObserveHandleDuration(env.EventType.String(), time.Since(start))
	if err != nil {
		l.cfg.Metrics.AddFailures(1)
		l.cfg.Logger.Warn("consumer handler failed",
			"event", env.EventType, "request", env.RequestID, "receiveCount", delivery.ReceiveCount, "err", err)

		if l.cfg.FailureClassifier(ctx, env, err) == FailureDead {
			l.deadLetter(ctx, delivery, err)

			return
		}

		// No acknowledge: the visibility timeout will redeliver.
		return
	}

	l.cfg.Metrics.AddHandled(1)
	l.acknowledge(ctx, delivery)
}

func (l *Loop) invoke(ctx context.Context, handler Handler, env event.Envelope) error {
	handleCtx := ctx
	cancel := func() {}
	if l.cfg.HandlerTimeout > 0 {
		handleCtx, cancel = context.WithTimeout(ctx, l.cfg.HandlerTimeout)
	}
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- handler(handleCtx, env)
	}()

	select {
	case err := <-done:
		return err
	case <-handleCtx.Done():
		// Treat a hung handler as failed; the delivery stays unacknowledged.
		return fmt.Errorf("consumer: handler timed out: %w", handleCtx.Err())
	}
}

func (l *Loop) acknowledge(ctx context.Context, delivery broker.Delivery) {
	if err := l.client.Acknowledge(ctx, delivery.Handle); err != nil {
		// The message will be redelivered and absorbed by idempotency.
		l.cfg.Logger.Warn("consumer acknowledge failed", "message", delivery.ID, "err", err)
	}
}

func (l *Loop) deadLetter(ctx context.Context, delivery broker.Delivery, cause error) {
	l.cfg.Metrics.AddDeadLettered(1)

	if l.cfg.DeadLetter == nil {
		l.cfg.Logger.Error("consumer dropping poisoned message: no dead-letter queue",
			"message", delivery.ID, "cause", cause)
		l.acknowledge(ctx, delivery)

		return
	}

	if err := l.cfg.DeadLetter.Send(ctx, delivery.Message); err != nil {
		l.cfg.Logger.Error("consumer dead-letter send failed", "message", delivery.ID, "err", err)

		// Keep the delivery; it will come back and be routed again.
		return
	}

	l.cfg.Logger.Warn("consumer dead-lettered message", "message", delivery.ID, "cause", cause)
	l.acknowledge(ctx, delivery)
}

func (l *Loop) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ErrRetryBudgetExhausted marks deliveries that exceeded MaxReceives.
var ErrRetryBudgetExhausted = errors.New("consumer: delivery retry budget exhausted")
