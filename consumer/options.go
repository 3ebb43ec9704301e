package consumer

import (
	"context"
	"time"

	"github.com/shopflow/shopflow/broker"
	"github.com/shopflow/shopflow/event"
	"github.com/shopflow/shopflow/outbox"
)

const (
	defaultBatchSize      = 10
	defaultWaitTime       = 20 * time.Second
	defaultHandlerTimeout = 30 * time.Second
	defaultReceiveBackoff = 5 * time.Second
	defaultMaxReceives    = 5
)

// FailureAction defines how a failed delivery should be handled.
type FailureAction int

const (
	// FailureRetry leaves the delivery unacknowledged for redelivery.
	FailureRetry FailureAction = iota
	// FailureDead routes the delivery to the dead-letter queue now.
	FailureDead
)

// FailureClassifier decides whether a handler failure is worth redelivering.
// Permanent business errors (missing aggregate, violated invariant) go to
// the dead-letter path immediately instead of burning the receive budget.
type FailureClassifier func(ctx context.Context, env event.Envelope, err error) FailureAction

func defaultClassifier(context.Context, event.Envelope, error) FailureAction {
	return FailureRetry
}

// DeadLetterer receives messages that exhausted their retry budget.
type DeadLetterer interface {
	// Send stores the poisoned message for inspection.
	Send(ctx context.Context, msg broker.Message) error
}

// Metrics captures loop-level telemetry.
type Metrics interface {
	// AddHandled increments the count of successfully handled deliveries.
	AddHandled(count int)
	// AddFailures increments the count of handler failures.
	AddFailures(count int)
	// AddDeadLettered increments the count of dead-lettered deliveries.
	AddDeadLettered(count int)
	// ObserveHandleDuration records handler latency per event type.
	ObserveHandleDuration(eventType string, duration time.Duration)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// AddHandled implements Metrics.
func (NopMetrics) AddHandled(int) {}

// AddFailures implements Metrics.
func (NopMetrics) AddFailures(int) {}

// AddDeadLettered implements Metrics.
func (NopMetrics) AddDeadLettered(int) {}

// ObserveHandleDuration implements Metrics.
func (NopMetrics) ObserveHandleDuration(string, time.Duration) {}

// Config defines how the loop polls and dispatches.
type Config struct {
	BatchSize         int
	WaitTime          time.Duration
	HandlerTimeout    time.Duration
	ReceiveBackoff    time.Duration
	MaxReceives       int
	DeadLetter        DeadLetterer
	FailureClassifier FailureClassifier
	Logger            outbox.Logger
	Metrics           Metrics
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.WaitTime <= 0 {
		c.WaitTime = defaultWaitTime
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = defaultHandlerTimeout
	}
	if c.ReceiveBackoff <= 0 {
		c.ReceiveBackoff = defaultReceiveBackoff
	}
	if c.MaxReceives == 0 {
		c.MaxReceives = defaultMaxReceives
	}
	if c.FailureClassifier == nil {
		c.FailureClassifier = defaultClassifier
	}
	if c.Logger == nil {
		c.Logger = outbox.NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}

	return c
}

// Option configures the loop.
type Option func(*Config)

// WithBatchSize sets the maximum deliveries per receive.
func WithBatchSize(size int) Option {
	return func(c *Config) {
		c.BatchSize = size
	}
}

// WithWaitTime sets the long-poll wait.
func WithWaitTime(wait time.Duration) Option {
	return func(c *Config) {
		c.WaitTime = wait
	}
}

// WithHandlerTimeout bounds each handler invocation.
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.HandlerTimeout = timeout
	}
}

// WithReceiveBackoff sets the pause after a failed receive.
func WithReceiveBackoff(backoff time.Duration) Option {
	return func(c *Config) {
		c.ReceiveBackoff = backoff
	}
}

// WithMaxReceives sets the redelivery budget before dead-lettering.
// A negative value disables the budget.
func WithMaxReceives(max int) Option {
	return func(c *Config) {
		c.MaxReceives = max
	}
}

// WithDeadLetter sets the dead-letter destination.
func WithDeadLetter(dlq DeadLetterer) Option {
	return func(c *Config) {
		c.DeadLetter = dlq
	}
}

// WithFailureClassifier sets the retry/dead decision for handler failures.
func WithFailureClassifier(classifier FailureClassifier) Option {
	return func(c *Config) {
		c.FailureClassifier = classifier
	}
}

// WithLogger sets the loop logger.
func WithLogger(logger outbox.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics sets the loop metrics recorder.
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}
