// Package broker abstracts the queue transport between services.
//
// The contract is lease-based: Receive hands out deliveries with an opaque
// handle, and a delivery that is not acknowledged before the visibility
// timeout elapses becomes eligible for redelivery. Delivery is at-least-once
// with no ordering guarantee; consumers are responsible for idempotency.
package broker

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shopflow/shopflow/event"
)

// Message attribute keys. Consumers filter on the event type attribute
// without parsing the body.
const (
	AttrEventType = "eventType"
	AttrRequestID = "requestId"
)

// Message is an outbound queue message.
type Message struct {
	// ID identifies the message for logging and tracing.
	ID string
	// Body is the encoded event envelope.
	Body []byte
	// Attributes carries routing metadata alongside the body.
	Attributes map[string]string
}

// Delivery is a received message plus its lease.
type Delivery struct {
	Message
	// Handle acknowledges exactly this delivery, not the message in general.
	Handle string
	// ReceiveCount is how many times the message has been delivered,
	// including this one.
	ReceiveCount int
}

// Client is the queue transport.
//
// Send must be treated as "maybe delivered" on error: callers retry, and the
// queue may end up with duplicates. Acknowledge removes the message so it is
// not redelivered; an expired handle is not an error.
type Client interface {
	// Send publishes a message, durable on success.
	Send(ctx context.Context, msg Message) error
	// Receive long-polls for up to maxBatch messages, waiting at most wait.
	// It returns an empty slice when nothing arrived in time.
	Receive(ctx context.Context, maxBatch int, wait time.Duration) ([]Delivery, error)
	// Acknowledge removes the delivered message from the queue.
	Acknowledge(ctx context.Context, handle string) error
}

// Publisher adapts a Client to the outbox relay's publisher contract.
type Publisher struct {
	client Client
}

// NewPublisher wraps a client for envelope publishing.
func NewPublisher(client Client) *Publisher {
	if client == nil {
		panic("broker: nil Client")
	}

	return &Publisher{client: client}
}

// Send encodes and publishes one envelope.
func (p *Publisher) Send(ctx context.Context, env event.Envelope) error {
	body, err := env.Encode()
	if err != nil {
		return err
	}

	return p.client.Send(ctx, Message{
		ID:   uuid.NewString(),
		Body: body,
		Attributes: map[string]string{
			AttrEventType: env.EventType.String(),
			AttrRequestID: strconv.FormatInt(env.RequestID, 10),
		},
	})
}
