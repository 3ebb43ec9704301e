// Package memory implements the broker contract with an in-process queue.
//
// It reproduces the transport semantics the services are written against:
// visibility timeouts, redelivery of unacknowledged messages, receive counts
// and no ordering guarantee. Used for local runs and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shopflow/shopflow/broker"
)

const defaultVisibilityTimeout = 30 * time.Second

// pollStep bounds how long Receive sleeps between scans while long-polling.
const pollStep = 5 * time.Millisecond

// Queue is an in-memory lease-based queue.
type Queue struct {
	mu         sync.Mutex
	entries    []*entry
	visibility time.Duration
}

type entry struct {
	msg          broker.Message
	receiveCount int
	handle       string
	invisibleTo  time.Time
	acked        bool
}

var _ broker.Client = (*Queue)(nil)

// Option configures the queue.
type Option func(*Queue)

// WithVisibilityTimeout sets how long a received message stays hidden before
// it becomes redeliverable.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(q *Queue) {
		q.visibility = d
	}
}

// NewQueue constructs an empty queue.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{visibility: defaultVisibilityTimeout}
	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Send appends the message to the queue.
func (q *Queue) Send(_ context.Context, msg broker.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, &entry{msg: msg})

	return nil
}

// Receive long-polls for up to maxBatch visible messages. Each returned
// delivery is leased: it stays hidden until acknowledged or until the
// visibility timeout expires.
func (q *Queue) Receive(ctx context.Context, maxBatch int, wait time.Duration) ([]broker.Delivery, error) {
	if maxBatch <= 0 {
		maxBatch = 1
	}

	deadline := time.Now().Add(wait)
	for {
		deliveries := q.lease(maxBatch)
		if len(deliveries) > 0 {
			return deliveries, nil
		}
		if time.Now().After(deadline) {
			return nil, nil
		}

		timer := time.NewTimer(pollStep)
		select {
		case <-ctx.Done():
			timer.Stop()

			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (q *Queue) lease(maxBatch int) []broker.Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	deliveries := make([]broker.Delivery, 0, maxBatch)
	for _, e := range q.entries {
		if len(deliveries) == maxBatch {
			break
		}
		if e.acked || now.Before(e.invisibleTo) {
			continue
		}

		e.receiveCount++
		e.handle = uuid.NewString()
		e.invisibleTo = now.Add(q.visibility)
		deliveries = append(deliveries, broker.Delivery{
			Message:      e.msg,
			Handle:       e.handle,
			ReceiveCount: e.receiveCount,
		})
	}

	return deliveries
}

// Acknowledge removes the leased message. An expired or unknown handle is
// not an error: the message was either already acked or re-leased.
func (q *Queue) Acknowledge(_ context.Context, handle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if e.handle == handle && !e.acked {
			e.acked = true

			return nil
		}
	}

	return nil
}

// Len returns the number of messages not yet acknowledged. Test helper.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, e := range q.entries {
		if !e.acked {
			count++
		}
	}

	return count
}
