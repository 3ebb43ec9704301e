package broker

import (
	"context"
	"errors"

	"github.com/shopflow/shopflow/event"
)

// Fanout publishes every envelope to a set of queues, one per subscribing
// service. A partial failure returns an error so the relay retries the whole
// record; queues that already got the message see a duplicate, which their
// consumers absorb.
type Fanout struct {
	targets []*Publisher
}

// NewFanout wraps one publisher per client.
func NewFanout(clients ...Client) *Fanout {
	if len(clients) == 0 {
		panic("broker: fanout needs at least one Client")
	}

	targets := make([]*Publisher, len(clients))
	for i, client := range clients {
		targets[i] = NewPublisher(client)
	}

	return &Fanout{targets: targets}
}

// Send publishes the envelope to every target queue.
func (f *Fanout) Send(ctx context.Context, env event.Envelope) error {
	var errs []error
	for _, target := range f.targets {
		if err := target.Send(ctx, env); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
