package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopflow/shopflow/broker"
	"github.com/shopflow/shopflow/event"
)

type fakeClient struct {
	deliveries []broker.Delivery
	acked      []string
	receiveErr error
}

func (c *fakeClient) Send(context.Context, broker.Message) error {
	return nil
}

func (c *fakeClient) Receive(_ context.Context, _ int, _ time.Duration) ([]broker.Delivery, error) {
	if c.receiveErr != nil {
		return nil, c.receiveErr
	}
	out := c.deliveries
	c.deliveries = nil
	return out, nil
}

func (c *fakeClient) Acknowledge(_ context.Context, handle string) error {
	c.acked = append(c.acked, handle)
	return nil
}

type fakeDLQ struct {
	messages []broker.Message
	err      error
}

func (d *fakeDLQ) Send(_ context.Context, msg broker.Message) error {
	if d.err != nil {
		return d.err
	}
	d.messages = append(d.messages, msg)
	return nil
}

func delivery(t *testing.T, eventType event.Type, requestID int64, handle string, receives int) broker.Delivery {
	t.Helper()
	env, err := event.New(eventType, requestID, time.Now(), map[string]any{})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	body, err := env.Encode()
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	return broker.Delivery{
		Message:      broker.Message{ID: handle, Body: body},
		Handle:       handle,
		ReceiveCount: receives,
	}
}

func TestLoopDispatchAndAck(t *testing.T) {
	client := &fakeClient{deliveries: []broker.Delivery{
		delivery(t, event.TypeRequestCreated, 1, "h1", 1),
	}}

	var handled []int64
	loop := New(client)
	loop.Handle(event.TypeRequestCreated, func(_ context.Context, env event.Envelope) error {
		handled = append(handled, env.RequestID)
		return nil
	})

	processed, err := loop.ProcessOnce(context.Background())
	if err != nil {
		t.Fatalf("process once: %v", err)
	}
	if !processed {
		t.Fatalf("expected deliveries")
	}
	if len(handled) != 1 || handled[0] != 1 {
		t.Fatalf("handler not invoked: %v", handled)
	}
	if len(client.acked) != 1 || client.acked[0] != "h1" {
		t.Fatalf("expected ack of h1, got %v", client.acked)
	}
}

func TestLoopFailureLeavesDeliveryUnacked(t *testing.T) {
	client := &fakeClient{deliveries: []broker.Delivery{
		delivery(t, event.TypeRequestCreated, 1, "h1", 1),
	}}

	loop := New(client)
	loop.Handle(event.TypeRequestCreated, func(context.Context, event.Envelope) error {
		return errors.New("boom")
	})

	if _, err := loop.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if len(client.acked) != 0 {
		t.Fatalf("failed delivery must stay for redelivery, got acks %v", client.acked)
	}
}

func TestLoopUnknownTypeAcked(t *testing.T) {
	client := &fakeClient{deliveries: []broker.Delivery{
		delivery(t, event.TypeOrderCompleted, 1, "h1", 1),
	}}

	loop := New(client)
	loop.Handle(event.TypeRequestCreated, func(context.Context, event.Envelope) error {
		t.Fatal("handler must not run")
		return nil
	})

	if _, err := loop.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if len(client.acked) != 1 {
		t.Fatalf("unhandled type must be acked, got %v", client.acked)
	}
}

func TestLoopMaxReceivesDeadLetters(t *testing.T) {
	client := &fakeClient{deliveries: []broker.Delivery{
		delivery(t, event.TypeRequestCreated, 1, "h1", 4),
	}}
	dlq := &fakeDLQ{}

	var handled int
	loop := New(client, WithMaxReceives(3), WithDeadLetter(dlq))
	loop.Handle(event.TypeRequestCreated, func(context.Context, event.Envelope) error {
		handled++
		return nil
	})

	if _, err := loop.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if handled != 0 {
		t.Fatalf("exhausted delivery must not reach the handler")
	}
	if len(dlq.messages) != 1 || dlq.messages[0].ID != "h1" {
		t.Fatalf("expected message in DLQ, got %v", dlq.messages)
	}
	if len(client.acked) != 1 {
		t.Fatalf("dead-lettered delivery must be acked, got %v", client.acked)
	}
}

func TestLoopDeadLetterSendFailureKeepsDelivery(t *testing.T) {
	client := &fakeClient{deliveries: []broker.Delivery{
		delivery(t, event.TypeRequestCreated, 1, "h1", 10),
	}}
	dlq := &fakeDLQ{err: errors.New("dlq down")}

	loop := New(client, WithMaxReceives(3), WithDeadLetter(dlq))
	loop.Handle(event.TypeRequestCreated, func(context.Context, event.Envelope) error { return nil })

	if _, err := loop.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if len(client.acked) != 0 {
		t.Fatalf("delivery must stay when the DLQ send fails, got %v", client.acked)
	}
}

func TestLoopMalformedBodyDeadLetters(t *testing.T) {
	client := &fakeClient{deliveries: []broker.Delivery{{
		Message: broker.Message{ID: "h1", Body: []byte("not json")},
		Handle:  "h1", ReceiveCount: 1,
	}}}
	dlq := &fakeDLQ{}

	loop := New(client, WithDeadLetter(dlq))

	if _, err := loop.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if len(dlq.messages) != 1 {
		t.Fatalf("unparseable message must go to the DLQ, got %v", dlq.messages)
	}
	if len(client.acked) != 1 {
		t.Fatalf("expected ack after dead-lettering, got %v", client.acked)
	}
}

func TestLoopClassifierDeadLetters(t *testing.T) {
	client := &fakeClient{deliveries: []broker.Delivery{
		delivery(t, event.TypeRequestCreated, 1, "h1", 1),
	}}
	dlq := &fakeDLQ{}
	permanent := errors.New("permanent")

	loop := New(client, WithDeadLetter(dlq),
		WithFailureClassifier(func(_ context.Context, _ event.Envelope, err error) FailureAction {
			if errors.Is(err, permanent) {
				return FailureDead
			}
			return FailureRetry
		}))
	loop.Handle(event.TypeRequestCreated, func(context.Context, event.Envelope) error {
		return permanent
	})

	if _, err := loop.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if len(dlq.messages) != 1 {
		t.Fatalf("permanent failure must go to the DLQ on first delivery")
	}
	if len(client.acked) != 1 {
		t.Fatalf("expected ack after dead-lettering, got %v", client.acked)
	}
}

func TestLoopHandlerTimeout(t *testing.T) {
	client := &fakeClient{deliveries: []broker.Delivery{
		delivery(t, event.TypeRequestCreated, 1, "h1", 1),
	}}

	loop := New(client, WithHandlerTimeout(10*time.Millisecond))
	loop.Handle(event.TypeRequestCreated, func(ctx context.Context, _ event.Envelope) error {
		<-ctx.Done()
		return ctx.Err()
	})

	if _, err := loop.ProcessOnce(context.Background()); err != nil {
		t.Fatalf("process once: %v", err)
	}
	if len(client.acked) != 0 {
		t.Fatalf("timed-out handler must leave the delivery unacked")
	}
}

func TestLoopDuplicateHandlerPanics(t *testing.T) {
	loop := New(&fakeClient{})
	loop.Handle(event.TypeRequestCreated, func(context.Context, event.Envelope) error { return nil })

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	loop.Handle(event.TypeRequestCreated, func(context.Context, event.Envelope) error { return nil })
}
