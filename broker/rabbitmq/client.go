// Package rabbitmq implements the broker contract on top of RabbitMQ.
//
// Messages are published persistent to a durable queue. Received deliveries
// are leased: a delivery not acknowledged before the visibility timeout is
// negatively acknowledged with requeue, which makes RabbitMQ redeliver it.
package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shopflow/shopflow/broker"
)

const (
	defaultVisibilityTimeout = 30 * time.Second
	dialAttempts             = 10
	dialBackoff              = 2 * time.Second
	deliveryCountHeader      = "x-delivery-count"
)

// Client is a RabbitMQ-backed broker client for a single queue.
type Client struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	queue      string
	visibility time.Duration
	prefetch   int

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
	leases     map[string]*lease
}

type lease struct {
	tag   uint64
	timer *time.Timer
}

var _ broker.Client = (*Client)(nil)

// Option configures the client.
type Option func(*Client)

// WithVisibilityTimeout sets how long an unacknowledged delivery is held
// before it is requeued.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.visibility = d
	}
}

// WithPrefetch sets the consumer prefetch count.
func WithPrefetch(count int) Option {
	return func(c *Client) {
		c.prefetch = count
	}
}

// Dial connects to RabbitMQ and declares the durable queue. The connection
// is retried because the broker often starts slower than the services.
func Dial(url, queueName string, opts ...Option) (*Client, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	for i := 0; i < dialAttempts; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		time.Sleep(dialBackoff)
	}
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: connect failed: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("rabbitmq: open channel failed: %w", err)
	}

	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()

		return nil, fmt.Errorf("rabbitmq: declare queue failed: %w", err)
	}

	c := &Client{
		conn:       conn,
		ch:         ch,
		queue:      queueName,
		visibility: defaultVisibilityTimeout,
		prefetch:   64,
		leases:     make(map[string]*lease),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Send publishes a persistent message to the queue.
func (c *Client) Send(ctx context.Context, msg broker.Message) error {
	headers := amqp.Table{}
	for k, v := range msg.Attributes {
		headers[k] = v
	}

	err := c.ch.PublishWithContext(ctx,
		"",      // default exchange
		c.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			MessageId:    msg.ID,
			ContentType:  "application/json",
			Body:         msg.Body,
			Headers:      headers,
			DeliveryMode: amqp.Persistent,
		})
	if err != nil {
		return fmt.Errorf("rabbitmq: publish failed: %w", err)
	}

	return nil
}

// Receive collects up to maxBatch deliveries, waiting at most wait for the
// first one. Each delivery is leased for the visibility timeout.
func (c *Client) Receive(ctx context.Context, maxBatch int, wait time.Duration) ([]broker.Delivery, error) {
	if maxBatch <= 0 {
		maxBatch = 1
	}
	if err := c.ensureConsumer(); err != nil {
		return nil, err
	}

	deliveries := make([]broker.Delivery, 0, maxBatch)
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for len(deliveries) < maxBatch {
		if len(deliveries) > 0 {
			// Drain whatever else is already buffered, without waiting.
			select {
			case d, ok := <-c.deliveries:
				if !ok {
					return deliveries, nil
				}
				deliveries = append(deliveries, c.lease(d))

				continue
			default:
			}

			return deliveries, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return deliveries, nil
		case d, ok := <-c.deliveries:
			if !ok {
				return deliveries, nil
			}
			deliveries = append(deliveries, c.lease(d))
		}
	}

	return deliveries, nil
}

func (c *Client) ensureConsumer() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.deliveries != nil {
		return nil
	}
	if err := c.ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("rabbitmq: qos failed: %w", err)
	}

	deliveries, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume failed: %w", err)
	}
	c.deliveries = deliveries

	return nil
}

func (c *Client) lease(d amqp.Delivery) broker.Delivery {
	handle := uuid.NewString()

	c.mu.Lock()
	l := &lease{tag: d.DeliveryTag}
	l.timer = time.AfterFunc(c.visibility, func() {
		c.expire(handle)
	})
	c.leases[handle] = l
	c.mu.Unlock()

	attrs := make(map[string]string, len(d.Headers))
	for k, v := range d.Headers {
		if s, ok := v.(string); ok {
			attrs[k] = s
		}
	}

	return broker.Delivery{
		Message: broker.Message{
			ID:         d.MessageId,
			Body:       d.Body,
			Attributes: attrs,
		},
		Handle:       handle,
		ReceiveCount: receiveCount(d),
	}
}

// expire requeues a delivery whose lease ran out, mirroring a visibility
// timeout on a hosted queue.
func (c *Client) expire(handle string) {
	c.mu.Lock()
	l, ok := c.leases[handle]
	if ok {
		delete(c.leases, handle)
	}
	c.mu.Unlock()

	if ok {
		_ = c.ch.Nack(l.tag, false, true)
	}
}

// Acknowledge removes the delivery. An expired handle is not an error; the
// message was already requeued and will be redelivered.
func (c *Client) Acknowledge(_ context.Context, handle string) error {
	c.mu.Lock()
	l, ok := c.leases[handle]
	if ok {
		delete(c.leases, handle)
		l.timer.Stop()
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}
	if err := c.ch.Ack(l.tag, false); err != nil {
		return fmt.Errorf("rabbitmq: ack failed: %w", err)
	}

	return nil
}

// Close releases the channel and connection.
func (c *Client) Close() error {
	if err := c.ch.Close(); err != nil {
		_ = c.conn.Close()

		return fmt.Errorf("rabbitmq: close channel failed: %w", err)
	}
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("rabbitmq: close connection failed: %w", err)
	}

	return nil
}

func receiveCount(d amqp.Delivery) int {
	if v, ok := d.Headers[deliveryCountHeader]; ok {
		switch n := v.(type) {
		case int32:
			return int(n) + 1
		case int64:
			return int(n) + 1
		}
	}
	if d.Redelivered {
		return 2
	}

	return 1
}
