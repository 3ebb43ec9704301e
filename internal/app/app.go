// Package app wires the pieces every service binary shares: configuration,
// logging, database pool, schema, stores, broker connections, metrics and a
// signal-aware run loop. The mains stay thin and declarative.
package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/shopflow/shopflow/broker"
	"github.com/shopflow/shopflow/broker/rabbitmq"
	"github.com/shopflow/shopflow/consumer"
	"github.com/shopflow/shopflow/event"
	"github.com/shopflow/shopflow/internal/config"
	"github.com/shopflow/shopflow/internal/logging"
	"github.com/shopflow/shopflow/internal/telemetry"
	"github.com/shopflow/shopflow/outbox"
	outboxpg "github.com/shopflow/shopflow/outbox/postgres"
	"github.com/shopflow/shopflow/saga"
	sagapg "github.com/shopflow/shopflow/saga/postgres"
)

// Runtime bundles the shared service infrastructure.
type Runtime struct {
	Service  string
	Cfg      config.Service
	Log      *logrus.Entry
	Logger   *logging.Adapter
	Pool     *pgxpool.Pool
	Outbox   *outboxpg.Store
	Saga     *sagapg.Store
	Registry *prometheus.Registry

	mu      sync.Mutex
	clients []*rabbitmq.Client
}

// New connects to the database, applies the schema, and builds the stores.
func New(ctx context.Context, service string, cfg config.Service) (*Runtime, error) {
	log := logging.New(service, cfg.LogLevel)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if _, err := pool.Exec(ctx, sagapg.Schema); err != nil {
		pool.Close()

		return nil, fmt.Errorf("apply saga schema: %w", err)
	}
	outboxSchema, err := outboxpg.Schema("outbox")
	if err != nil {
		pool.Close()

		return nil, err
	}
	if _, err := pool.Exec(ctx, outboxSchema); err != nil {
		pool.Close()

		return nil, fmt.Errorf("apply outbox schema: %w", err)
	}

	obStore, err := outboxpg.NewStore(pool)
	if err != nil {
		pool.Close()

		return nil, err
	}
	sagaStore, err := sagapg.NewStore(pool, obStore)
	if err != nil {
		pool.Close()

		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	return &Runtime{
		Service:  service,
		Cfg:      cfg,
		Log:      log,
		Logger:   logging.NewAdapter(log),
		Pool:     pool,
		Outbox:   obStore,
		Saga:     sagaStore,
		Registry: registry,
	}, nil
}

func (r *Runtime) dial(queue string) (*rabbitmq.Client, error) {
	client, err := rabbitmq.Dial(r.Cfg.BrokerURL, queue)
	if err != nil {
		return nil, fmt.Errorf("dial broker queue %q: %w", queue, err)
	}

	r.mu.Lock()
	r.clients = append(r.clients, client)
	r.mu.Unlock()

	return client, nil
}

// Relay builds the outbox relay publishing to every configured queue.
func (r *Runtime) Relay() (*outbox.Relay, error) {
	if len(r.Cfg.PublishQueues) == 0 {
		return nil, errors.New("app: PUBLISH_QUEUES is empty")
	}

	clients := make([]broker.Client, 0, len(r.Cfg.PublishQueues))
	for _, queue := range r.Cfg.PublishQueues {
		client, err := r.dial(queue)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}

	return outbox.NewRelay(r.Outbox, broker.NewFanout(clients...),
		outbox.WithBatchSize(r.Cfg.RelayBatchSize),
		outbox.WithPollInterval(r.Cfg.RelayPollInterval),
		outbox.WithWorkers(r.Cfg.RelayWorkers),
		outbox.WithLogger(r.Logger),
		outbox.WithMetrics(telemetry.NewRelayMetrics(r.Registry, r.Service)),
	), nil
}

// Consumer builds the polling loop on the service's own queue, with the
// dead-letter queue attached when one is configured.
func (r *Runtime) Consumer(opts ...consumer.Option) (*consumer.Loop, error) {
	if r.Cfg.Queue == "" {
		return nil, errors.New("app: QUEUE_NAME is empty")
	}

	client, err := r.dial(r.Cfg.Queue)
	if err != nil {
		return nil, err
	}

	all := []consumer.Option{
		consumer.WithBatchSize(r.Cfg.ConsumerBatchSize),
		consumer.WithWaitTime(r.Cfg.ConsumerWaitTime),
		consumer.WithMaxReceives(r.Cfg.ConsumerMaxReceives),
		consumer.WithLogger(r.Logger),
		consumer.WithMetrics(telemetry.NewConsumerMetrics(r.Registry, r.Service)),
	}
	if r.Cfg.DeadLetterQueue != "" {
		dlq, err := r.dial(r.Cfg.DeadLetterQueue)
		if err != nil {
			return nil, err
		}
		all = append(all, consumer.WithDeadLetter(dlq))
	}
	all = append(all, opts...)

	return consumer.New(client, all...), nil
}

// PermanentFailures routes permanent business errors straight to the
// dead-letter queue instead of waiting out the redelivery budget.
func PermanentFailures(_ context.Context, _ event.Envelope, err error) consumer.FailureAction {
	if saga.IsPermanent(err) {
		return consumer.FailureDead
	}

	return consumer.FailureRetry
}

// Run executes the tasks until one fails or a termination signal arrives,
// then cancels the rest and waits for them.
func (r *Runtime) Run(ctx context.Context, tasks ...func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks = append(tasks, func(ctx context.Context) error {
		return telemetry.Serve(ctx, r.Cfg.MetricsAddr, r.Registry)
	})

	errCh := make(chan error, len(tasks))
	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		task := task
		go func() {
			defer wg.Done()
			if err := task(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- err
				cancel()
			}
		}()
	}

	wg.Wait()
	close(errCh)

	return <-errCh
}

// Close releases broker connections and the database pool.
func (r *Runtime) Close() {
	r.mu.Lock()
	clients := r.clients
	r.clients = nil
	r.mu.Unlock()

	for _, client := range clients {
		if err := client.Close(); err != nil {
			r.Log.WithError(err).Warn("close broker client")
		}
	}
	r.Pool.Close()
}
