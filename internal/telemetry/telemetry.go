// Package telemetry implements the library metrics interfaces on Prometheus
// and serves the scrape endpoint.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shopflow/shopflow/consumer"
	"github.com/shopflow/shopflow/outbox"
)

// RelayMetrics records relay telemetry on Prometheus collectors.
type RelayMetrics struct {
	batchDuration prometheus.Histogram
	published     prometheus.Counter
	retries       prometheus.Counter
	dead          prometheus.Counter
	pending       prometheus.Gauge
}

var _ outbox.Metrics = (*RelayMetrics)(nil)

// NewRelayMetrics registers relay collectors with the registry.
func NewRelayMetrics(reg prometheus.Registerer, service string) *RelayMetrics {
	labels := prometheus.Labels{"service": service}
	m := &RelayMetrics{
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "outbox_relay_batch_duration_seconds",
			Help:        "Time spent publishing one outbox batch.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		published: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "outbox_relay_published_total",
			Help:        "Outbox records published to the broker.",
			ConstLabels: labels,
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "outbox_relay_retries_total",
			Help:        "Outbox records left for another relay pass.",
			ConstLabels: labels,
		}),
		dead: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "outbox_relay_dead_total",
			Help:        "Outbox records parked after exhausting attempts.",
			ConstLabels: labels,
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "outbox_relay_pending",
			Help:        "Unpublished outbox records.",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(m.batchDuration, m.published, m.retries, m.dead, m.pending)

	return m
}

// ObserveBatchDuration implements outbox.Metrics.
func (m *RelayMetrics) ObserveBatchDuration(d time.Duration) {
	m.batchDuration.Observe(d.Seconds())
}

// AddPublished implements outbox.Metrics.
func (m *RelayMetrics) AddPublished(count int) {
	m.published.Add(float64(count))
}

// AddRetries implements outbox.Metrics.
func (m *RelayMetrics) AddRetries(count int) {
	m.retries.Add(float64(count))
}

// AddDead implements outbox.Metrics.
func (m *RelayMetrics) AddDead(count int) {
	m.dead.Add(float64(count))
}

// SetPending implements outbox.Metrics.
func (m *RelayMetrics) SetPending(count int) {
	m.pending.Set(float64(count))
}

// ConsumerMetrics records consumer loop telemetry on Prometheus collectors.
type ConsumerMetrics struct {
	handled        prometheus.Counter
	failures       prometheus.Counter
	deadLettered   prometheus.Counter
	handleDuration *prometheus.HistogramVec
}

var _ consumer.Metrics = (*ConsumerMetrics)(nil)

// NewConsumerMetrics registers consumer collectors with the registry.
func NewConsumerMetrics(reg prometheus.Registerer, service string) *ConsumerMetrics {
	labels := prometheus.Labels{"service": service}
	m := &ConsumerMetrics{
		handled: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "consumer_handled_total",
			Help:        "Deliveries handled successfully.",
			ConstLabels: labels,
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "consumer_failures_total",
			Help:        "Handler failures.",
			ConstLabels: labels,
		}),
		deadLettered: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "consumer_dead_lettered_total",
			Help:        "Deliveries routed to the dead-letter queue.",
			ConstLabels: labels,
		}),
		handleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "consumer_handle_duration_seconds",
			Help:        "Handler latency per event type.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"event_type"}),
	}
	reg.MustRegister(m.handled, m.failures, m.deadLettered, m.handleDuration)

	return m
}

// AddHandled implements consumer.Metrics.
func (m *ConsumerMetrics) AddHandled(count int) {
	m.handled.Add(float64(count))
}

// AddFailures implements consumer.Metrics.
func (m *ConsumerMetrics) AddFailures(count int) {
	m.failures.Add(float64(count))
}

// AddDeadLettered implements consumer.Metrics.
func (m *ConsumerMetrics) AddDeadLettered(count int) {
	m.deadLettered.Add(float64(count))
}

// ObserveHandleDuration implements consumer.Metrics.
func (m *ConsumerMetrics) ObserveHandleDuration(eventType string, d time.Duration) {
	m.handleDuration.WithLabelValues(eventType).Observe(d.Seconds())
}

// Serve runs the metrics endpoint until ctx is canceled.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) error {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	server := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
