package outbox

import "time"

// Metrics captures relay-level telemetry.
type Metrics interface {
	// ObserveBatchDuration records the time to publish a batch.
	ObserveBatchDuration(duration time.Duration)
	// AddPublished increments the count of published records.
	AddPublished(count int)
	// AddRetries increments the count of records left for another pass.
	AddRetries(count int)
	// AddDead increments the count of parked records.
	AddDead(count int)
	// SetPending updates the current unpublished record count.
	SetPending(count int)
}

// NopMetrics is a no-op metrics recorder.
type NopMetrics struct{}

// ObserveBatchDuration implements Metrics.
func (NopMetrics) ObserveBatchDuration(time.Duration) {}

// AddPublished implements Metrics.
func (NopMetrics) AddPublished(int) {}

// AddRetries implements Metrics.
func (NopMetrics) AddRetries(int) {}

// AddDead implements Metrics.
func (NopMetrics) AddDead(int) {}

// SetPending implements Metrics.
func (NopMetrics) SetPending(int) {}
