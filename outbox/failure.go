package outbox

import "context"

// FailureAction defines how a failed publish should be handled.
type FailureAction int

const (
	// FailureRetry leaves the record unpublished for the next pass.
	FailureRetry FailureAction = iota
	// FailureDead parks the record immediately.
	FailureDead
)

// FailureClassifier decides whether a publish failure is retryable. Broker
// unavailability is transient and retries; a record that cannot be encoded
// will never publish and should be parked.
type FailureClassifier func(ctx context.Context, record Record, err error) FailureAction

func defaultFailureClassifier(context.Context, Record, error) FailureAction {
	return FailureRetry
}

// FailureHandler is called when publishing a record returns an error.
type FailureHandler func(ctx context.Context, record Record, err error)
