package outbox

import "errors"

var (
	// ErrInvalidBatchSize indicates that the requested batch size is not positive.
	ErrInvalidBatchSize = errors.New("outbox batch size must be positive")
	// ErrNoRecords signals that no unpublished records are available.
	ErrNoRecords = errors.New("outbox has no unpublished records")
	// ErrNilBatch indicates that a source returned a nil batch.
	ErrNilBatch = errors.New("outbox batch is nil")
	// ErrEmptyBatch indicates that a source returned a batch with no records.
	ErrEmptyBatch = errors.New("outbox batch has no records")
	// ErrRequestIDRequired is returned when Entry.RequestID is not positive.
	ErrRequestIDRequired = errors.New("outbox request id is required")
	// ErrEventTypeInvalid is returned when Entry.EventType is not a known event.
	ErrEventTypeInvalid = errors.New("outbox event type is invalid")
	// ErrPayloadRequired is returned when Entry.Payload is empty.
	ErrPayloadRequired = errors.New("outbox payload is required")
	// ErrInvalidPayload is returned when Entry.Payload is not valid JSON.
	ErrInvalidPayload = errors.New("outbox payload must be valid JSON")
	// ErrWorkerPanic indicates a relay worker panic.
	ErrWorkerPanic = errors.New("outbox worker panic")
)
