package outbox

import (
	"encoding/json"

	"github.com/shopflow/shopflow/event"
)

// Entry describes a new outbox record to be persisted alongside the business
// mutation it announces.
type Entry struct {
	// RequestID references the saga aggregate.
	RequestID int64
	// EventType names the event (closed enum in the event package).
	EventType event.Type
	// Payload is the event-specific data object, stored opaque.
	Payload json.RawMessage
}

// FromEnvelope converts a wire envelope into a storable entry.
func FromEnvelope(env event.Envelope) Entry {
	return Entry{
		RequestID: env.RequestID,
		EventType: env.EventType,
		Payload:   env.Data,
	}
}

// Validate checks required fields and payload validity.
func (e Entry) Validate() error {
	if e.RequestID <= 0 {
		return ErrRequestIDRequired
	}
	if !e.EventType.Valid() {
		return ErrEventTypeInvalid
	}
	if len(e.Payload) == 0 {
		return ErrPayloadRequired
	}
	if !json.Valid(e.Payload) {
		return ErrInvalidPayload
	}

	return nil
}
