package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/shopflow/shopflow/event"
)

// Record is a stored outbox row fetched for publishing.
type Record struct {
	ID          uuid.UUID
	RequestID   int64
	EventType   event.Type
	Payload     json.RawMessage
	Published   bool
	Attempts    int
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// Envelope reconstructs the wire envelope for this record. The record's
// creation time is the event time: it was assigned in the same transaction
// as the state change.
func (r Record) Envelope() event.Envelope {
	return event.Envelope{
		EventType: r.EventType,
		RequestID: r.RequestID,
		Timestamp: r.CreatedAt.UTC(),
		Data:      r.Payload,
	}
}

// Failure captures a publish error for a record.
type Failure struct {
	ID  uuid.UUID
	Err error
}
