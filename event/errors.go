package event

import "errors"

var (
	// ErrUnknownType is returned when an event type is not part of the closed enum.
	ErrUnknownType = errors.New("event type is unknown")
	// ErrRequestIDRequired is returned when an envelope has no positive request id.
	ErrRequestIDRequired = errors.New("event request id is required")
	// ErrEmptyData is returned when an envelope carries no payload.
	ErrEmptyData = errors.New("event data is empty")
)
