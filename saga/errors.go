package saga

import "errors"

var (
	// ErrRequestNotFound is returned when the referenced request does not exist.
	ErrRequestNotFound = errors.New("saga: request not found")
	// ErrUserNotFound is returned when the request owner does not exist.
	ErrUserNotFound = errors.New("saga: user not found")
	// ErrProductNotFound is returned when a referenced product does not exist.
	ErrProductNotFound = errors.New("saga: product not found")
	// ErrTotalMismatch is returned when item prices do not sum to the recorded
	// total within TotalEpsilon. The mutation rolls back; nothing is corrected.
	ErrTotalMismatch = errors.New("saga: request total does not match item sum")
	// ErrInvalidTransition is returned for a status change off the forward path.
	ErrInvalidTransition = errors.New("saga: invalid status transition")
	// ErrNoItems is returned when a request is created without items.
	ErrNoItems = errors.New("saga: request needs at least one item")
	// ErrInvalidQuantity is returned for non-positive item quantities.
	ErrInvalidQuantity = errors.New("saga: item quantity must be positive")
)

// IsPermanent reports whether err is a business failure that retrying the
// same event cannot fix. Consumers route these to the dead-letter path
// instead of redelivering forever.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrTotalMismatch) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrNoItems) ||
		errors.Is(err, ErrInvalidQuantity)
}
