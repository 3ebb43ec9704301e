package saga

import (
	"context"
	"fmt"

	"github.com/shopflow/shopflow/event"
)

// Tx exposes the aggregate inside one transaction. Implementations back it
// with a database transaction or an equivalent mutual-exclusion scope; every
// method sees the same consistent snapshot and commits or rolls back as one.
type Tx interface {
	// Request loads a request without locking it.
	Request(ctx context.Context, id int64) (Request, error)
	// RequestForUpdate loads a request and locks its row until commit, so two
	// concurrent deliveries for the same request serialize here.
	RequestForUpdate(ctx context.Context, id int64) (Request, error)
	// CreateRequest inserts the request and its items, assigning IDs.
	CreateRequest(ctx context.Context, req *Request, items []Item) error
	// UpdateRequest writes status, charge and tracking references.
	UpdateRequest(ctx context.Context, req Request) error
	// Items returns the request's item lines.
	Items(ctx context.Context, requestID int64) ([]Item, error)
	// User loads the request owner.
	User(ctx context.Context, id int64) (User, error)
	// Products loads catalog entries by id. A missing id is ErrProductNotFound.
	Products(ctx context.Context, ids []int64) ([]Product, error)
	// ListProducts returns the whole catalog ordered by id.
	ListProducts(ctx context.Context) ([]Product, error)
	// CreateInvoice inserts an invoice record, assigning its ID.
	CreateInvoice(ctx context.Context, inv *Invoice) error
	// Invoice loads the invoice for a request, if any.
	Invoice(ctx context.Context, requestID int64) (Invoice, error)
	// AppendEvent stages an outbox record announcing the mutation. It commits
	// atomically with every other write in this transaction.
	AppendEvent(ctx context.Context, env event.Envelope) error
}

// Store runs closures transactionally against the service's own data. This is
// the transactional writer: the business mutation and the outbox append
// either both commit or neither does.
type Store interface {
	// Execute runs fn in a single transaction. Any error rolls the whole
	// transaction back, including staged outbox records.
	Execute(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Apply performs one saga step for the given trigger event: it locks the
// request, no-ops when the step's target status was already reached, runs act
// to perform the step's effect and stage its follow-up event, then advances
// the status. The whole step commits atomically.
//
// The returned bool reports whether the step ran; false means the duplicate
// or out-of-order delivery was absorbed without side effects.
func Apply(ctx context.Context, store Store, requestID int64, trigger event.Type, act func(ctx context.Context, tx Tx, req *Request) error) (bool, error) {
	from, to, ok := Next(trigger)
	if !ok {
		return false, fmt.Errorf("%w: no transition for %s", ErrInvalidTransition, trigger)
	}

	applied := false
	err := store.Execute(ctx, func(ctx context.Context, tx Tx) error {
		req, err := tx.RequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}

		if Reached(req.Status, to) {
			// Duplicate or out-of-order delivery; the effect already happened.
			return nil
		}
		if req.Status != from {
			// The triggering precondition does not hold yet. Not an error:
			// the event that moves the request to the expected state has not
			// been applied, so absorb this delivery.
			return nil
		}

		if err := act(ctx, tx, &req); err != nil {
			return err
		}

		if !CanTransition(req.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, req.Status, to)
		}
		req.Status = to
		if err := tx.UpdateRequest(ctx, req); err != nil {
			return err
		}

		applied = true

		return nil
	})
	if err != nil {
		return false, err
	}

	return applied, nil
}

// Fail drives a request to the failed state from any non-terminal state.
// Used when a permanent business error makes the saga unrecoverable.
func Fail(ctx context.Context, store Store, requestID int64) error {
	return store.Execute(ctx, func(ctx context.Context, tx Tx) error {
		req, err := tx.RequestForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status == StatusFailed || req.Status == StatusCompleted {
			return nil
		}

		req.Status = StatusFailed

		return tx.UpdateRequest(ctx, req)
	})
}
