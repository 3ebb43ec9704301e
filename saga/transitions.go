package saga

import "github.com/shopflow/shopflow/event"

// rank orders the forward path. failed sits outside the path and is handled
// explicitly.
var rank = map[Status]int{
	StatusPending:   0,
	StatusInvoiced:  1,
	StatusBilled:    2,
	StatusShipped:   3,
	StatusCompleted: 4,
}

// transitions maps the event a service consumes to the step it performs.
var transitions = map[event.Type]struct{ from, to Status }{
	event.TypeRequestCreated:   {StatusPending, StatusInvoiced},
	event.TypeInvoiceGenerated: {StatusInvoiced, StatusBilled},
	event.TypePaymentProcessed: {StatusBilled, StatusShipped},
	event.TypeShippingCreated:  {StatusShipped, StatusCompleted},
}

// Next returns the status a request must be in to act on the event and the
// status it moves to. ok is false for events that drive no transition
// (order.completed is announcement only).
func Next(trigger event.Type) (from, to Status, ok bool) {
	step, ok := transitions[trigger]

	return step.from, step.to, ok
}

// CanTransition reports whether moving from one status to another follows the
// strict forward path. failed is reachable from any non-terminal state.
func CanTransition(from, to Status) bool {
	if from == StatusFailed || from == StatusCompleted {
		return false
	}
	if to == StatusFailed {
		return true
	}

	fromRank, okFrom := rank[from]
	toRank, okTo := rank[to]

	return okFrom && okTo && toRank == fromRank+1
}

// Reached reports whether current is at or past target on the forward path.
// Handlers use it as the idempotency guard: a duplicate or out-of-order event
// whose target was already reached is a successful no-op.
func Reached(current, target Status) bool {
	if current == StatusFailed {
		// A failed request accepts no further effects.
		return true
	}

	currentRank, okCurrent := rank[current]
	targetRank, okTarget := rank[target]

	return okCurrent && okTarget && currentRank >= targetRank
}
