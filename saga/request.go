// Package saga models the shared order fulfillment state machine and the
// transactional store contract every service mutates it through.
//
// A Request moves forward through pending -> invoiced -> billed -> shipped ->
// completed, with failed reachable from any state. Each transition commits
// together with the outbox entry announcing it; handlers consuming duplicate
// or out-of-order events check the current status first and no-op when the
// target state has already been reached.
package saga

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a Request.
type Status string

const (
	// StatusPending is the initial state after intake.
	StatusPending Status = "pending"
	// StatusInvoiced means the invoice artifact exists.
	StatusInvoiced Status = "invoiced"
	// StatusBilled means the payment was charged.
	StatusBilled Status = "billed"
	// StatusShipped means a shipment was created with the partner.
	StatusShipped Status = "shipped"
	// StatusCompleted is the terminal success state.
	StatusCompleted Status = "completed"
	// StatusFailed is the terminal failure state, reachable from any state.
	StatusFailed Status = "failed"
)

// String implements fmt.Stringer.
func (s Status) String() string {
	return string(s)
}

// TotalEpsilon is the maximum tolerated difference between a request total
// and the sum of its item prices.
var TotalEpsilon = decimal.NewFromFloat(0.01)

// Request is the saga aggregate. Each service owns its own copy of the row;
// coordination happens only through delivered events.
type Request struct {
	ID         int64
	UserID     int64
	TotalPrice decimal.Decimal
	Status     Status
	ChargeID   string
	TrackingID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Item is a product line captured at order time. Price is the unit price
// snapshot; it does not follow later catalog changes.
type Item struct {
	ID        int64
	RequestID int64
	ProductID int64
	Quantity  int
	Price     decimal.Decimal
	CreatedAt time.Time
}

// User is the request owner as the billing and shipping services see it.
type User struct {
	ID         int64
	Email      string
	CustomerID string
	Address    string
}

// Product is a catalog entry with its current price.
type Product struct {
	ID    int64
	Name  string
	Price decimal.Decimal
}

// Invoice is the artifact record produced by the invoicing service.
type Invoice struct {
	ID        int64
	RequestID int64
	PDFURL    string
	CreatedAt time.Time
}

// ItemsTotal sums quantity times unit price over all items.
func ItemsTotal(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	return total
}

// VerifyTotal checks the recorded total against the item sum within
// TotalEpsilon. A mismatch is a business-rule violation, never corrected.
func VerifyTotal(total decimal.Decimal, items []Item) error {
	diff := total.Sub(ItemsTotal(items)).Abs()
	if diff.GreaterThan(TotalEpsilon) {
		return ErrTotalMismatch
	}

	return nil
}
