package saga

import (
	"testing"

	"github.com/shopflow/shopflow/event"
)

func TestNext(t *testing.T) {
	cases := []struct {
		trigger  event.Type
		from, to Status
	}{
		{event.TypeRequestCreated, StatusPending, StatusInvoiced},
		{event.TypeInvoiceGenerated, StatusInvoiced, StatusBilled},
		{event.TypePaymentProcessed, StatusBilled, StatusShipped},
		{event.TypeShippingCreated, StatusShipped, StatusCompleted},
	}
	for _, tc := range cases {
		from, to, ok := Next(tc.trigger)
		if !ok || from != tc.from || to != tc.to {
			t.Fatalf("%s: expected %s -> %s, got %s -> %s (ok=%v)", tc.trigger, tc.from, tc.to, from, to, ok)
		}
	}

	if _, _, ok := Next(event.TypeOrderCompleted); ok {
		t.Fatalf("order.completed must not drive a transition")
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusInvoiced, true},
		{StatusInvoiced, StatusBilled, true},
		{StatusBilled, StatusShipped, true},
		{StatusShipped, StatusCompleted, true},
		{StatusPending, StatusBilled, false},
		{StatusInvoiced, StatusPending, false},
		{StatusShipped, StatusShipped, false},
		{StatusPending, StatusFailed, true},
		{StatusShipped, StatusFailed, true},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusInvoiced, false},
		{StatusFailed, StatusFailed, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestReached(t *testing.T) {
	cases := []struct {
		current, target Status
		want            bool
	}{
		{StatusPending, StatusInvoiced, false},
		{StatusInvoiced, StatusInvoiced, true},
		{StatusCompleted, StatusInvoiced, true},
		{StatusBilled, StatusCompleted, false},
		{StatusFailed, StatusInvoiced, true},
		{StatusFailed, StatusCompleted, true},
	}
	for _, tc := range cases {
		if got := Reached(tc.current, tc.target); got != tc.want {
			t.Fatalf("Reached(%s, %s) = %v, want %v", tc.current, tc.target, got, tc.want)
		}
	}
}
