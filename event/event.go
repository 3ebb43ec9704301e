// Package event defines the wire envelope and payloads exchanged between
// fulfillment services.
//
// Every message on the queue is an Envelope. The eventType attribute is the
// only routing key; consumers that do not care about a type acknowledge it
// unchanged. Timestamps travel as RFC 3339 strings.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Type identifies a fulfillment event.
type Type string

const (
	// TypeRequestCreated is emitted by the intake service after a request commits.
	TypeRequestCreated Type = "request.created"
	// TypeInvoiceGenerated is emitted by the invoicing service.
	TypeInvoiceGenerated Type = "invoice.generated"
	// TypePaymentProcessed is emitted by the billing service.
	TypePaymentProcessed Type = "payment.processed"
	// TypeShippingCreated is emitted by the shipping service.
	TypeShippingCreated Type = "shipping.created"
	// TypeOrderCompleted is emitted when the saga reaches its terminal state.
	TypeOrderCompleted Type = "order.completed"
)

// Types lists every known event type.
func Types() []Type {
	return []Type{
		TypeRequestCreated,
		TypeInvoiceGenerated,
		TypePaymentProcessed,
		TypeShippingCreated,
		TypeOrderCompleted,
	}
}

// Valid reports whether t is a known event type.
func (t Type) Valid() bool {
	switch t {
	case TypeRequestCreated, TypeInvoiceGenerated, TypePaymentProcessed, TypeShippingCreated, TypeOrderCompleted:
		return true
	}

	return false
}

// String implements fmt.Stringer.
func (t Type) String() string {
	return string(t)
}

// Envelope is the message format shared by every service.
type Envelope struct {
	EventType Type            `json:"eventType"`
	RequestID int64           `json:"requestId"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// New builds an envelope with the payload marshaled into Data.
func New(eventType Type, requestID int64, at time.Time, payload any) (Envelope, error) {
	if !eventType.Valid() {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownType, eventType)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("event: marshal %s payload: %w", eventType, err)
	}

	return Envelope{
		EventType: eventType,
		RequestID: requestID,
		Timestamp: at.UTC(),
		Data:      data,
	}, nil
}

// Encode marshals the envelope for transport.
func (e Envelope) Encode() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("event: encode envelope: %w", err)
	}

	return body, nil
}

// Decode unmarshals the event-specific payload into dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Data) == 0 {
		return ErrEmptyData
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("event: decode %s payload: %w", e.EventType, err)
	}

	return nil
}

// Parse decodes and validates an envelope received from the broker.
func Parse(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("event: parse envelope: %w", err)
	}
	if !env.EventType.Valid() {
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownType, env.EventType)
	}
	if env.RequestID <= 0 {
		return Envelope{}, ErrRequestIDRequired
	}

	return env, nil
}

// ProductLine is one ordered product inside a RequestCreated payload.
type ProductLine struct {
	ID       int64           `json:"id"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// RequestCreated is the payload of TypeRequestCreated.
type RequestCreated struct {
	UserID     int64           `json:"userId"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
	Products   []ProductLine   `json:"products"`
}

// InvoiceGenerated is the payload of TypeInvoiceGenerated.
type InvoiceGenerated struct {
	InvoiceID  int64           `json:"invoiceId"`
	PDFURL     string          `json:"pdfUrl"`
	TotalPrice decimal.Decimal `json:"totalPrice"`
}

// PaymentProcessed is the payload of TypePaymentProcessed.
type PaymentProcessed struct {
	ChargeID   string          `json:"chargeId"`
	Amount     decimal.Decimal `json:"amount"`
	CustomerID string          `json:"customerId"`
}

// ShippingCreated is the payload of TypeShippingCreated.
type ShippingCreated struct {
	TrackingID string `json:"trackingId"`
	Address    string `json:"address"`
}

// OrderCompleted is the payload of TypeOrderCompleted.
type OrderCompleted struct {
	RequestID int64  `json:"requestId"`
	Status    string `json:"status"`
}
