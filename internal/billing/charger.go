package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Charger charges the customer for a request. Implementations must be
// idempotent per request: charging the same request twice returns the same
// charge instead of taking the money again.
type Charger interface {
	Charge(ctx context.Context, customerID string, amount decimal.Decimal, requestID int64) (string, error)
}

// HTTPCharger calls a payment provider's REST API. The request id doubles as
// the idempotency key, so a redelivered event cannot double-charge.
type HTTPCharger struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Charger = (*HTTPCharger)(nil)

// NewHTTPCharger constructs a provider client.
func NewHTTPCharger(baseURL, apiKey string) *HTTPCharger {
	return &HTTPCharger{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type chargeRequest struct {
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	CustomerID     string `json:"customerId"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type chargeResponse struct {
	ID string `json:"id"`
}

// Charge creates (or re-reads) the charge for a request.
func (c *HTTPCharger) Charge(ctx context.Context, customerID string, amount decimal.Decimal, requestID int64) (string, error) {
	body, err := json.Marshal(chargeRequest{
		Amount:         amount.StringFixed(2),
		Currency:       "usd",
		CustomerID:     customerID,
		IdempotencyKey: fmt.Sprintf("request-%d", requestID),
	})
	if err != nil {
		return "", fmt.Errorf("billing: encode charge failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/charges", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("billing: build charge request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("billing: charge call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("billing: charge rejected with status %d", resp.StatusCode)
	}

	var out chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("billing: decode charge response failed: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("billing: charge response missing id")
	}

	return out.ID, nil
}
