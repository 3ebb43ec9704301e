package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Partner books shipments with the logistics provider. Implementations must
// resolve a repeated booking for the same request to the original shipment.
type Partner interface {
	CreateShipment(ctx context.Context, requestID int64, address string) (string, error)
}

// HTTPPartner calls the partner's REST API, using the request id as the
// booking reference so redeliveries cannot create a second shipment.
type HTTPPartner struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ Partner = (*HTTPPartner)(nil)

// NewHTTPPartner constructs a partner client.
func NewHTTPPartner(baseURL, apiKey string) *HTTPPartner {
	return &HTTPPartner{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

type shipmentRequest struct {
	Reference string `json:"reference"`
	Address   string `json:"address"`
}

type shipmentResponse struct {
	TrackingID string `json:"trackingId"`
}

// CreateShipment books (or re-reads) the shipment for a request.
func (p *HTTPPartner) CreateShipment(ctx context.Context, requestID int64, address string) (string, error) {
	body, err := json.Marshal(shipmentRequest{
		Reference: fmt.Sprintf("request-%d", requestID),
		Address:   address,
	})
	if err != nil {
		return "", fmt.Errorf("shipping: encode shipment failed: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/shipments", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("shipping: build shipment request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("shipping: shipment call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("shipping: shipment rejected with status %d", resp.StatusCode)
	}

	var out shipmentResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("shipping: decode shipment response failed: %w", err)
	}
	if out.TrackingID == "" {
		return "", fmt.Errorf("shipping: shipment response missing tracking id")
	}

	return out.TrackingID, nil
}
