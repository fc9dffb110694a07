// Package gateway is the client for the external escrow/payment provider.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"workbridge/internal/common"
)

type LockRequest struct {
	TransactionID string `json:"transaction_id"`
	JobID         string `json:"job_id"`
	ClientID      string `json:"client_id"`
	WorkerID      string `json:"worker_id"`
	Amount        int64  `json:"amount"`
	Mode          string `json:"mode"`
}

type ReleaseRequest struct {
	TransactionID string  `json:"transaction_id"`
	JobID         string  `json:"job_id"`
	GatewayRef    *string `json:"gateway_ref,omitempty"`
	Amount        int64   `json:"amount"`
}

// Receipt is the provider's acknowledgement of a lock or release.
type Receipt struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// PaymentGateway is the contract the Escrow Payment Coordinator calls
// through its resilience decorator.
type PaymentGateway interface {
	LockFunds(ctx context.Context, req LockRequest) (*Receipt, error)
	ReleaseFunds(ctx context.Context, req ReleaseRequest) (*Receipt, error)
}

// HTTPGateway talks JSON to the provider's REST endpoints.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (g *HTTPGateway) LockFunds(ctx context.Context, req LockRequest) (*Receipt, error) {
	return g.post(ctx, "/v1/escrow/lock", req)
}

func (g *HTTPGateway) ReleaseFunds(ctx context.Context, req ReleaseRequest) (*Receipt, error) {
	return g.post(ctx, "/v1/escrow/release", req)
}

func (g *HTTPGateway) post(ctx context.Context, path string, payload any) (*Receipt, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal gateway payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway call %s: %v: %w", path, err, common.ErrGatewayUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("gateway %s returned %d: %w", path, resp.StatusCode, common.ErrGatewayUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway %s rejected request with %d: %w", path, resp.StatusCode, common.ErrBadRequest)
	}

	receipt := &Receipt{}
	if err := json.NewDecoder(resp.Body).Decode(receipt); err != nil {
		return nil, fmt.Errorf("decode gateway response: %w", err)
	}
	return receipt, nil
}
