package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go-bridge/internal/config"
	"go-bridge/internal/errs"
	"go-bridge/internal/models"
)

// RelayerNetworkClient is the HTTP client for an external relayer network.
// Amounts and fees cross the wire as decimal strings, byte buffers as
// integer arrays, timestamps as ISO-8601.
type RelayerNetworkClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewRelayerNetworkClient creates the relayer network client.
func NewRelayerNetworkClient(baseURL, apiKey string) *RelayerNetworkClient {
	timeout := 30 * time.Second

	if config.AppConfig != nil && config.AppConfig.Relayer.Timeout > 0 {
		timeout = time.Duration(config.AppConfig.Relayer.Timeout) * time.Second
	}

	return &RelayerNetworkClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client: &http.Client{
			Timeout: timeout,
		},
	}
}

// relayErrorBody is the non-2xx payload shape.
type relayErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// SubmitRelayResponse is the relayer's acceptance reply.
type SubmitRelayResponse struct {
	TransactionID string `json:"transaction_id"`
	Accepted      bool   `json:"accepted"`
	QueuePosition int    `json:"queue_position"`
	EstimatedTime int64  `json:"estimated_time_seconds"`
	Reason        string `json:"reason,omitempty"`
}

// RelayStatusResponse reports the last known relay outcome.
type RelayStatusResponse struct {
	TransactionID string             `json:"transaction_id"`
	Status        models.RelayStatus `json:"status"`
	DestTxHash    string             `json:"dest_tx_hash,omitempty"`
	Attempts      int                `json:"attempts"`
	LastError     string             `json:"last_error,omitempty"`
	UpdatedAt     string             `json:"updated_at"`
}

// SubmitRelay submits a relay request.
func (c *RelayerNetworkClient) SubmitRelay(ctx context.Context, req *models.RelayRequest) (*SubmitRelayResponse, error) {
	var result SubmitRelayResponse
	if err := c.do(ctx, http.MethodPost, "/relay", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetRelayStatus fetches the status for a transaction id.
func (c *RelayerNetworkClient) GetRelayStatus(ctx context.Context, transactionID string) (*RelayStatusResponse, error) {
	var result RelayStatusResponse
	path := "/relay/" + url.PathEscape(transactionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CancelRelay cancels a not-yet-dispatched request. Returns false when the
// request is already in flight or completed.
func (c *RelayerNetworkClient) CancelRelay(ctx context.Context, transactionID string) (bool, error) {
	var result struct {
		Cancelled bool `json:"cancelled"`
	}
	path := "/relay/" + url.PathEscape(transactionID)
	if err := c.do(ctx, http.MethodDelete, path, nil, &result); err != nil {
		return false, err
	}
	return result.Cancelled, nil
}

// GetHealth returns the relayer network's health report.
func (c *RelayerNetworkClient) GetHealth(ctx context.Context) (*models.RelayerHealth, error) {
	var result models.RelayerHealth
	if err := c.do(ctx, http.MethodGet, "/health", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *RelayerNetworkClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindRelayer, errs.CodeRelayerUnavailable, "relayer request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.mapError(resp.StatusCode, data)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

// mapError converts a non-2xx {code,message,details} payload into the error
// taxonomy. Timeouts and 5xx map to retryable relayer errors; explicit
// rejections are terminal.
func (c *RelayerNetworkClient) mapError(status int, data []byte) error {
	var body relayErrorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		body = relayErrorBody{Code: errs.CodeRelayerUnavailable, Message: string(data)}
	}

	kind := errs.KindRelayer
	code := body.Code
	switch {
	case status == http.StatusGatewayTimeout || body.Code == errs.CodeRelayerTimeout:
		code = errs.CodeRelayerTimeout
	case status >= 500:
		code = errs.CodeRelayerUnavailable
	case status == http.StatusUnprocessableEntity || status == http.StatusBadRequest:
		code = errs.CodeRelayerRejected
	}
	e := errs.Newf(kind, code, "relayer returned %d: %s", status, body.Message)
	if len(body.Details) > 0 {
		return e.WithDetails(body.Details)
	}
	return e
}
