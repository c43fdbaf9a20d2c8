package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go-bridge/internal/config"
	"go-bridge/internal/errs"
	"go-bridge/internal/models"
)

// ProverClient talks to the external proving service. Proof generation and
// cryptographic verification are opaque capabilities; this client never
// inspects circuit internals.
type ProverClient struct {
	BaseURL string
	Client  *http.Client
}

// NewProverClient creates a prover client with the configured timeout.
func NewProverClient(baseURL string) *ProverClient {
	timeout := 600 * time.Second

	if config.AppConfig != nil && config.AppConfig.Prover.Timeout > 0 {
		timeout = time.Duration(config.AppConfig.Prover.Timeout) * time.Second
	}

	return &ProverClient{
		BaseURL: baseURL,
		Client: &http.Client{
			Timeout: timeout,
		},
	}
}

// ProveRequest asks the proving service to generate a proof for a circuit.
type ProveRequest struct {
	CircuitType   string            `json:"circuit_type"`
	PrivateInputs map[string]string `json:"private_inputs"`
	PublicInputs  []string          `json:"public_inputs"`
}

// ProveResponse is the proving service's reply.
type ProveResponse struct {
	Success      bool             `json:"success"`
	ProofBytes   models.ByteArray `json:"proof_bytes"`
	PublicInputs []string         `json:"public_inputs"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	GeneratedAt  string           `json:"generated_at"`
}

// VerifyRequest asks the proving service to check a proof.
type VerifyRequest struct {
	ProofBytes      models.ByteArray `json:"proof_bytes"`
	PublicInputs    []string         `json:"public_inputs"`
	VerificationKey string           `json:"verification_key"`
}

// VerifyResponse is the verification reply.
type VerifyResponse struct {
	Valid        bool    `json:"valid"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

// Prove generates a proof. Generation failures are never retried with the
// same inputs by the caller; the error carries the proof taxonomy kind.
func (c *ProverClient) Prove(ctx context.Context, req *ProveRequest) (*ProveResponse, error) {
	var result ProveResponse
	if err := c.post(ctx, "/api/v1/prove", req, &result); err != nil {
		return nil, errs.Wrap(errs.KindProof, errs.CodeProofGeneration, "proof generation request failed", err)
	}
	if !result.Success {
		msg := "proof generation failed"
		if result.ErrorMessage != nil {
			msg = *result.ErrorMessage
		}
		return nil, errs.New(errs.KindProof, errs.CodeProofGeneration, msg)
	}
	return &result, nil
}

// Verify delegates the cryptographic validity check. A false return is a
// definitive rejection, not a transport error.
func (c *ProverClient) Verify(ctx context.Context, proof *models.BridgeProof, verificationKey string) (bool, error) {
	req := &VerifyRequest{
		ProofBytes:      proof.ProofBytes,
		PublicInputs:    proof.PublicInputs,
		VerificationKey: verificationKey,
	}
	var result VerifyResponse
	if err := c.post(ctx, "/api/v1/verify", req, &result); err != nil {
		return false, errs.Wrap(errs.KindProof, errs.CodeProofVerification, "verification request failed", err)
	}
	return result.Valid, nil
}

func (c *ProverClient) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(data))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
