package lockbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"go-bridge/internal/config"
	"go-bridge/internal/errs"
	"go-bridge/internal/models"
	"go-bridge/internal/registry"
)

// ledgerExecutor is the ledger-model variant of ChainExecutor, backed by a
// JSON-RPC node (Solana-style). The custody program exposes the same
// lock/unlock/refund contract as the EVM custody contract.
type ledgerExecutor struct {
	chain   *registry.ChainInfo
	baseURL string
	client  *http.Client
	reqID   atomic.Uint64
}

func newLedgerExecutor(cfg config.ChainConfig, info *registry.ChainInfo) *ledgerExecutor {
	endpoint := ""
	if len(info.RPCEndpoints) > 0 {
		endpoint = info.RPCEndpoints[0]
	}
	return &ledgerExecutor{
		chain:   info,
		baseURL: endpoint,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (e *ledgerExecutor) call(ctx context.Context, method string, params, out any) error {
	req := rpcRequest{JSONRPC: "2.0", ID: e.reqID.Add(1), Method: method, Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal RPC request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return errs.Wrap(errs.KindChain, errs.CodeRPCError, "RPC request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return errs.Newf(errs.KindChain, errs.CodeRPCError,
			"RPC returned status %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if rpcResp.Error != nil {
		return errs.Newf(errs.KindChain, errs.CodeRPCError,
			"RPC error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}
	return nil
}

type txResult struct {
	Signature string `json:"signature"`
}

func (e *ledgerExecutor) Lock(ctx context.Context, call *LockCall) (string, error) {
	params := map[string]any{
		"program":    e.chain.CustodyAddress,
		"token":      call.TokenAddress,
		"amount":     call.Amount.String(),
		"commitment": call.Commitment,
		"duration":   call.DurationSecs,
	}
	var result txResult
	if err := e.call(ctx, "custody_lock", params, &result); err != nil {
		return "", err
	}
	return result.Signature, nil
}

func (e *ledgerExecutor) Unlock(ctx context.Context, call *UnlockCall) (string, error) {
	params := map[string]any{
		"program":   e.chain.CustodyAddress,
		"verifier":  e.chain.VerifierAddress,
		"nullifier": call.Nullifier,
		"proof":     models.ByteArray(call.Proof.ProofBytes),
		"recipient": call.Recipient,
	}
	var result txResult
	if err := e.call(ctx, "custody_unlock", params, &result); err != nil {
		return "", err
	}
	return result.Signature, nil
}

func (e *ledgerExecutor) Refund(ctx context.Context, depositID string) (string, error) {
	params := map[string]any{
		"program":    e.chain.CustodyAddress,
		"deposit_id": depositID,
	}
	var result txResult
	if err := e.call(ctx, "custody_refund", params, &result); err != nil {
		return "", err
	}
	return result.Signature, nil
}

func (e *ledgerExecutor) Confirmations(ctx context.Context, txHash string) (uint64, error) {
	var result struct {
		Confirmations uint64 `json:"confirmations"`
		Finalized     bool   `json:"finalized"`
	}
	if err := e.call(ctx, "getSignatureStatus", map[string]any{"signature": txHash}, &result); err != nil {
		return 0, err
	}
	if result.Finalized && result.Confirmations < e.chain.Confirmations {
		// Finalized slots count as fully confirmed regardless of depth.
		return e.chain.Confirmations, nil
	}
	return result.Confirmations, nil
}

func (e *ledgerExecutor) IsNullifierSpent(ctx context.Context, nullifier string) (bool, error) {
	var result struct {
		Spent bool `json:"spent"`
	}
	params := map[string]any{"program": e.chain.CustodyAddress, "nullifier": nullifier}
	if err := e.call(ctx, "custody_isNullifierSpent", params, &result); err != nil {
		return false, err
	}
	return result.Spent, nil
}

func (e *ledgerExecutor) EstimateFee(ctx context.Context, op FeeOp) (*big.Int, error) {
	var result struct {
		Lamports string `json:"lamports"`
	}
	if err := e.call(ctx, "custody_estimateFee", map[string]any{"op": string(op)}, &result); err != nil {
		return nil, err
	}
	fee, ok := new(big.Int).SetString(result.Lamports, 10)
	if !ok {
		return nil, fmt.Errorf("invalid fee amount: %q", result.Lamports)
	}
	return fee, nil
}

func (e *ledgerExecutor) Close() {}
