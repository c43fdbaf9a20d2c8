package lockbox

import (
	"context"
	"math/big"

	"go-bridge/internal/config"
	"go-bridge/internal/errs"
	"go-bridge/internal/models"
	"go-bridge/internal/registry"
)

// FeeOp identifies the custody operation a fee estimate is requested for.
type FeeOp string

const (
	FeeOpLock   FeeOp = "lock"
	FeeOpUnlock FeeOp = "unlock"
	FeeOpRefund FeeOp = "refund"
)

// LockCall is the on-chain lock submission.
type LockCall struct {
	TokenAddress string
	Amount       *big.Int
	Commitment   string
	DurationSecs int64
}

// UnlockCall is the on-chain release submission.
type UnlockCall struct {
	Nullifier string
	Proof     *models.BridgeProof
	Recipient string
}

// ChainExecutor is the per-chain execution capability. The lockbox depends
// only on this contract; the account-model and ledger-model variants differ
// only in how they talk to their chain.
type ChainExecutor interface {
	Lock(ctx context.Context, call *LockCall) (txHash string, err error)
	Unlock(ctx context.Context, call *UnlockCall) (txHash string, err error)
	Refund(ctx context.Context, depositID string) (txHash string, err error)
	Confirmations(ctx context.Context, txHash string) (uint64, error)
	IsNullifierSpent(ctx context.Context, nullifier string) (bool, error)
	EstimateFee(ctx context.Context, op FeeOp) (*big.Int, error)
	Close()
}

// NewExecutor builds the executor variant for a chain, selected by chain
// type.
func NewExecutor(cfg config.ChainConfig, info *registry.ChainInfo) (ChainExecutor, error) {
	switch info.Type {
	case registry.ChainTypeEVM:
		return newEVMExecutor(cfg, info)
	case registry.ChainTypeLedger:
		return newLedgerExecutor(cfg, info), nil
	default:
		return nil, errs.Newf(errs.KindConfiguration, errs.CodeInvalidChain,
			"no executor for chain type %q", info.Type)
	}
}
