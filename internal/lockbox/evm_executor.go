package lockbox

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"go-bridge/internal/config"
	"go-bridge/internal/errs"
	"go-bridge/internal/registry"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"
)

// custodyABI is the bridge custody contract surface the executor needs.
const custodyABI = `[
	{"name":"lock","type":"function","stateMutability":"payable","inputs":[
		{"name":"token","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"commitment","type":"bytes32"},
		{"name":"duration","type":"uint64"}],"outputs":[]},
	{"name":"unlock","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"nullifier","type":"bytes32"},
		{"name":"proof","type":"bytes"},
		{"name":"recipient","type":"address"}],"outputs":[]},
	{"name":"refund","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"depositId","type":"bytes32"}],"outputs":[]},
	{"name":"isNullifierSpent","type":"function","stateMutability":"view","inputs":[
		{"name":"nullifier","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]}
]`

// evmExecutor is the account-model variant of ChainExecutor, backed by an
// EVM JSON-RPC endpoint.
type evmExecutor struct {
	chain      *registry.ChainInfo
	client     *ethclient.Client
	contract   common.Address
	abi        abi.ABI
	privateKey *ecdsa.PrivateKey
	from       common.Address
	logger     *logrus.Logger
}

func newEVMExecutor(cfg config.ChainConfig, info *registry.ChainInfo) (*evmExecutor, error) {
	if len(info.RPCEndpoints) == 0 {
		return nil, errs.Newf(errs.KindChain, errs.CodeChainUnavailable, "no RPC endpoint for chain %s", info.ID)
	}
	client, err := ethclient.Dial(info.RPCEndpoints[0])
	if err != nil {
		return nil, errs.Wrap(errs.KindChain, errs.CodeChainUnavailable,
			fmt.Sprintf("failed to dial %s", info.RPCEndpoints[0]), err)
	}

	parsed, err := abi.JSON(strings.NewReader(custodyABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse custody ABI: %w", err)
	}

	e := &evmExecutor{
		chain:    info,
		client:   client,
		contract: common.HexToAddress(info.CustodyAddress),
		abi:      parsed,
		logger:   logrus.StandardLogger(),
	}

	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, errs.Wrap(errs.KindConfiguration, errs.CodeInvalidConfig,
				"invalid custody private key", err)
		}
		e.privateKey = key
		e.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return e, nil
}

func (e *evmExecutor) Lock(ctx context.Context, call *LockCall) (string, error) {
	commitment, err := parseBytes32(call.Commitment)
	if err != nil {
		return "", errs.Wrap(errs.KindLockbox, errs.CodeInvalidCommitment, "bad commitment", err)
	}
	data, err := e.abi.Pack("lock",
		common.HexToAddress(call.TokenAddress), call.Amount, commitment, uint64(call.DurationSecs))
	if err != nil {
		return "", fmt.Errorf("failed to pack lock call: %w", err)
	}
	return e.submit(ctx, data, call.Amount)
}

func (e *evmExecutor) Unlock(ctx context.Context, call *UnlockCall) (string, error) {
	nullifier, err := parseBytes32(call.Nullifier)
	if err != nil {
		return "", errs.Wrap(errs.KindLockbox, errs.CodeInvalidCommitment, "bad nullifier", err)
	}
	data, err := e.abi.Pack("unlock",
		nullifier, []byte(call.Proof.ProofBytes), common.HexToAddress(call.Recipient))
	if err != nil {
		return "", fmt.Errorf("failed to pack unlock call: %w", err)
	}
	return e.submit(ctx, data, nil)
}

func (e *evmExecutor) Refund(ctx context.Context, depositID string) (string, error) {
	id := crypto.Keccak256Hash([]byte(depositID))
	data, err := e.abi.Pack("refund", [32]byte(id))
	if err != nil {
		return "", fmt.Errorf("failed to pack refund call: %w", err)
	}
	return e.submit(ctx, data, nil)
}

// submit builds, signs, and sends a custody transaction.
func (e *evmExecutor) submit(ctx context.Context, data []byte, value *big.Int) (string, error) {
	if e.privateKey == nil {
		return "", errs.New(errs.KindConfiguration, errs.CodeInvalidConfig,
			"no custody signer configured for chain "+e.chain.ID)
	}

	nonce, err := e.client.PendingNonceAt(ctx, e.from)
	if err != nil {
		return "", errs.Wrap(errs.KindChain, errs.CodeRPCError, "failed to fetch nonce", err)
	}
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", errs.Wrap(errs.KindChain, errs.CodeRPCError, "failed to fetch gas price", err)
	}
	chainID, err := e.client.ChainID(ctx)
	if err != nil {
		return "", errs.Wrap(errs.KindChain, errs.CodeRPCError, "failed to fetch chain id", err)
	}

	if value == nil {
		value = big.NewInt(0)
	}
	tx := types.NewTransaction(nonce, e.contract, value, 500_000, gasPrice, data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(chainID), e.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return "", errs.Wrap(errs.KindChain, errs.CodeRPCError, "failed to send transaction", err)
	}

	hash := signed.Hash().Hex()
	e.logger.WithFields(logrus.Fields{"chain": e.chain.ID, "tx": hash}).Debug("Custody transaction submitted")
	return hash, nil
}

// Confirmations returns how many blocks sit on top of the transaction's
// block, or 0 while it is unmined.
func (e *evmExecutor) Confirmations(ctx context.Context, txHash string) (uint64, error) {
	receipt, err := e.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return 0, errs.Wrap(errs.KindChain, errs.CodeRPCError, "failed to fetch receipt", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return 0, errs.Newf(errs.KindTransaction, errs.CodeTxReverted, "transaction %s reverted", txHash)
	}
	head, err := e.client.BlockNumber(ctx)
	if err != nil {
		return 0, errs.Wrap(errs.KindChain, errs.CodeRPCError, "failed to fetch head block", err)
	}
	if head < receipt.BlockNumber.Uint64() {
		return 0, nil
	}
	return head - receipt.BlockNumber.Uint64() + 1, nil
}

func (e *evmExecutor) IsNullifierSpent(ctx context.Context, nullifier string) (bool, error) {
	n, err := parseBytes32(nullifier)
	if err != nil {
		return false, errs.Wrap(errs.KindLockbox, errs.CodeInvalidCommitment, "bad nullifier", err)
	}
	data, err := e.abi.Pack("isNullifierSpent", n)
	if err != nil {
		return false, fmt.Errorf("failed to pack call: %w", err)
	}
	result, err := e.client.CallContract(ctx, callMsg(e.contract, data), nil)
	if err != nil {
		return false, errs.Wrap(errs.KindChain, errs.CodeRPCError, "nullifier query failed", err)
	}
	out, err := e.abi.Unpack("isNullifierSpent", result)
	if err != nil {
		return false, fmt.Errorf("failed to unpack result: %w", err)
	}
	spent, _ := out[0].(bool)
	return spent, nil
}

// EstimateFee approximates the custody operation cost as gas × price.
func (e *evmExecutor) EstimateFee(ctx context.Context, op FeeOp) (*big.Int, error) {
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindChain, errs.CodeRPCError, "failed to fetch gas price", err)
	}
	gas := big.NewInt(120_000)
	if op == FeeOpUnlock {
		gas = big.NewInt(350_000) // proof calldata dominates
	}
	return new(big.Int).Mul(gasPrice, gas), nil
}

func (e *evmExecutor) Close() {
	e.client.Close()
}

func callMsg(to common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{To: &to, Data: data}
}

func parseBytes32(s string) ([32]byte, error) {
	var out [32]byte
	raw := common.FromHex(s)
	if len(raw) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
