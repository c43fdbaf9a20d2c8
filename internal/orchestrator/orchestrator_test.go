package orchestrator

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"go-bridge/internal/accumulator"
	"go-bridge/internal/clients"
	"go-bridge/internal/config"
	"go-bridge/internal/errs"
	"go-bridge/internal/events"
	"go-bridge/internal/lockbox"
	"go-bridge/internal/models"
	"go-bridge/internal/registry"
	"go-bridge/internal/relayer"
	"go-bridge/internal/verifier"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	mu            sync.Mutex
	confirmations uint64
	calls         int
}

func (f *fakeExecutor) Lock(ctx context.Context, call *lockbox.LockCall) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return fmt.Sprintf("0xlock%d", f.calls), nil
}

func (f *fakeExecutor) Unlock(ctx context.Context, call *lockbox.UnlockCall) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return fmt.Sprintf("0xunlock%d", f.calls), nil
}

func (f *fakeExecutor) Refund(ctx context.Context, depositID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return fmt.Sprintf("0xrefund%d", f.calls), nil
}

func (f *fakeExecutor) Confirmations(ctx context.Context, txHash string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confirmations, nil
}

func (f *fakeExecutor) IsNullifierSpent(ctx context.Context, nullifier string) (bool, error) {
	return false, nil
}

func (f *fakeExecutor) EstimateFee(ctx context.Context, op lockbox.FeeOp) (*big.Int, error) {
	return big.NewInt(1000), nil
}

func (f *fakeExecutor) Close() {}

type fakeProvider struct {
	lockboxes map[string]*lockbox.Lockbox
}

func (p *fakeProvider) Get(chainID string) (*lockbox.Lockbox, error) {
	lb, ok := p.lockboxes[chainID]
	if !ok {
		return nil, errs.Newf(errs.KindChain, errs.CodeUnsupportedChain, "no lockbox for %s", chainID)
	}
	return lb, nil
}

func (p *fakeProvider) All() []*lockbox.Lockbox {
	var out []*lockbox.Lockbox
	for _, lb := range p.lockboxes {
		out = append(out, lb)
	}
	return out
}

// fakeRelay dispatches synchronously through the orchestrator and reports
// the submitted record back, mimicking an instant relayer network.
type fakeRelay struct {
	orch      *Orchestrator
	mu        sync.Mutex
	submitted []*models.RelayRequest
	failWith  error
}

func (f *fakeRelay) SubmitRequest(ctx context.Context, req *models.RelayRequest) (*relayer.SubmitResult, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, req)
	fail := f.failWith
	f.mu.Unlock()
	if fail != nil {
		return nil, fail
	}

	destTxHash, err := f.orch.Dispatch(ctx, req)
	record := &models.RelayRecord{
		TransactionID: req.TransactionID,
		SourceChainID: req.SourceChainID,
		DestChainID:   req.DestChainID,
		Priority:      req.Priority,
	}
	if err != nil {
		record.Status = models.RelayStatusFailed
		record.LastError = err.Error()
	} else {
		record.Status = models.RelayStatusSubmitted
		record.DestTxHash = destTxHash
	}
	f.orch.HandleRelayUpdate(record)
	if err != nil {
		return nil, err
	}
	return &relayer.SubmitResult{TransactionID: req.TransactionID, QueuePosition: 1}, nil
}

func (f *fakeRelay) GetEstimatedTime(source, dest string, priority models.RelayPriority) (time.Duration, error) {
	return 90 * time.Second, nil
}

func (f *fakeRelay) MarkConfirmed(ctx context.Context, transactionID string) error { return nil }

type passCrypto struct{}

func (passCrypto) Verify(ctx context.Context, proof *models.BridgeProof, key string) (bool, error) {
	return true, nil
}

type fakeProver struct{}

func (fakeProver) Prove(ctx context.Context, req *clients.ProveRequest) (*clients.ProveResponse, error) {
	return &clients.ProveResponse{
		Success:      true,
		ProofBytes:   models.ByteArray{1, 2, 3, 4},
		PublicInputs: req.PublicInputs,
	}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Chains: []config.ChainConfig{
			{ID: "ethereum", Type: "evm", Confirmations: 12, BlockTimeMs: 12000},
			{ID: "solana", Type: "ledger", Confirmations: 32, BlockTimeMs: 400},
		},
		Tokens: []config.TokenConfig{
			{
				Symbol:   "USDC",
				Decimals: 6,
				Addresses: map[string]string{
					"ethereum": "0xusdc",
					"solana":   "usdcmint",
				},
				MinAmount: "1000000",
				MaxAmount: "1000000000000",
			},
		},
		Bridge: config.BridgeConfig{
			BaseFeeBps:      50,
			RelayerFeeBps:   10,
			QuoteTTLSeconds: 300,
			MinLockSeconds:  3600,
			MaxLockSeconds:  259200,
		},
	}
}

type harness struct {
	orch      *Orchestrator
	relay     *fakeRelay
	executors map[string]*fakeExecutor
	acc       *accumulator.Accumulator
	provider  *fakeProvider
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testConfig()
	reg, err := registry.NewChainRegistry(cfg.Chains)
	require.NoError(t, err)
	acc := accumulator.New(8, 4, nil, nil)

	// Tight bounds so refund tests can use real elapsed time.
	bounds := lockbox.Bounds{MinLockDuration: time.Millisecond, MaxLockDuration: 72 * time.Hour}
	limits := map[string]lockbox.TokenLimits{
		"USDC": {Min: big.NewInt(1_000_000), Max: big.NewInt(1_000_000_000_000)},
	}

	executors := make(map[string]*fakeExecutor)
	provider := &fakeProvider{lockboxes: make(map[string]*lockbox.Lockbox)}
	for _, chainCfg := range cfg.Chains {
		info, err := reg.MustGet(chainCfg.ID)
		require.NoError(t, err)
		exec := &fakeExecutor{confirmations: 100}
		executors[chainCfg.ID] = exec
		provider.lockboxes[chainCfg.ID] = lockbox.New(info, exec, acc, nil, bounds, limits, nil)
	}

	check := verifier.New(acc, passCrypto{}, verifier.Options{
		ExpectedPublicInputs: 5,
		StrictMode:           true,
	}, nil)

	relay := &fakeRelay{}
	orch := New(cfg, reg, provider, relay, check, fakeProver{}, acc, nil, nil, nil)
	relay.orch = orch
	return &harness{orch: orch, relay: relay, executors: executors, acc: acc, provider: provider}
}

func bridgeReq() *BridgeRequest {
	return &BridgeRequest{
		SourceChainID: "ethereum",
		DestChainID:   "solana",
		TokenSymbol:   "USDC",
		Amount:        "1000000000",
		Sender:        "0xsender",
		Recipient:     "recipient",
		LockDuration:  time.Hour,
	}
}

func TestGetQuoteArithmetic(t *testing.T) {
	h := newHarness(t)

	quote, err := h.orch.GetQuote(&QuoteRequest{
		SourceChainID: "ethereum",
		DestChainID:   "solana",
		TokenSymbol:   "USDC",
		Amount:        "1000000000",
	})
	require.NoError(t, err)

	assert.Equal(t, "5000000", quote.BridgeFee)
	assert.Equal(t, "1000000", quote.RelayerFee)
	assert.Equal(t, "994000000", quote.DestAmount)
	assert.Equal(t, "1000000000", quote.Amount)
	assert.NotEmpty(t, quote.QuoteID)
	assert.Equal(t, int64(90), quote.EstimatedTime)
	assert.True(t, quote.Valid(time.Now()))
	assert.False(t, quote.Valid(time.Now().Add(6*time.Minute)))
}

func TestGetQuoteTruncatesTowardZero(t *testing.T) {
	h := newHarness(t)

	// 1999 * 50 / 10000 = 9.995 -> 9; no rounding up, no floats.
	quote, err := h.orch.GetQuote(&QuoteRequest{
		SourceChainID: "ethereum",
		DestChainID:   "solana",
		TokenSymbol:   "USDC",
		Amount:        "1999",
	})
	require.NoError(t, err)
	assert.Equal(t, "9", quote.BridgeFee)
	assert.Equal(t, "1", quote.RelayerFee)
	assert.Equal(t, "1989", quote.DestAmount)
}

func TestGetQuoteValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.GetQuote(&QuoteRequest{
		SourceChainID: "ethereum", DestChainID: "ethereum", TokenSymbol: "USDC", Amount: "1000",
	})
	assert.Equal(t, errs.CodeInvalidChain, errs.CodeOf(err))

	_, err = h.orch.GetQuote(&QuoteRequest{
		SourceChainID: "ethereum", DestChainID: "unknown", TokenSymbol: "USDC", Amount: "1000",
	})
	assert.Equal(t, errs.CodeUnsupportedChain, errs.CodeOf(err))

	_, err = h.orch.GetQuote(&QuoteRequest{
		SourceChainID: "ethereum", DestChainID: "solana", TokenSymbol: "DOGE", Amount: "1000",
	})
	assert.Equal(t, errs.CodeInvalidConfig, errs.CodeOf(err))

	// Amount so small the fees eat it entirely.
	_, err = h.orch.GetQuote(&QuoteRequest{
		SourceChainID: "ethereum", DestChainID: "solana", TokenSymbol: "USDC", Amount: "10",
	})
	assert.Equal(t, errs.CodeAmountTooLow, errs.CodeOf(err))
}

func TestBridgeOpensTransaction(t *testing.T) {
	h := newHarness(t)

	tx, err := h.orch.Bridge(context.Background(), bridgeReq())
	require.NoError(t, err)

	assert.Equal(t, models.TxStatusSourceConfirming, tx.Status)
	assert.Empty(t, tx.Nullifier, "nullifier must stay empty until destination unlock")
	assert.NotEmpty(t, tx.Commitment)
	assert.NotEmpty(t, tx.DepositID)
	assert.NotEmpty(t, tx.SourceTxHash)
	assert.Equal(t, "994000000", tx.DestAmount)
	assert.Equal(t, "5000000", tx.BridgeFee)
	assert.Equal(t, "1000000", tx.RelayerFee)

	// The deposit exists on the source lockbox under the same commitment.
	lb, err := h.provider.Get("ethereum")
	require.NoError(t, err)
	deposit, err := lb.GetDepositByCommitment(tx.Commitment)
	require.NoError(t, err)
	assert.Equal(t, models.DepositStatusPending, deposit.Status)
	assert.Equal(t, tx.DepositID, deposit.ID)
}

func TestBridgePrioritySurvivesToRelay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := bridgeReq()
	req.Priority = models.RelayPriorityUrgent
	tx, err := h.orch.Bridge(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.RelayPriorityUrgent, tx.Priority)

	h.orch.trackConfirmations(ctx)
	require.Len(t, h.relay.submitted, 1)
	assert.Equal(t, models.RelayPriorityUrgent, h.relay.submitted[0].Priority)

	// An unset priority defaults to normal.
	tx2, err := h.orch.Bridge(ctx, bridgeReq())
	require.NoError(t, err)
	assert.Equal(t, models.RelayPriorityNormal, tx2.Priority)
}

func TestBridgeLockFailureRecordsNothing(t *testing.T) {
	h := newHarness(t)

	req := bridgeReq()
	req.Amount = "500" // below the token minimum
	_, err := h.orch.Bridge(context.Background(), req)
	assert.Equal(t, errs.CodeAmountTooLow, errs.CodeOf(err))
	assert.Empty(t, h.orch.GetTransactions(TransactionFilter{}))
}

func TestEndToEndTransfer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []models.TransactionStatus
	h.orch.Subscribe(func(evt events.Event) {
		if evt.Type != events.TypeTransactionUpdate {
			return
		}
		mu.Lock()
		seen = append(seen, evt.Payload.(*models.BridgeTransaction).Status)
		mu.Unlock()
	})

	tx, err := h.orch.Bridge(ctx, bridgeReq())
	require.NoError(t, err)

	// Source confirmations arrive: deposit confirmed, proof generated,
	// relay dispatched synchronously, release submitted.
	h.orch.trackConfirmations(ctx)
	got, err := h.orch.GetTransaction(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusDestConfirming, got.Status)
	assert.NotEmpty(t, got.DestTxHash)
	assert.NotEmpty(t, got.Nullifier)

	// Release confirmations arrive: transaction completes.
	h.orch.trackConfirmations(ctx)
	got, err = h.orch.GetTransaction(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	// Custody released exactly once.
	lb, err := h.provider.Get("ethereum")
	require.NoError(t, err)
	deposit, err := lb.GetDeposit(tx.DepositID)
	require.NoError(t, err)
	assert.Equal(t, models.DepositStatusReleased, deposit.Status)
	assert.True(t, h.acc.HasNullifier(got.Nullifier))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []models.TransactionStatus{
		models.TxStatusSourceConfirming,
		models.TxStatusSourceConfirmed,
		models.TxStatusDestConfirming,
		models.TxStatusDestConfirmed,
		models.TxStatusCompleted,
	}, seen)
}

func TestSecondUnlockWithSameNullifierRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tx, err := h.orch.Bridge(ctx, bridgeReq())
	require.NoError(t, err)
	h.orch.trackConfirmations(ctx)

	require.Len(t, h.relay.submitted, 1)
	replay := h.relay.submitted[0]

	// Replaying the identical relay request must die on the nullifier
	// check before any chain interaction.
	_, err = h.orch.Dispatch(ctx, replay)
	assert.Equal(t, errs.CodeNullifierUsed, errs.CodeOf(err))

	got, err := h.orch.GetTransaction(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusDestConfirming, got.Status)
}

func TestDispatchRejectsStaleRoot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Bridge(ctx, bridgeReq())
	require.NoError(t, err)
	h.orch.trackConfirmations(ctx)
	require.Len(t, h.relay.submitted, 1)
	proof := h.relay.submitted[0].Proof

	// Evict the proof's root from the recent-roots window.
	for i := 0; i < 5; i++ {
		_, err := h.acc.Insert(ctx, fmt.Sprintf("0x%064d", i+1))
		require.NoError(t, err)
	}

	replay := *h.relay.submitted[0]
	stale := *proof
	stale.Nullifier = "0x" + "ab"
	replay.Proof = &stale
	_, err = h.orch.Dispatch(ctx, &replay)
	assert.Equal(t, errs.CodeStaleRoot, errs.CodeOf(err))
}

func TestRelayFailureMarksTransactionFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.relay.failWith = errs.New(errs.KindRelayer, errs.CodeRelayerUnavailable, "network down")

	tx, err := h.orch.Bridge(ctx, bridgeReq())
	require.NoError(t, err)
	h.orch.trackConfirmations(ctx)

	got, err := h.orch.GetTransaction(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "network down")

	// The deposit stays in custody, refundable after expiry.
	lb, err := h.provider.Get("ethereum")
	require.NoError(t, err)
	deposit, err := lb.GetDeposit(tx.DepositID)
	require.NoError(t, err)
	assert.Equal(t, models.DepositStatusConfirmed, deposit.Status)
}

func TestExpirySweepRefunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := bridgeReq()
	req.LockDuration = 20 * time.Millisecond
	tx, err := h.orch.Bridge(ctx, req)
	require.NoError(t, err)

	// Nothing to refund while the lock is alive.
	h.orch.sweepExpired(ctx)
	got, err := h.orch.GetTransaction(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusSourceConfirming, got.Status)

	time.Sleep(30 * time.Millisecond)
	h.orch.sweepExpired(ctx)

	got, err = h.orch.GetTransaction(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusRefunded, got.Status)

	lb, err := h.provider.Get("ethereum")
	require.NoError(t, err)
	deposit, err := lb.GetDeposit(tx.DepositID)
	require.NoError(t, err)
	assert.Equal(t, models.DepositStatusRefunded, deposit.Status)

	// The sweep is idempotent.
	h.orch.sweepExpired(ctx)
	got, err = h.orch.GetTransaction(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusRefunded, got.Status)
}

func TestCompletedTransactionCannotBeRefunded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := bridgeReq()
	req.LockDuration = 20 * time.Millisecond
	tx, err := h.orch.Bridge(ctx, req)
	require.NoError(t, err)

	h.orch.trackConfirmations(ctx)
	h.orch.trackConfirmations(ctx)
	got, err := h.orch.GetTransaction(tx.ID)
	require.NoError(t, err)
	require.Equal(t, models.TxStatusCompleted, got.Status)

	time.Sleep(30 * time.Millisecond)
	h.orch.sweepExpired(ctx)
	got, err = h.orch.GetTransaction(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusCompleted, got.Status)
}

func TestGetTransactionsFilter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Bridge(ctx, bridgeReq())
	require.NoError(t, err)
	other := bridgeReq()
	other.Sender = "0xother"
	_, err = h.orch.Bridge(ctx, other)
	require.NoError(t, err)

	assert.Len(t, h.orch.GetTransactions(TransactionFilter{}), 2)
	assert.Len(t, h.orch.GetTransactions(TransactionFilter{Sender: "0xsender"}), 1)
	assert.Len(t, h.orch.GetTransactions(TransactionFilter{Status: models.TxStatusSourceConfirming}), 2)
	assert.Empty(t, h.orch.GetTransactions(TransactionFilter{Status: models.TxStatusCompleted}))
}

func TestGetTVLAggregates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Bridge(ctx, bridgeReq())
	require.NoError(t, err)
	_, err = h.orch.Bridge(ctx, bridgeReq())
	require.NoError(t, err)

	tvl := h.orch.GetTVL()
	assert.Equal(t, "2000000000", tvl["USDC"])
}

type fakeTxRepo struct {
	mu      sync.Mutex
	active  []*models.BridgeTransaction
	updates int
}

func (f *fakeTxRepo) Create(ctx context.Context, tx *models.BridgeTransaction) error { return nil }

func (f *fakeTxRepo) Update(ctx context.Context, tx *models.BridgeTransaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	return nil
}

func (f *fakeTxRepo) FindActive(ctx context.Context) ([]*models.BridgeTransaction, error) {
	return f.active, nil
}

func TestRestoreResumesActiveTransactions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	relaying := &models.BridgeTransaction{
		ID:            "tx-relaying",
		SourceChainID: "ethereum",
		DestChainID:   "solana",
		TokenSymbol:   "USDC",
		Amount:        "1000000000",
		Status:        models.TxStatusRelaying,
		DepositID:     "dep-relaying",
	}
	confirming := &models.BridgeTransaction{
		ID:            "tx-confirming",
		SourceChainID: "ethereum",
		DestChainID:   "solana",
		TokenSymbol:   "USDC",
		Amount:        "1000000000",
		Status:        models.TxStatusSourceConfirming,
		DepositID:     "dep-confirming",
	}
	repo := &fakeTxRepo{active: []*models.BridgeTransaction{relaying, confirming}}
	h.orch.repo = repo

	require.NoError(t, h.orch.Restore(ctx))

	got, err := h.orch.GetTransaction("tx-relaying")
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusRelaying, got.Status)
	assert.Len(t, h.orch.GetTransactions(TransactionFilter{}), 2)

	// A relay outcome arriving after the restart drives the restored
	// transaction forward.
	h.orch.HandleRelayUpdate(&models.RelayRecord{
		TransactionID: "tx-relaying",
		DestChainID:   "solana",
		Status:        models.RelayStatusSubmitted,
		DestTxHash:    "0xdest",
	})
	got, err = h.orch.GetTransaction("tx-relaying")
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusDestConfirming, got.Status)
	assert.Equal(t, "0xdest", got.DestTxHash)

	// Deposit linkage survives the restart so refund sweeps can still mark
	// the owning transaction.
	h.orch.mu.RLock()
	assert.Equal(t, "tx-confirming", h.orch.byDeposit["dep-confirming"])
	h.orch.mu.RUnlock()
}

func TestRestoreWithoutRepositoryIsNoOp(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.orch.Restore(context.Background()))
	assert.Empty(t, h.orch.GetTransactions(TransactionFilter{}))
}
