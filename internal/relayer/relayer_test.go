package relayer

import (
	"context"
	"sync"
	"testing"
	"time"

	"go-bridge/internal/config"
	"go-bridge/internal/errs"
	"go-bridge/internal/models"
	"go-bridge/internal/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1000 * time.Millisecond,
		MaxDelay:     10000 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestRetryPolicyDelaySchedule(t *testing.T) {
	p := testPolicy()
	assert.Equal(t, 1000*time.Millisecond, p.Delay(0))
	assert.Equal(t, 2000*time.Millisecond, p.Delay(1))
	assert.Equal(t, 4000*time.Millisecond, p.Delay(2))
	assert.Equal(t, 8000*time.Millisecond, p.Delay(3))
	assert.Equal(t, 10000*time.Millisecond, p.Delay(4))
	assert.Equal(t, 10000*time.Millisecond, p.Delay(20))
}

func TestRetryPolicyDefaults(t *testing.T) {
	p := PolicyFromConfig(config.RelayerConfig{})
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, time.Second, p.InitialDelay)
	assert.Equal(t, 10*time.Second, p.MaxDelay)
	assert.Equal(t, int64(2), p.Multiplier)
}

type scriptedDispatcher struct {
	mu    sync.Mutex
	errs  []error // consumed per attempt; nil entry means success
	order []string
}

func (d *scriptedDispatcher) Dispatch(ctx context.Context, req *models.RelayRequest) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.order = append(d.order, req.TransactionID)
	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return "", err
		}
	}
	return "0xdest", nil
}

func (d *scriptedDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.order...)
}

func testRegistry(t *testing.T) *registry.ChainRegistry {
	t.Helper()
	reg, err := registry.NewChainRegistry([]config.ChainConfig{
		{ID: "ethereum", Type: "evm", Confirmations: 12, BlockTimeMs: 12000},
		{ID: "solana", Type: "ledger", Confirmations: 32, BlockTimeMs: 400},
	})
	require.NoError(t, err)
	return reg
}

// testRelayer runs retries immediately, recording the scheduled delays.
func testRelayer(t *testing.T, dispatcher Dispatcher, workers int) (*Relayer, *[]time.Duration) {
	t.Helper()
	r := New(testRegistry(t), dispatcher, testPolicy(), workers, nil, nil, nil)
	delays := &[]time.Duration{}
	var mu sync.Mutex
	r.afterFunc = func(d time.Duration, f func()) {
		mu.Lock()
		*delays = append(*delays, d)
		mu.Unlock()
		go f()
	}
	t.Cleanup(r.Stop)
	return r, delays
}

func relayReq(txID string, priority models.RelayPriority) *models.RelayRequest {
	return &models.RelayRequest{
		TransactionID: txID,
		SourceChainID: "ethereum",
		DestChainID:   "solana",
		Proof:         &models.BridgeProof{Type: models.ProofTypeTransfer, MerkleRoot: "0xroot"},
		Priority:      priority,
		CreatedAt:     time.Now(),
	}
}

func waitForStatus(t *testing.T, r *Relayer, txID string, want models.RelayStatus) *models.RelayRecord {
	t.Helper()
	var record *models.RelayRecord
	require.Eventually(t, func() bool {
		rec, err := r.GetStatus(context.Background(), txID)
		if err != nil {
			return false
		}
		record = rec
		return rec.Status == want
	}, 5*time.Second, 5*time.Millisecond, "waiting for %s to reach %s", txID, want)
	return record
}

func TestSubmitAndDispatch(t *testing.T) {
	d := &scriptedDispatcher{}
	r, _ := testRelayer(t, d, 1)
	r.Start()

	result, err := r.SubmitRequest(context.Background(), relayReq("tx-1", models.RelayPriorityNormal))
	require.NoError(t, err)
	assert.Equal(t, 1, result.QueuePosition)

	record := waitForStatus(t, r, "tx-1", models.RelayStatusSubmitted)
	assert.Equal(t, "0xdest", record.DestTxHash)
	assert.Equal(t, 1, record.Attempts)
}

func TestSubmitValidation(t *testing.T) {
	r, _ := testRelayer(t, &scriptedDispatcher{}, 1)
	ctx := context.Background()

	_, err := r.SubmitRequest(ctx, &models.RelayRequest{})
	assert.Equal(t, errs.CodeRelayerRejected, errs.CodeOf(err))

	req := relayReq("tx-1", models.RelayPriorityNormal)
	req.SourceChainID = "unknown"
	_, err = r.SubmitRequest(ctx, req)
	assert.Equal(t, errs.CodeUnsupportedChain, errs.CodeOf(err))

	req = relayReq("tx-2", models.RelayPriorityNormal)
	req.ExpiresAt = time.Now().Add(-time.Minute)
	_, err = r.SubmitRequest(ctx, req)
	assert.Equal(t, errs.CodeRequestExpired, errs.CodeOf(err))

	_, err = r.SubmitRequest(ctx, relayReq("tx-3", models.RelayPriorityNormal))
	require.NoError(t, err)
	_, err = r.SubmitRequest(ctx, relayReq("tx-3", models.RelayPriorityNormal))
	assert.Equal(t, errs.CodeRelayerRejected, errs.CodeOf(err))
}

func TestPriorityOrdering(t *testing.T) {
	d := &scriptedDispatcher{}
	r, _ := testRelayer(t, d, 1)
	ctx := context.Background()

	// Enqueue before starting the worker so ordering is decided purely by
	// the queue.
	_, err := r.SubmitRequest(ctx, relayReq("tx-low", models.RelayPriorityLow))
	require.NoError(t, err)
	_, err = r.SubmitRequest(ctx, relayReq("tx-normal", models.RelayPriorityNormal))
	require.NoError(t, err)
	_, err = r.SubmitRequest(ctx, relayReq("tx-urgent", models.RelayPriorityUrgent))
	require.NoError(t, err)
	_, err = r.SubmitRequest(ctx, relayReq("tx-high", models.RelayPriorityHigh))
	require.NoError(t, err)

	r.Start()
	waitForStatus(t, r, "tx-low", models.RelayStatusSubmitted)

	assert.Equal(t, []string{"tx-urgent", "tx-high", "tx-normal", "tx-low"}, d.dispatched())
}

func TestSamePriorityKeepsSubmissionOrder(t *testing.T) {
	d := &scriptedDispatcher{}
	r, _ := testRelayer(t, d, 1)
	ctx := context.Background()

	for _, id := range []string{"tx-a", "tx-b", "tx-c"} {
		_, err := r.SubmitRequest(ctx, relayReq(id, models.RelayPriorityNormal))
		require.NoError(t, err)
	}
	r.Start()
	waitForStatus(t, r, "tx-c", models.RelayStatusSubmitted)

	assert.Equal(t, []string{"tx-a", "tx-b", "tx-c"}, d.dispatched())
}

func TestRetryBackoffSchedule(t *testing.T) {
	rpc := errs.New(errs.KindChain, errs.CodeRPCError, "rpc down")
	d := &scriptedDispatcher{errs: []error{rpc, rpc, rpc, nil}}
	r, delays := testRelayer(t, d, 1)
	r.Start()

	_, err := r.SubmitRequest(context.Background(), relayReq("tx-1", models.RelayPriorityNormal))
	require.NoError(t, err)

	record := waitForStatus(t, r, "tx-1", models.RelayStatusSubmitted)
	assert.Equal(t, 4, record.Attempts)
	assert.Equal(t, []time.Duration{
		1000 * time.Millisecond,
		2000 * time.Millisecond,
		4000 * time.Millisecond,
	}, *delays)
}

func TestRetriesExhausted(t *testing.T) {
	rpc := errs.New(errs.KindChain, errs.CodeRPCError, "rpc down")
	d := &scriptedDispatcher{errs: []error{rpc, rpc, rpc, rpc, rpc}}
	r, delays := testRelayer(t, d, 1)
	r.Start()

	_, err := r.SubmitRequest(context.Background(), relayReq("tx-1", models.RelayPriorityNormal))
	require.NoError(t, err)

	// maxRetries=3: the 4th failed attempt is terminal.
	record := waitForStatus(t, r, "tx-1", models.RelayStatusFailed)
	assert.Equal(t, 4, record.Attempts)
	assert.Len(t, *delays, 3)
	assert.Contains(t, record.LastError, "rpc down")
}

func TestNonRetryableFailsImmediately(t *testing.T) {
	d := &scriptedDispatcher{errs: []error{
		errs.New(errs.KindRelayer, errs.CodeRelayerRejected, "bad proof"),
	}}
	r, delays := testRelayer(t, d, 1)
	r.Start()

	_, err := r.SubmitRequest(context.Background(), relayReq("tx-1", models.RelayPriorityNormal))
	require.NoError(t, err)

	record := waitForStatus(t, r, "tx-1", models.RelayStatusFailed)
	assert.Equal(t, 1, record.Attempts)
	assert.Empty(t, *delays)
}

func TestCancelBeforeDispatch(t *testing.T) {
	r, _ := testRelayer(t, &scriptedDispatcher{}, 1)
	ctx := context.Background()

	// Workers not started: the request sits in the queue.
	_, err := r.SubmitRequest(ctx, relayReq("tx-1", models.RelayPriorityNormal))
	require.NoError(t, err)

	cancelled, err := r.CancelRequest(ctx, "tx-1")
	require.NoError(t, err)
	assert.True(t, cancelled)

	record, err := r.GetStatus(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, models.RelayStatusCancelled, record.Status)

	// Second cancel is a no-op.
	cancelled, err = r.CancelRequest(ctx, "tx-1")
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestCancelAfterDispatchReturnsFalse(t *testing.T) {
	d := &scriptedDispatcher{}
	r, _ := testRelayer(t, d, 1)
	r.Start()
	ctx := context.Background()

	_, err := r.SubmitRequest(ctx, relayReq("tx-1", models.RelayPriorityNormal))
	require.NoError(t, err)
	waitForStatus(t, r, "tx-1", models.RelayStatusSubmitted)

	cancelled, err := r.CancelRequest(ctx, "tx-1")
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestCancelUnknown(t *testing.T) {
	r, _ := testRelayer(t, &scriptedDispatcher{}, 1)
	_, err := r.CancelRequest(context.Background(), "missing")
	assert.Error(t, err)
}

func TestQueuedRequestExpiresBeforeDispatch(t *testing.T) {
	d := &scriptedDispatcher{}
	r, _ := testRelayer(t, d, 1)
	ctx := context.Background()

	req := relayReq("tx-1", models.RelayPriorityNormal)
	req.ExpiresAt = time.Now().Add(50 * time.Millisecond)
	_, err := r.SubmitRequest(ctx, req)
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	r.Start()

	record := waitForStatus(t, r, "tx-1", models.RelayStatusExpired)
	assert.Zero(t, record.Attempts)
	assert.Empty(t, d.dispatched())
}

func TestMarkConfirmed(t *testing.T) {
	d := &scriptedDispatcher{}
	r, _ := testRelayer(t, d, 1)
	r.Start()
	ctx := context.Background()

	_, err := r.SubmitRequest(ctx, relayReq("tx-1", models.RelayPriorityNormal))
	require.NoError(t, err)
	waitForStatus(t, r, "tx-1", models.RelayStatusSubmitted)

	require.NoError(t, r.MarkConfirmed(ctx, "tx-1"))
	record, err := r.GetStatus(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, models.RelayStatusConfirmed, record.Status)

	// Confirming twice fails.
	assert.Error(t, r.MarkConfirmed(ctx, "tx-1"))
}

func TestOnUpdateNotifications(t *testing.T) {
	d := &scriptedDispatcher{}
	r, _ := testRelayer(t, d, 1)

	var mu sync.Mutex
	var statuses []models.RelayStatus
	r.OnUpdate(func(rec *models.RelayRecord) {
		mu.Lock()
		statuses = append(statuses, rec.Status)
		mu.Unlock()
	})
	r.Start()

	_, err := r.SubmitRequest(context.Background(), relayReq("tx-1", models.RelayPriorityNormal))
	require.NoError(t, err)
	waitForStatus(t, r, "tx-1", models.RelayStatusSubmitted)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []models.RelayStatus{
		models.RelayStatusQueued,
		models.RelayStatusDispatched,
		models.RelayStatusSubmitted,
	}, statuses)
}

func TestGetEstimatedTimePriorityScaling(t *testing.T) {
	r, _ := testRelayer(t, &scriptedDispatcher{}, 1)
	ctx := context.Background()

	// Queue a few requests so the penalty term is non-zero.
	for _, id := range []string{"a", "b", "c"} {
		_, err := r.SubmitRequest(ctx, relayReq(id, models.RelayPriorityNormal))
		require.NoError(t, err)
	}

	urgent, err := r.GetEstimatedTime("ethereum", "solana", models.RelayPriorityUrgent)
	require.NoError(t, err)
	low, err := r.GetEstimatedTime("ethereum", "solana", models.RelayPriorityLow)
	require.NoError(t, err)
	assert.Less(t, urgent, low)

	_, err = r.GetEstimatedTime("unknown", "solana", models.RelayPriorityNormal)
	assert.Error(t, err)
}

func TestGetHealth(t *testing.T) {
	rpc := errs.New(errs.KindChain, errs.CodeRPCError, "rpc down")
	d := &scriptedDispatcher{errs: []error{nil, rpc, rpc, rpc, rpc}}
	r, _ := testRelayer(t, d, 1)
	r.Start()
	ctx := context.Background()

	_, err := r.SubmitRequest(ctx, relayReq("tx-ok", models.RelayPriorityNormal))
	require.NoError(t, err)
	waitForStatus(t, r, "tx-ok", models.RelayStatusSubmitted)

	_, err = r.SubmitRequest(ctx, relayReq("tx-bad", models.RelayPriorityNormal))
	require.NoError(t, err)
	waitForStatus(t, r, "tx-bad", models.RelayStatusFailed)

	health := r.GetHealth(ctx)
	assert.Equal(t, 0, health.PendingCount)
	assert.InDelta(t, 0.5, health.FailureRate24h, 0.001)
	// Half the 24h outcomes failed, which crosses the unhealthy threshold.
	assert.False(t, health.Healthy)
}

type fakeRelayRepo struct {
	mu          sync.Mutex
	records     map[string]*models.RelayRecord
	failureRate float64
}

func newFakeRelayRepo() *fakeRelayRepo {
	return &fakeRelayRepo{records: make(map[string]*models.RelayRecord)}
}

func (f *fakeRelayRepo) Create(ctx context.Context, record *models.RelayRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[record.TransactionID] = record
	return nil
}

func (f *fakeRelayRepo) Update(ctx context.Context, record *models.RelayRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[record.TransactionID] = record
	return nil
}

func (f *fakeRelayRepo) GetByTransactionID(ctx context.Context, transactionID string) (*models.RelayRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[transactionID]
	if !ok {
		return nil, errs.Newf(errs.KindRelayer, errs.CodeRelayerRejected, "no record for %s", transactionID)
	}
	return record, nil
}

func (f *fakeRelayRepo) FailureRateSince(ctx context.Context, since time.Time) (float64, error) {
	return f.failureRate, nil
}

func TestGetStatusFallsBackToPersistence(t *testing.T) {
	r, _ := testRelayer(t, &scriptedDispatcher{}, 0)
	repo := newFakeRelayRepo()
	repo.records["tx-old"] = &models.RelayRecord{
		TransactionID: "tx-old",
		Status:        models.RelayStatusConfirmed,
		DestTxHash:    "0xold",
	}
	r.repo = repo

	// Not in memory: a relay from before the last restart.
	record, err := r.GetStatus(context.Background(), "tx-old")
	require.NoError(t, err)
	assert.Equal(t, models.RelayStatusConfirmed, record.Status)
	assert.Equal(t, "0xold", record.DestTxHash)

	_, err = r.GetStatus(context.Background(), "tx-missing")
	assert.Equal(t, errs.CodeRelayerRejected, errs.CodeOf(err))
}

func TestHealthUsesPersistedFailureRate(t *testing.T) {
	r, _ := testRelayer(t, &scriptedDispatcher{}, 0)
	repo := newFakeRelayRepo()
	repo.failureRate = 0.75
	r.repo = repo

	health := r.GetHealth(context.Background())
	assert.Equal(t, 0.75, health.FailureRate24h)
	assert.False(t, health.Healthy)
}
