package lockbox

import (
	"context"
	"math/big"
	"sync"
	"time"

	"go-bridge/internal/accumulator"
	"go-bridge/internal/errs"
	"go-bridge/internal/metrics"
	"go-bridge/internal/models"
	"go-bridge/internal/registry"
	"go-bridge/internal/repository"
	"go-bridge/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// TokenLimits bounds the lockable amount for one token on this chain.
type TokenLimits struct {
	Min      *big.Int
	Max      *big.Int
	Address  string // token address on this chain
	Decimals int
}

// Bounds holds the chain-wide lock duration window.
type Bounds struct {
	MinLockDuration time.Duration
	MaxLockDuration time.Duration
}

// LockRequest asks the lockbox to take custody of funds under a commitment.
type LockRequest struct {
	TokenSymbol  string
	Amount       string // decimal string, smallest unit
	Sender       string
	DestChainID  string
	Recipient    string
	Commitment   string
	LockDuration time.Duration
}

// UnlockRequest releases custody to the recipient after proof verification.
type UnlockRequest struct {
	Commitment string
	Nullifier  string
	Proof      *models.BridgeProof
	Recipient  string
	SpentBlock uint64
}

// RefundRequest returns expired custody to the sender.
type RefundRequest struct {
	DepositID string
}

// Lockbox custodies funds on one chain between lock and release/refund. The
// in-memory deposit table is authoritative; the repository mirrors it as the
// audit record. Deposits are never deleted.
type Lockbox struct {
	chain    *registry.ChainInfo
	executor ChainExecutor
	acc      *accumulator.Accumulator
	repo     repository.DepositRepository // optional
	bounds   Bounds
	tokens   map[string]TokenLimits
	logger   *logrus.Logger

	mu           sync.RWMutex
	deposits     map[string]*models.LockedDeposit // by deposit id
	byCommitment map[string]string                // commitment -> deposit id

	now func() time.Time
}

// New creates a lockbox for one chain.
func New(chain *registry.ChainInfo, executor ChainExecutor, acc *accumulator.Accumulator,
	repo repository.DepositRepository, bounds Bounds, tokens map[string]TokenLimits,
	logger *logrus.Logger) *Lockbox {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Lockbox{
		chain:        chain,
		executor:     executor,
		acc:          acc,
		repo:         repo,
		bounds:       bounds,
		tokens:       tokens,
		logger:       logger,
		deposits:     make(map[string]*models.LockedDeposit),
		byCommitment: make(map[string]string),
		now:          time.Now,
	}
}

// ChainID returns the chain this lockbox custodies funds on.
func (l *Lockbox) ChainID() string { return l.chain.ID }

// Restore reloads live custody from the repository after a restart. Only
// pending and confirmed deposits come back; terminal rows stay as audit
// history.
func (l *Lockbox) Restore(ctx context.Context) error {
	if l.repo == nil {
		return nil
	}
	statuses := []models.DepositStatus{models.DepositStatusPending, models.DepositStatusConfirmed}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, status := range statuses {
		deposits, err := l.repo.FindByStatus(ctx, l.chain.ID, status)
		if err != nil {
			return errs.Wrap(errs.KindLockbox, errs.CodeInvalidState,
				"failed to restore deposits for chain "+l.chain.ID, err)
		}
		for _, deposit := range deposits {
			l.deposits[deposit.ID] = deposit
			l.byCommitment[deposit.Commitment] = deposit.ID
		}
	}
	l.logger.WithFields(logrus.Fields{
		"chain":    l.chain.ID,
		"deposits": len(l.deposits),
	}).Info("Restored custody state")
	return nil
}

// trackValue moves the locked-value gauge by ±amount.
func (l *Lockbox) trackValue(token string, amount *big.Int, sign float64) {
	f, _ := new(big.Float).SetInt(amount).Float64()
	metrics.LockedValue.WithLabelValues(l.chain.ID, token).Add(sign * f)
}

// validateAmount checks the token's lockable range. Shared by all executor
// variants.
func validateAmount(amount *big.Int, limits TokenLimits) error {
	if limits.Min != nil && amount.Cmp(limits.Min) < 0 {
		return errs.Newf(errs.KindAmount, errs.CodeAmountTooLow,
			"amount %s below minimum %s", amount, limits.Min)
	}
	if limits.Max != nil && amount.Cmp(limits.Max) > 0 {
		return errs.Newf(errs.KindAmount, errs.CodeAmountTooHigh,
			"amount %s above maximum %s", amount, limits.Max)
	}
	return nil
}

// validateDuration checks the chain-wide lock duration window.
func validateDuration(d time.Duration, bounds Bounds) error {
	if d < bounds.MinLockDuration || d > bounds.MaxLockDuration {
		return errs.Newf(errs.KindLockbox, errs.CodeInvalidDuration,
			"lock duration %s outside [%s, %s]", d, bounds.MinLockDuration, bounds.MaxLockDuration)
	}
	return nil
}

// Lock validates the request, submits the custody transaction, and records
// the deposit in state pending. If the chain submission fails nothing is
// recorded.
func (l *Lockbox) Lock(ctx context.Context, req *LockRequest) (*models.LockedDeposit, error) {
	limits, ok := l.tokens[req.TokenSymbol]
	if !ok {
		return nil, errs.Newf(errs.KindConfiguration, errs.CodeInvalidConfig,
			"token %s not configured on chain %s", req.TokenSymbol, l.chain.ID)
	}
	amount, err := utils.ParseAmount(req.Amount)
	if err != nil {
		return nil, errs.Wrap(errs.KindAmount, errs.CodeAmountTooLow, "invalid amount", err)
	}
	if err := validateAmount(amount, limits); err != nil {
		return nil, err
	}
	if err := validateDuration(req.LockDuration, l.bounds); err != nil {
		return nil, err
	}
	if req.Commitment == "" {
		return nil, errs.New(errs.KindLockbox, errs.CodeInvalidCommitment, "missing commitment")
	}

	l.mu.RLock()
	_, exists := l.byCommitment[req.Commitment]
	l.mu.RUnlock()
	if exists {
		return nil, errs.Newf(errs.KindLockbox, errs.CodeInvalidCommitment,
			"commitment already locked: %s", req.Commitment)
	}

	txHash, err := l.executor.Lock(ctx, &LockCall{
		TokenAddress: limits.Address,
		Amount:       amount,
		Commitment:   req.Commitment,
		DurationSecs: int64(req.LockDuration / time.Second),
	})
	if err != nil {
		return nil, err
	}

	now := l.now()
	deposit := &models.LockedDeposit{
		ID:          uuid.New().String(),
		ChainID:     l.chain.ID,
		TokenSymbol: req.TokenSymbol,
		Amount:      amount.String(),
		Sender:      req.Sender,
		DestChainID: req.DestChainID,
		Recipient:   req.Recipient,
		Commitment:  req.Commitment,
		Status:      models.DepositStatusPending,
		LockTxHash:  txHash,
		LockedAt:    now,
		ExpiresAt:   now.Add(req.LockDuration),
		UpdatedAt:   now,
	}

	l.mu.Lock()
	l.deposits[deposit.ID] = deposit
	l.byCommitment[deposit.Commitment] = deposit.ID
	l.mu.Unlock()

	l.persist(ctx, deposit, true)
	metrics.DepositsLocked.WithLabelValues(l.chain.ID, req.TokenSymbol).Inc()
	l.trackValue(req.TokenSymbol, amount, 1)
	l.logger.WithFields(logrus.Fields{
		"deposit":    deposit.ID,
		"chain":      l.chain.ID,
		"token":      req.TokenSymbol,
		"amount":     deposit.Amount,
		"commitment": deposit.Commitment,
		"expires_at": deposit.ExpiresAt,
	}).Info("Deposit locked")

	return cloneDeposit(deposit), nil
}

// MarkConfirmed advances a pending deposit to confirmed once the lock
// transaction reached the chain's confirmation threshold.
func (l *Lockbox) MarkConfirmed(ctx context.Context, depositID string) error {
	l.mu.Lock()
	deposit, ok := l.deposits[depositID]
	if !ok {
		l.mu.Unlock()
		return errs.Newf(errs.KindLockbox, errs.CodeDepositNotFound, "deposit not found: %s", depositID)
	}
	if deposit.Status != models.DepositStatusPending {
		l.mu.Unlock()
		return errs.Newf(errs.KindLockbox, errs.CodeInvalidState,
			"deposit %s is %s, expected pending", depositID, deposit.Status)
	}
	deposit.Status = models.DepositStatusConfirmed
	deposit.UpdatedAt = l.now()
	snapshot := cloneDeposit(deposit)
	l.mu.Unlock()

	l.persist(ctx, snapshot, false)
	return nil
}

// Unlock releases a confirmed deposit to the recipient. The nullifier
// insert is the atomic guard: of two concurrent unlocks with the same
// nullifier exactly one passes, so funds cannot be double-released even
// under replay.
//
// Verification must already have succeeded; the orchestrator runs the
// Verifier before calling Unlock.
func (l *Lockbox) Unlock(ctx context.Context, req *UnlockRequest) (*models.LockedDeposit, error) {
	l.mu.RLock()
	depositID, ok := l.byCommitment[req.Commitment]
	var deposit *models.LockedDeposit
	if ok {
		deposit = l.deposits[depositID]
	}
	l.mu.RUnlock()

	if deposit == nil {
		return nil, errs.Newf(errs.KindLockbox, errs.CodeDepositNotFound,
			"no deposit for commitment %s", req.Commitment)
	}
	if deposit.Status != models.DepositStatusConfirmed {
		return nil, errs.Newf(errs.KindLockbox, errs.CodeInvalidState,
			"deposit %s is %s, expected confirmed", deposit.ID, deposit.Status)
	}

	// Reserve the nullifier before touching the chain. This is the
	// at-most-once guarantee: a second unlock with the same nullifier
	// fails here, before any funds move.
	if err := l.acc.AddNullifier(ctx, req.Nullifier, &models.NullifierRecord{
		ChainID:    l.chain.ID,
		SpentBlock: req.SpentBlock,
		SpentAt:    l.now(),
	}); err != nil {
		return nil, err
	}

	txHash, err := l.executor.Unlock(ctx, &UnlockCall{
		Nullifier: req.Nullifier,
		Proof:     req.Proof,
		Recipient: req.Recipient,
	})
	if err != nil {
		// The nullifier stays reserved; the deposit remains confirmed and
		// refundable once expired. Refund is the recovery path.
		l.logger.WithFields(logrus.Fields{
			"deposit":   deposit.ID,
			"nullifier": req.Nullifier,
			"error":     err,
		}).Error("Unlock chain submission failed after nullifier reservation")
		return nil, err
	}

	l.mu.Lock()
	deposit.Status = models.DepositStatusReleased
	deposit.Nullifier = req.Nullifier
	deposit.ReleaseTxHash = txHash
	deposit.UpdatedAt = l.now()
	snapshot := cloneDeposit(deposit)
	l.mu.Unlock()

	l.persist(ctx, snapshot, false)
	metrics.DepositsReleased.WithLabelValues(l.chain.ID, snapshot.TokenSymbol).Inc()
	if amt, perr := utils.ParseAmount(snapshot.Amount); perr == nil {
		l.trackValue(snapshot.TokenSymbol, amt, -1)
	}
	l.logger.WithFields(logrus.Fields{
		"deposit":   deposit.ID,
		"nullifier": req.Nullifier,
		"tx":        txHash,
	}).Info("Deposit released")

	return snapshot, nil
}

// Refund returns an expired deposit to its sender. Permitted only after
// expiresAt and only while the deposit was never released.
func (l *Lockbox) Refund(ctx context.Context, req *RefundRequest) (*models.LockedDeposit, error) {
	l.mu.Lock()
	deposit, ok := l.deposits[req.DepositID]
	if !ok {
		l.mu.Unlock()
		return nil, errs.Newf(errs.KindLockbox, errs.CodeDepositNotFound,
			"deposit not found: %s", req.DepositID)
	}
	now := l.now()
	if deposit.Status != models.DepositStatusPending && deposit.Status != models.DepositStatusConfirmed {
		l.mu.Unlock()
		return nil, errs.Newf(errs.KindLockbox, errs.CodeInvalidState,
			"deposit %s is %s, not refundable", deposit.ID, deposit.Status)
	}
	if !now.After(deposit.ExpiresAt) {
		l.mu.Unlock()
		return nil, errs.Newf(errs.KindLockbox, errs.CodeNotYetExpired,
			"deposit %s expires at %s", deposit.ID, deposit.ExpiresAt)
	}
	// Hold the write lock across the status flip so a concurrent second
	// refund observes a terminal state, not a second payout.
	deposit.Status = models.DepositStatusRefunded
	deposit.UpdatedAt = now
	l.mu.Unlock()

	txHash, err := l.executor.Refund(ctx, deposit.ID)
	if err != nil {
		// Roll back so the sweeper can try again later.
		l.mu.Lock()
		deposit.Status = models.DepositStatusConfirmed
		deposit.UpdatedAt = l.now()
		l.mu.Unlock()
		return nil, err
	}

	l.mu.Lock()
	deposit.RefundTxHash = txHash
	snapshot := cloneDeposit(deposit)
	l.mu.Unlock()

	l.persist(ctx, snapshot, false)
	metrics.DepositsRefunded.WithLabelValues(l.chain.ID, snapshot.TokenSymbol).Inc()
	if amt, perr := utils.ParseAmount(snapshot.Amount); perr == nil {
		l.trackValue(snapshot.TokenSymbol, amt, -1)
	}
	l.logger.WithFields(logrus.Fields{"deposit": deposit.ID, "tx": txHash}).Info("Deposit refunded")

	return snapshot, nil
}

// GetDeposit returns a deposit by id.
func (l *Lockbox) GetDeposit(id string) (*models.LockedDeposit, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	deposit, ok := l.deposits[id]
	if !ok {
		return nil, errs.Newf(errs.KindLockbox, errs.CodeDepositNotFound, "deposit not found: %s", id)
	}
	return cloneDeposit(deposit), nil
}

// GetDepositByCommitment returns the deposit locked under a commitment.
func (l *Lockbox) GetDepositByCommitment(commitment string) (*models.LockedDeposit, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	id, ok := l.byCommitment[commitment]
	if !ok {
		return nil, errs.Newf(errs.KindLockbox, errs.CodeDepositNotFound,
			"no deposit for commitment %s", commitment)
	}
	return cloneDeposit(l.deposits[id]), nil
}

// GetDepositsBySender returns all deposits from one sender, newest first.
func (l *Lockbox) GetDepositsBySender(sender string) []*models.LockedDeposit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*models.LockedDeposit
	for _, d := range l.deposits {
		if d.Sender == sender {
			out = append(out, cloneDeposit(d))
		}
	}
	return out
}

// FindRefundable returns pending/confirmed deposits past expiry.
func (l *Lockbox) FindRefundable() []*models.LockedDeposit {
	now := l.now()
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*models.LockedDeposit
	for _, d := range l.deposits {
		if d.Refundable(now) {
			out = append(out, cloneDeposit(d))
		}
	}
	return out
}

// FindPending returns deposits still awaiting confirmation.
func (l *Lockbox) FindPending() []*models.LockedDeposit {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*models.LockedDeposit
	for _, d := range l.deposits {
		if d.Status == models.DepositStatusPending {
			out = append(out, cloneDeposit(d))
		}
	}
	return out
}

// IsNullifierSpent is a pure membership check against the accumulator.
func (l *Lockbox) IsNullifierSpent(nullifier string) bool {
	return l.acc.HasNullifier(nullifier)
}

// GetTVL sums the value still in custody (pending + confirmed) per token.
func (l *Lockbox) GetTVL() map[string]*big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	tvl := make(map[string]*big.Int)
	for _, d := range l.deposits {
		if d.Status != models.DepositStatusPending && d.Status != models.DepositStatusConfirmed {
			continue
		}
		amount, err := utils.ParseAmount(d.Amount)
		if err != nil {
			continue
		}
		if existing, ok := tvl[d.TokenSymbol]; ok {
			existing.Add(existing, amount)
		} else {
			tvl[d.TokenSymbol] = amount
		}
	}
	return tvl
}

// Executor exposes the chain capability for confirmation polling.
func (l *Lockbox) Executor() ChainExecutor { return l.executor }

func (l *Lockbox) persist(ctx context.Context, deposit *models.LockedDeposit, create bool) {
	if l.repo == nil {
		return
	}
	var err error
	if create {
		err = l.repo.Create(ctx, deposit)
	} else {
		err = l.repo.Update(ctx, deposit)
	}
	if err != nil {
		l.logger.WithFields(logrus.Fields{"deposit": deposit.ID, "error": err}).
			Warn("Failed to persist deposit record")
	}
}

func cloneDeposit(d *models.LockedDeposit) *models.LockedDeposit {
	clone := *d
	return &clone
}
