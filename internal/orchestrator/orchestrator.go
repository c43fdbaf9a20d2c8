package orchestrator

import (
	"context"
	"math/big"
	"sync"
	"time"

	"go-bridge/internal/accumulator"
	"go-bridge/internal/clients"
	"go-bridge/internal/config"
	"go-bridge/internal/errs"
	"go-bridge/internal/events"
	"go-bridge/internal/lockbox"
	"go-bridge/internal/metrics"
	"go-bridge/internal/models"
	"go-bridge/internal/registry"
	"go-bridge/internal/relayer"
	"go-bridge/internal/repository"
	"go-bridge/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// LockboxProvider resolves the per-chain custody services.
type LockboxProvider interface {
	Get(chainID string) (*lockbox.Lockbox, error)
	All() []*lockbox.Lockbox
}

// RelayService is the slice of the relayer the orchestrator drives.
type RelayService interface {
	SubmitRequest(ctx context.Context, req *models.RelayRequest) (*relayer.SubmitResult, error)
	GetEstimatedTime(source, dest string, priority models.RelayPriority) (time.Duration, error)
	MarkConfirmed(ctx context.Context, transactionID string) error
}

// ProofChecker validates a relayed proof before funds move.
type ProofChecker interface {
	Verify(ctx context.Context, proof *models.BridgeProof) error
}

// ProofGenerator produces transfer proofs. Satisfied by clients.ProverClient.
type ProofGenerator interface {
	Prove(ctx context.Context, req *clients.ProveRequest) (*clients.ProveResponse, error)
}

// QuoteRequest describes the route to price.
type QuoteRequest struct {
	SourceChainID string `json:"source_chain_id"`
	DestChainID   string `json:"dest_chain_id"`
	TokenSymbol   string `json:"token_symbol"`
	Amount        string `json:"amount"`
}

// BridgeRequest starts a transfer.
type BridgeRequest struct {
	SourceChainID string               `json:"source_chain_id"`
	DestChainID   string               `json:"dest_chain_id"`
	TokenSymbol   string               `json:"token_symbol"`
	Amount        string               `json:"amount"`
	Sender        string               `json:"sender"`
	Recipient     string               `json:"recipient"`
	Priority      models.RelayPriority `json:"priority"`
	LockDuration  time.Duration        `json:"lock_duration"`
}

// TransactionFilter narrows GetTransactions results. Zero values match all.
type TransactionFilter struct {
	Sender string
	Status models.TransactionStatus
}

// Orchestrator coordinates the full transfer lifecycle: quoting, locking,
// proof generation, relay submission, destination release, and refunds.
type Orchestrator struct {
	cfg       *config.Config
	registry  *registry.ChainRegistry
	lockboxes LockboxProvider
	relay     RelayService
	checker   ProofChecker
	prover    ProofGenerator
	acc       *accumulator.Accumulator
	repo      repository.TransactionRepository // optional
	bus       *events.Bus
	logger    *logrus.Logger

	mu        sync.RWMutex
	txs       map[string]*models.BridgeTransaction
	secrets   map[string]*accumulator.Secret // transaction id -> transfer secret
	byDeposit map[string]string              // deposit id -> transaction id

	pollInterval  time.Duration
	sweepInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup

	now func() time.Time
}

// New creates an orchestrator. Call Start to launch the lifecycle workers.
func New(cfg *config.Config, reg *registry.ChainRegistry, lockboxes LockboxProvider,
	relay RelayService, checker ProofChecker, prover ProofGenerator,
	acc *accumulator.Accumulator, repo repository.TransactionRepository,
	bus *events.Bus, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if bus == nil {
		bus = events.NewBus(logger)
	}
	return &Orchestrator{
		cfg:           cfg,
		registry:      reg,
		lockboxes:     lockboxes,
		relay:         relay,
		checker:       checker,
		prover:        prover,
		acc:           acc,
		repo:          repo,
		bus:           bus,
		logger:        logger,
		txs:           make(map[string]*models.BridgeTransaction),
		secrets:       make(map[string]*accumulator.Secret),
		byDeposit:     make(map[string]string),
		pollInterval:  5 * time.Second,
		sweepInterval: 30 * time.Second,
		stop:          make(chan struct{}),
		now:           time.Now,
	}
}

// Subscribe registers a lifecycle event listener; the returned function
// unsubscribes it.
func (o *Orchestrator) Subscribe(l events.Listener) func() {
	return o.bus.Subscribe(l)
}

// GetQuote prices a route. All fee arithmetic is integer basis points; no
// floating point touches amounts.
func (o *Orchestrator) GetQuote(req *QuoteRequest) (*models.BridgeQuote, error) {
	if err := o.validateRoute(req.SourceChainID, req.DestChainID, req.TokenSymbol); err != nil {
		return nil, err
	}
	amount, err := utils.ParseAmount(req.Amount)
	if err != nil {
		return nil, errs.Wrap(errs.KindAmount, errs.CodeAmountTooLow, "invalid amount", err)
	}

	bridgeFee := utils.ApplyBps(amount, o.cfg.Bridge.BaseFeeBps)
	relayerFee := utils.ApplyBps(amount, o.cfg.Bridge.RelayerFeeBps)
	destAmount := new(big.Int).Sub(amount, bridgeFee)
	destAmount.Sub(destAmount, relayerFee)
	if destAmount.Sign() <= 0 {
		return nil, errs.Newf(errs.KindAmount, errs.CodeAmountTooLow,
			"amount %s does not cover fees", req.Amount)
	}

	var etaSeconds int64
	if eta, err := o.relay.GetEstimatedTime(req.SourceChainID, req.DestChainID, models.RelayPriorityNormal); err == nil {
		etaSeconds = int64(eta / time.Second)
	}

	return &models.BridgeQuote{
		QuoteID:       uuid.New().String(),
		SourceChainID: req.SourceChainID,
		DestChainID:   req.DestChainID,
		TokenSymbol:   req.TokenSymbol,
		Amount:        amount.String(),
		DestAmount:    destAmount.String(),
		BridgeFee:     bridgeFee.String(),
		RelayerFee:    relayerFee.String(),
		EstimatedTime: etaSeconds,
		ExpiresAt:     o.now().Add(o.cfg.QuoteTTL()),
	}, nil
}

// Bridge opens a transfer: derives a fresh commitment, locks funds on the
// source chain, and records the transaction. A lock failure leaves no
// record behind.
func (o *Orchestrator) Bridge(ctx context.Context, req *BridgeRequest) (*models.BridgeTransaction, error) {
	if err := o.validateRoute(req.SourceChainID, req.DestChainID, req.TokenSymbol); err != nil {
		return nil, err
	}
	amount, err := utils.ParseAmount(req.Amount)
	if err != nil {
		return nil, errs.Wrap(errs.KindAmount, errs.CodeAmountTooLow, "invalid amount", err)
	}
	bridgeFee := utils.ApplyBps(amount, o.cfg.Bridge.BaseFeeBps)
	relayerFee := utils.ApplyBps(amount, o.cfg.Bridge.RelayerFeeBps)
	destAmount := new(big.Int).Sub(amount, bridgeFee)
	destAmount.Sub(destAmount, relayerFee)
	if destAmount.Sign() <= 0 {
		return nil, errs.Newf(errs.KindAmount, errs.CodeAmountTooLow,
			"amount %s does not cover fees", req.Amount)
	}
	if !req.Priority.Valid() {
		req.Priority = models.RelayPriorityNormal
	}
	lockDuration := req.LockDuration
	if lockDuration <= 0 {
		lockDuration = time.Duration(o.cfg.Bridge.MinLockSeconds) * time.Second
	}

	srcLockbox, err := o.lockboxes.Get(req.SourceChainID)
	if err != nil {
		return nil, err
	}

	secret, err := accumulator.NewSecret()
	if err != nil {
		return nil, errs.Wrap(errs.KindProof, errs.CodeProofGeneration, "failed to derive transfer secret", err)
	}
	commitment := accumulator.DeriveCommitment(amount, secret)

	deposit, err := srcLockbox.Lock(ctx, &lockbox.LockRequest{
		TokenSymbol:  req.TokenSymbol,
		Amount:       amount.String(),
		Sender:       req.Sender,
		DestChainID:  req.DestChainID,
		Recipient:    req.Recipient,
		Commitment:   commitment,
		LockDuration: lockDuration,
	})
	if err != nil {
		return nil, err
	}

	now := o.now()
	tx := &models.BridgeTransaction{
		ID:            uuid.New().String(),
		SourceChainID: req.SourceChainID,
		DestChainID:   req.DestChainID,
		TokenSymbol:   req.TokenSymbol,
		Amount:        amount.String(),
		DestAmount:    destAmount.String(),
		Sender:        req.Sender,
		Recipient:     req.Recipient,
		Status:        models.TxStatusSourceConfirming,
		Priority:      req.Priority,
		Commitment:    commitment,
		DepositID:     deposit.ID,
		SourceTxHash:  deposit.LockTxHash,
		BridgeFee:     bridgeFee.String(),
		RelayerFee:    relayerFee.String(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	o.mu.Lock()
	o.txs[tx.ID] = tx
	o.secrets[tx.ID] = secret
	o.byDeposit[deposit.ID] = tx.ID
	snapshot := cloneTx(tx)
	o.mu.Unlock()

	o.persist(ctx, snapshot, true)
	metrics.TransactionTransitions.WithLabelValues(string(models.TxStatusSourceConfirming)).Inc()
	o.publishTx(snapshot)
	o.logger.WithFields(logrus.Fields{
		"transaction": tx.ID,
		"route":       req.SourceChainID + "->" + req.DestChainID,
		"token":       req.TokenSymbol,
		"amount":      tx.Amount,
	}).Info("Bridge transfer opened")

	return snapshot, nil
}

// GetTransaction returns one transaction by id.
func (o *Orchestrator) GetTransaction(id string) (*models.BridgeTransaction, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	tx, ok := o.txs[id]
	if !ok {
		return nil, errs.Newf(errs.KindTransaction, errs.CodeInvalidState,
			"transaction not found: %s", id)
	}
	return cloneTx(tx), nil
}

// GetTransactions returns transactions matching the filter, unordered.
func (o *Orchestrator) GetTransactions(filter TransactionFilter) []*models.BridgeTransaction {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []*models.BridgeTransaction
	for _, tx := range o.txs {
		if filter.Sender != "" && tx.Sender != filter.Sender {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		out = append(out, cloneTx(tx))
	}
	return out
}

// Restore reloads non-terminal transactions from persistence at startup so
// the lifecycle workers resume driving them. Transfer secrets are not
// persisted, so a restored transaction that never generated its proof is
// refunded by the sweep instead of relayed. No-op without a repository.
func (o *Orchestrator) Restore(ctx context.Context) error {
	if o.repo == nil {
		return nil
	}
	active, err := o.repo.FindActive(ctx)
	if err != nil {
		return errs.Wrap(errs.KindTransaction, errs.CodeInvalidState,
			"failed to restore transactions", err)
	}
	o.mu.Lock()
	for _, tx := range active {
		o.txs[tx.ID] = tx
		if tx.DepositID != "" {
			o.byDeposit[tx.DepositID] = tx.ID
		}
	}
	count := len(o.txs)
	o.mu.Unlock()
	o.logger.WithFields(logrus.Fields{"transactions": count}).Info("Restored transaction state")
	return nil
}

// GetTVL aggregates value in custody across all lockboxes, per token.
func (o *Orchestrator) GetTVL() map[string]string {
	totals := make(map[string]*big.Int)
	for _, lb := range o.lockboxes.All() {
		for symbol, amount := range lb.GetTVL() {
			if existing, ok := totals[symbol]; ok {
				existing.Add(existing, amount)
			} else {
				totals[symbol] = new(big.Int).Set(amount)
			}
		}
	}
	out := make(map[string]string, len(totals))
	for symbol, amount := range totals {
		out[symbol] = amount.String()
	}
	return out
}

func (o *Orchestrator) validateRoute(source, dest, token string) error {
	if !o.registry.IsSupported(source) {
		return errs.Newf(errs.KindChain, errs.CodeUnsupportedChain, "unsupported source chain %s", source)
	}
	if !o.registry.IsSupported(dest) {
		return errs.Newf(errs.KindChain, errs.CodeUnsupportedChain, "unsupported destination chain %s", dest)
	}
	if source == dest {
		return errs.New(errs.KindChain, errs.CodeInvalidChain, "source and destination chains must differ")
	}
	if _, err := o.cfg.GetToken(token); err != nil {
		return errs.Newf(errs.KindConfiguration, errs.CodeInvalidConfig, "unknown token %s", token)
	}
	return nil
}

// transition moves a transaction to the next state if legal and announces
// the change. Returns false when the transition is not permitted.
func (o *Orchestrator) transition(ctx context.Context, txID string, next models.TransactionStatus, reason string) bool {
	o.mu.Lock()
	tx, ok := o.txs[txID]
	if !ok || !tx.Status.CanTransition(next) {
		o.mu.Unlock()
		return false
	}
	prev := tx.Status
	tx.Status = next
	tx.UpdatedAt = o.now()
	if reason != "" {
		tx.FailureReason = reason
	}
	if next == models.TxStatusCompleted {
		completed := tx.UpdatedAt
		tx.CompletedAt = &completed
		metrics.TransactionDuration.Observe(completed.Sub(tx.CreatedAt).Seconds())
	}
	if next.IsTerminal() {
		delete(o.secrets, txID)
	}
	snapshot := cloneTx(tx)
	o.mu.Unlock()

	o.persist(ctx, snapshot, false)
	metrics.TransactionTransitions.WithLabelValues(string(next)).Inc()
	o.publishTx(snapshot)
	o.logger.WithFields(logrus.Fields{
		"transaction": txID,
		"from":        prev,
		"to":          next,
	}).Info("Transaction transition")
	return true
}

func (o *Orchestrator) publishTx(tx *models.BridgeTransaction) {
	o.bus.Publish(events.Event{
		Type:    events.TypeTransactionUpdate,
		ChainID: tx.SourceChainID,
		Payload: tx,
	})
}

func (o *Orchestrator) persist(ctx context.Context, tx *models.BridgeTransaction, create bool) {
	if o.repo == nil {
		return
	}
	var err error
	if create {
		err = o.repo.Create(ctx, tx)
	} else {
		err = o.repo.Update(ctx, tx)
	}
	if err != nil {
		o.logger.WithFields(logrus.Fields{"transaction": tx.ID, "error": err}).
			Warn("Failed to persist transaction")
	}
}

func cloneTx(tx *models.BridgeTransaction) *models.BridgeTransaction {
	clone := *tx
	if tx.CompletedAt != nil {
		completed := *tx.CompletedAt
		clone.CompletedAt = &completed
	}
	return &clone
}
