package relayer

import (
	"context"
	"sync"
	"time"

	"go-bridge/internal/errs"
	"go-bridge/internal/metrics"
	"go-bridge/internal/models"
	"go-bridge/internal/registry"
	"go-bridge/internal/repository"

	"github.com/sirupsen/logrus"
)

// Dispatcher carries one relay request to its destination chain and returns
// the destination transaction hash.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *models.RelayRequest) (string, error)
}

// DispatchFunc adapts a function to the Dispatcher interface.
type DispatchFunc func(ctx context.Context, req *models.RelayRequest) (string, error)

func (f DispatchFunc) Dispatch(ctx context.Context, req *models.RelayRequest) (string, error) {
	return f(ctx, req)
}

// StatsProvider supplies per-chain lag and fee levels for health reports.
type StatsProvider interface {
	ChainLag(ctx context.Context) map[string]uint64
	FeeLevels(ctx context.Context) map[string]string
}

// SubmitResult acknowledges an accepted relay request.
type SubmitResult struct {
	TransactionID string        `json:"transaction_id"`
	QueuePosition int           `json:"queue_position"`
	EstimatedTime time.Duration `json:"estimated_time"`
}

type outcome struct {
	at time.Time
	ok bool
}

// Relayer queues relay requests by priority and dispatches them through a
// bounded worker pool with exponential-backoff retries. A backoff delay
// holds back only its own request; the queue keeps draining.
type Relayer struct {
	registry   *registry.ChainRegistry
	dispatcher Dispatcher
	policy     RetryPolicy
	workers    int
	repo       repository.RelayRepository // optional
	stats      StatsProvider              // optional
	logger     *logrus.Logger

	mu       sync.Mutex
	queue    *taskQueue
	tasks    map[string]*task
	seq      uint64
	outcomes []outcome
	onUpdate func(*models.RelayRecord)

	startedAt time.Time
	wake      chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	now       func() time.Time
	afterFunc func(time.Duration, func()) // schedules a retry re-enqueue
}

// New creates a relayer. Call Start to launch the workers.
func New(reg *registry.ChainRegistry, dispatcher Dispatcher, policy RetryPolicy,
	workers int, repo repository.RelayRepository, stats StatsProvider,
	logger *logrus.Logger) *Relayer {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Relayer{
		registry:   reg,
		dispatcher: dispatcher,
		policy:     policy,
		workers:    workers,
		repo:       repo,
		stats:      stats,
		logger:     logger,
		queue:      newTaskQueue(),
		tasks:      make(map[string]*task),
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		now:        time.Now,
		afterFunc:  func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

// OnUpdate registers a single listener notified on every record change.
// Must be called before Start.
func (r *Relayer) OnUpdate(fn func(*models.RelayRecord)) { r.onUpdate = fn }

// Start launches the dispatch workers.
func (r *Relayer) Start() {
	r.startedAt = r.now()
	for i := 0; i < r.workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}
	r.logger.WithFields(logrus.Fields{"workers": r.workers}).Info("Relayer started")
}

// Stop halts the workers. In-flight dispatches finish; queued requests stay
// queued.
func (r *Relayer) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	r.wg.Wait()
}

// SubmitRequest validates and enqueues a relay request.
func (r *Relayer) SubmitRequest(ctx context.Context, req *models.RelayRequest) (*SubmitResult, error) {
	if req.TransactionID == "" {
		return nil, errs.New(errs.KindRelayer, errs.CodeRelayerRejected, "missing transaction id")
	}
	if req.Proof == nil {
		return nil, errs.New(errs.KindRelayer, errs.CodeRelayerRejected, "missing proof")
	}
	if !req.Priority.Valid() {
		req.Priority = models.RelayPriorityNormal
	}
	if !r.registry.IsSupported(req.SourceChainID) {
		return nil, errs.Newf(errs.KindChain, errs.CodeUnsupportedChain,
			"unsupported source chain %s", req.SourceChainID)
	}
	if !r.registry.IsSupported(req.DestChainID) {
		return nil, errs.Newf(errs.KindChain, errs.CodeUnsupportedChain,
			"unsupported destination chain %s", req.DestChainID)
	}
	now := r.now()
	if !req.ExpiresAt.IsZero() && !now.Before(req.ExpiresAt) {
		return nil, errs.Newf(errs.KindRelayer, errs.CodeRequestExpired,
			"request expired at %s", req.ExpiresAt)
	}

	r.mu.Lock()
	if _, exists := r.tasks[req.TransactionID]; exists {
		r.mu.Unlock()
		return nil, errs.Newf(errs.KindRelayer, errs.CodeRelayerRejected,
			"duplicate relay request %s", req.TransactionID)
	}
	r.seq++
	t := &task{
		req: req,
		record: &models.RelayRecord{
			TransactionID: req.TransactionID,
			SourceChainID: req.SourceChainID,
			DestChainID:   req.DestChainID,
			Priority:      req.Priority,
			Status:        models.RelayStatusQueued,
			CreatedAt:     now,
			ExpiresAt:     req.ExpiresAt,
			UpdatedAt:     now,
		},
		seq:   r.seq,
		index: -1,
	}
	r.tasks[req.TransactionID] = t
	r.queue.push(t)
	position := r.queue.position(t)
	depth := r.queue.Len()
	r.mu.Unlock()

	metrics.RelayQueueDepth.Set(float64(depth))
	r.persist(ctx, t.record, true)
	r.notify(t.record)
	r.signal()

	eta, _ := r.GetEstimatedTime(req.SourceChainID, req.DestChainID, req.Priority)
	r.logger.WithFields(logrus.Fields{
		"transaction": req.TransactionID,
		"priority":    req.Priority,
		"position":    position,
	}).Info("Relay request queued")

	return &SubmitResult{
		TransactionID: req.TransactionID,
		QueuePosition: position,
		EstimatedTime: eta,
	}, nil
}

// GetStatus returns the current record for a relay request. Requests from
// before the last restart are no longer tracked in memory and are answered
// from persistence.
func (r *Relayer) GetStatus(ctx context.Context, transactionID string) (*models.RelayRecord, error) {
	r.mu.Lock()
	t, ok := r.tasks[transactionID]
	if ok {
		record := cloneRecord(t.record)
		r.mu.Unlock()
		return record, nil
	}
	r.mu.Unlock()

	if r.repo != nil {
		if record, err := r.repo.GetByTransactionID(ctx, transactionID); err == nil {
			return record, nil
		}
	}
	return nil, errs.Newf(errs.KindRelayer, errs.CodeRelayerRejected,
		"unknown relay request %s", transactionID)
}

// CancelRequest removes a request that has not been dispatched yet. Returns
// false once the first dispatch attempt has started.
func (r *Relayer) CancelRequest(ctx context.Context, transactionID string) (bool, error) {
	r.mu.Lock()
	t, ok := r.tasks[transactionID]
	if !ok {
		r.mu.Unlock()
		return false, errs.Newf(errs.KindRelayer, errs.CodeRelayerRejected,
			"unknown relay request %s", transactionID)
	}
	if t.record.Attempts > 0 || t.record.Status != models.RelayStatusQueued {
		r.mu.Unlock()
		return false, nil
	}
	r.queue.remove(t)
	t.record.Status = models.RelayStatusCancelled
	t.record.UpdatedAt = r.now()
	snapshot := cloneRecord(t.record)
	depth := r.queue.Len()
	r.mu.Unlock()

	metrics.RelayQueueDepth.Set(float64(depth))
	r.persist(ctx, snapshot, false)
	r.notify(snapshot)
	return true, nil
}

// MarkConfirmed records destination-chain confirmation of a submitted relay.
func (r *Relayer) MarkConfirmed(ctx context.Context, transactionID string) error {
	r.mu.Lock()
	t, ok := r.tasks[transactionID]
	if !ok {
		r.mu.Unlock()
		return errs.Newf(errs.KindRelayer, errs.CodeRelayerRejected,
			"unknown relay request %s", transactionID)
	}
	if t.record.Status != models.RelayStatusSubmitted {
		r.mu.Unlock()
		return errs.Newf(errs.KindRelayer, errs.CodeRelayerRejected,
			"relay %s is %s, expected submitted", transactionID, t.record.Status)
	}
	t.record.Status = models.RelayStatusConfirmed
	t.record.UpdatedAt = r.now()
	snapshot := cloneRecord(t.record)
	r.mu.Unlock()

	r.persist(ctx, snapshot, false)
	r.notify(snapshot)
	return nil
}

// GetEstimatedTime estimates end-to-end relay latency as the finality of
// both chains plus a queue penalty scaled down by priority.
func (r *Relayer) GetEstimatedTime(source, dest string, priority models.RelayPriority) (time.Duration, error) {
	srcFinality, err := r.registry.EstimatedFinality(source)
	if err != nil {
		return 0, err
	}
	destFinality, err := r.registry.EstimatedFinality(dest)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	depth := r.queue.Len()
	r.mu.Unlock()

	queuePenalty := time.Duration(depth) * 2 * time.Second / time.Duration(priority.Weight()+1)
	return srcFinality + destFinality + queuePenalty, nil
}

// GetHealth reports aggregate relayer status.
func (r *Relayer) GetHealth(ctx context.Context) *models.RelayerHealth {
	now := r.now()
	r.mu.Lock()
	pending := r.queue.Len()
	for _, t := range r.tasks {
		if t.retrying {
			pending++
		}
	}
	rate := r.failureRateLocked(now)
	r.mu.Unlock()

	// The in-memory outcome window starts at process boot; persisted
	// records carry the rate across restarts.
	if r.repo != nil {
		if persisted, err := r.repo.FailureRateSince(ctx, now.Add(-24*time.Hour)); err == nil {
			rate = persisted
		}
	}

	health := &models.RelayerHealth{
		Healthy:        rate < 0.5,
		UptimeSeconds:  int64(now.Sub(r.startedAt) / time.Second),
		PendingCount:   pending,
		FailureRate24h: rate,
		ChainLag:       map[string]uint64{},
		FeeLevels:      map[string]string{},
		Timestamp:      now,
	}
	if r.stats != nil {
		health.ChainLag = r.stats.ChainLag(ctx)
		health.FeeLevels = r.stats.FeeLevels(ctx)
	}
	return health
}

func (r *Relayer) worker(id int) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		t := r.queue.pop()
		depth := r.queue.Len()
		r.mu.Unlock()

		if t == nil {
			select {
			case <-r.stop:
				return
			case <-r.wake:
				continue
			}
		}
		metrics.RelayQueueDepth.Set(float64(depth))
		if depth > 0 {
			r.signal()
		}
		r.process(t)

		select {
		case <-r.stop:
			return
		default:
		}
	}
}

// process runs one dispatch attempt. Retryable failures hand the task to a
// timer which re-enqueues it at its original priority; the worker is free
// immediately.
func (r *Relayer) process(t *task) {
	ctx := context.Background()
	now := r.now()

	r.mu.Lock()
	if t.record.Status == models.RelayStatusCancelled {
		r.mu.Unlock()
		return
	}
	if !t.record.ExpiresAt.IsZero() && !now.Before(t.record.ExpiresAt) {
		t.record.Status = models.RelayStatusExpired
		t.record.UpdatedAt = now
		snapshot := cloneRecord(t.record)
		r.mu.Unlock()
		metrics.RelaySubmissions.WithLabelValues("expired").Inc()
		r.persist(ctx, snapshot, false)
		r.notify(snapshot)
		return
	}
	t.record.Status = models.RelayStatusDispatched
	t.record.Attempts++
	t.record.UpdatedAt = now
	attempt := t.record.Attempts
	snapshot := cloneRecord(t.record)
	r.mu.Unlock()
	r.persist(ctx, snapshot, false)
	r.notify(snapshot)

	destTxHash, err := r.dispatcher.Dispatch(ctx, t.req)
	if err == nil {
		r.mu.Lock()
		t.record.Status = models.RelayStatusSubmitted
		t.record.DestTxHash = destTxHash
		t.record.LastError = ""
		t.record.UpdatedAt = r.now()
		snapshot = cloneRecord(t.record)
		r.recordOutcome(true)
		r.mu.Unlock()

		metrics.RelaySubmissions.WithLabelValues("submitted").Inc()
		r.persist(ctx, snapshot, false)
		r.notify(snapshot)
		r.logger.WithFields(logrus.Fields{
			"transaction": t.req.TransactionID,
			"dest_tx":     destTxHash,
			"attempt":     attempt,
		}).Info("Relay submitted")
		return
	}

	retry := errs.IsRetryable(err) && attempt <= r.policy.MaxRetries
	r.mu.Lock()
	t.record.LastError = err.Error()
	t.record.UpdatedAt = r.now()
	if !retry {
		t.record.Status = models.RelayStatusFailed
		r.recordOutcome(false)
	}
	snapshot = cloneRecord(t.record)
	r.mu.Unlock()

	if !retry {
		metrics.RelaySubmissions.WithLabelValues("failed").Inc()
		r.persist(ctx, snapshot, false)
		r.notify(snapshot)
		r.logger.WithFields(logrus.Fields{
			"transaction": t.req.TransactionID,
			"attempts":    attempt,
			"error":       err,
		}).Error("Relay failed")
		return
	}

	delay := r.policy.Delay(attempt - 1)
	metrics.RelayRetries.Inc()
	r.persist(ctx, snapshot, false)
	r.logger.WithFields(logrus.Fields{
		"transaction": t.req.TransactionID,
		"attempt":     attempt,
		"delay":       delay,
		"error":       err,
	}).Warn("Relay dispatch failed, retrying")

	r.mu.Lock()
	t.retrying = true
	r.mu.Unlock()
	r.afterFunc(delay, func() { r.requeue(t) })
}

// requeue puts a task back in the queue after its backoff delay, at its
// original priority and submission order.
func (r *Relayer) requeue(t *task) {
	r.mu.Lock()
	t.retrying = false
	if t.record.Status != models.RelayStatusDispatched {
		r.mu.Unlock()
		return
	}
	t.record.Status = models.RelayStatusQueued
	t.record.UpdatedAt = r.now()
	r.queue.push(t)
	depth := r.queue.Len()
	r.mu.Unlock()

	metrics.RelayQueueDepth.Set(float64(depth))
	r.signal()
}

func (r *Relayer) recordOutcome(ok bool) {
	now := r.now()
	cutoff := now.Add(-24 * time.Hour)
	kept := r.outcomes[:0]
	for _, o := range r.outcomes {
		if o.at.After(cutoff) {
			kept = append(kept, o)
		}
	}
	r.outcomes = append(kept, outcome{at: now, ok: ok})
}

func (r *Relayer) failureRateLocked(now time.Time) float64 {
	cutoff := now.Add(-24 * time.Hour)
	var total, failed int
	for _, o := range r.outcomes {
		if !o.at.After(cutoff) {
			continue
		}
		total++
		if !o.ok {
			failed++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}

func (r *Relayer) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Relayer) persist(ctx context.Context, record *models.RelayRecord, create bool) {
	if r.repo == nil {
		return
	}
	var err error
	if create {
		err = r.repo.Create(ctx, record)
	} else {
		err = r.repo.Update(ctx, record)
	}
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"transaction": record.TransactionID,
			"error":       err,
		}).Warn("Failed to persist relay record")
	}
}

func (r *Relayer) notify(record *models.RelayRecord) {
	if r.onUpdate == nil {
		return
	}
	// Listener panics must not take down a worker.
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.WithFields(logrus.Fields{"panic": rec}).Error("Relay update listener panicked")
		}
	}()
	r.onUpdate(record)
}

func cloneRecord(rec *models.RelayRecord) *models.RelayRecord {
	clone := *rec
	return &clone
}
