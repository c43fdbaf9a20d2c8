package orchestrator

import (
	"context"
	"encoding/hex"
	"math/big"
	"time"

	"go-bridge/internal/accumulator"
	"go-bridge/internal/clients"
	"go-bridge/internal/events"
	"go-bridge/internal/lockbox"
	"go-bridge/internal/models"
	"go-bridge/internal/utils"

	"github.com/sirupsen/logrus"
)

// Start launches the confirmation tracker and the expiry sweeper.
func (o *Orchestrator) Start() {
	o.wg.Add(2)
	go o.confirmationLoop()
	go o.sweepLoop()
	o.logger.Info("Orchestrator lifecycle workers started")
}

// Stop halts the lifecycle workers.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() { close(o.stop) })
	o.wg.Wait()
}

func (o *Orchestrator) confirmationLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			o.trackConfirmations(context.Background())
		}
	}
}

func (o *Orchestrator) sweepLoop() {
	defer o.wg.Done()
	ticker := time.NewTicker(o.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			o.sweepExpired(context.Background())
		}
	}
}

// trackConfirmations advances transactions waiting on chain confirmations,
// in both directions: lock transactions on the source side and release
// transactions on the destination side.
func (o *Orchestrator) trackConfirmations(ctx context.Context) {
	for _, tx := range o.GetTransactions(TransactionFilter{Status: models.TxStatusSourceConfirming}) {
		o.checkSourceConfirmation(ctx, tx)
	}
	for _, tx := range o.GetTransactions(TransactionFilter{Status: models.TxStatusDestConfirming}) {
		o.checkReleaseConfirmation(ctx, tx)
	}
}

func (o *Orchestrator) checkSourceConfirmation(ctx context.Context, tx *models.BridgeTransaction) {
	lb, err := o.lockboxes.Get(tx.SourceChainID)
	if err != nil {
		return
	}
	required, err := o.registry.Confirmations(tx.SourceChainID)
	if err != nil {
		return
	}
	confirmations, err := lb.Executor().Confirmations(ctx, tx.SourceTxHash)
	if err != nil {
		o.logger.WithFields(logrus.Fields{
			"transaction": tx.ID,
			"tx_hash":     tx.SourceTxHash,
			"error":       err,
		}).Warn("Failed to check lock confirmations")
		o.failIfConfirmTimedOut(ctx, tx)
		return
	}
	if confirmations < required {
		o.failIfConfirmTimedOut(ctx, tx)
		return
	}

	if err := lb.MarkConfirmed(ctx, tx.DepositID); err != nil {
		o.logger.WithFields(logrus.Fields{"deposit": tx.DepositID, "error": err}).
			Warn("Failed to confirm deposit")
		return
	}
	if !o.transition(ctx, tx.ID, models.TxStatusSourceConfirmed, "") {
		return
	}
	o.bus.Publish(events.Event{
		Type:    events.TypeDepositLocked,
		ChainID: tx.SourceChainID,
		Payload: tx.DepositID,
	})
	o.startRelay(ctx, tx.ID)
}

// failIfConfirmTimedOut gives up on a lock that never reaches finality.
func (o *Orchestrator) failIfConfirmTimedOut(ctx context.Context, tx *models.BridgeTransaction) {
	timeout := time.Duration(o.cfg.Bridge.ConfirmTimeout) * time.Second
	if timeout <= 0 {
		return
	}
	if o.now().Sub(tx.CreatedAt) > timeout {
		o.transition(ctx, tx.ID, models.TxStatusFailed, "source confirmation timed out")
	}
}

// startRelay generates the transfer proof and hands it to the relayer.
func (o *Orchestrator) startRelay(ctx context.Context, txID string) {
	o.mu.RLock()
	tx, ok := o.txs[txID]
	var snapshot *models.BridgeTransaction
	var secret *accumulator.Secret
	if ok {
		snapshot = cloneTx(tx)
		secret = o.secrets[txID]
	}
	o.mu.RUnlock()
	if snapshot == nil || secret == nil {
		return
	}

	proof, err := o.generateProof(ctx, snapshot, secret)
	if err != nil {
		o.logger.WithFields(logrus.Fields{"transaction": txID, "error": err}).
			Error("Proof generation failed")
		o.transition(ctx, txID, models.TxStatusFailed, err.Error())
		return
	}

	relayTimeout := time.Duration(o.cfg.Bridge.RelayTimeout) * time.Second
	if relayTimeout <= 0 {
		relayTimeout = 10 * time.Minute
	}
	_, err = o.relay.SubmitRequest(ctx, &models.RelayRequest{
		TransactionID: txID,
		SourceChainID: snapshot.SourceChainID,
		DestChainID:   snapshot.DestChainID,
		Proof:         proof,
		Priority:      snapshot.Priority,
		MaxFee:        snapshot.RelayerFee,
		CreatedAt:     o.now(),
		ExpiresAt:     o.now().Add(relayTimeout),
	})
	if err != nil {
		o.logger.WithFields(logrus.Fields{"transaction": txID, "error": err}).
			Error("Relay submission failed")
		o.transition(ctx, txID, models.TxStatusFailed, err.Error())
		return
	}
	o.transition(ctx, txID, models.TxStatusRelaying, "")
}

// generateProof inserts the commitment into the accumulator and asks the
// proving service for a transfer proof over the resulting root.
func (o *Orchestrator) generateProof(ctx context.Context, tx *models.BridgeTransaction,
	secret *accumulator.Secret) (*models.BridgeProof, error) {
	if _, err := o.acc.Insert(ctx, tx.Commitment); err != nil {
		return nil, err
	}
	root := o.acc.CurrentRoot()

	destAmount, err := utils.ParseAmount(tx.DestAmount)
	if err != nil {
		destAmount = big.NewInt(0)
	}
	nullifier := accumulator.DeriveNullifier(secret)
	outputCommitment := accumulator.DeriveCommitment(destAmount, secret)
	routeHash := accumulator.DeriveRouteHash(tx.SourceChainID, tx.DestChainID, tx.TokenSymbol)

	publicInputs := []string{nullifier, outputCommitment, routeHash, tx.DestAmount, root}
	resp, err := o.prover.Prove(ctx, &clients.ProveRequest{
		CircuitType: string(models.ProofTypeTransfer),
		PrivateInputs: map[string]string{
			"secret":     hex32(secret.Value),
			"nonce":      hex32(secret.Nonce),
			"amount":     tx.Amount,
			"commitment": tx.Commitment,
		},
		PublicInputs: publicInputs,
	})
	if err != nil {
		return nil, err
	}

	return &models.BridgeProof{
		Type:             models.ProofTypeTransfer,
		ProofBytes:       resp.ProofBytes,
		PublicInputs:     publicInputs,
		MerkleRoot:       root,
		Commitment:       tx.Commitment,
		OutputCommitment: outputCommitment,
		Nullifier:        nullifier,
		RouteHash:        routeHash,
		Amount:           tx.DestAmount,
		TargetChainID:    tx.DestChainID,
		GeneratedAt:      o.now(),
	}, nil
}

// Dispatch carries a relay request to completion: verify the proof, then
// release the custodied deposit to the recipient. Implements
// relayer.Dispatcher.
func (o *Orchestrator) Dispatch(ctx context.Context, req *models.RelayRequest) (string, error) {
	if err := o.checker.Verify(ctx, req.Proof); err != nil {
		return "", err
	}

	// Relay-API submissions may carry no local transaction; the recipient
	// then comes from the custodied deposit itself.
	var recipient string
	o.mu.RLock()
	if tx, ok := o.txs[req.TransactionID]; ok {
		recipient = tx.Recipient
	}
	o.mu.RUnlock()

	lb, err := o.lockboxes.Get(req.SourceChainID)
	if err != nil {
		return "", err
	}
	if recipient == "" {
		custodied, err := lb.GetDepositByCommitment(req.Proof.Commitment)
		if err != nil {
			return "", err
		}
		recipient = custodied.Recipient
	}
	deposit, err := lb.Unlock(ctx, &lockbox.UnlockRequest{
		Commitment: req.Proof.Commitment,
		Nullifier:  req.Proof.Nullifier,
		Proof:      req.Proof,
		Recipient:  recipient,
	})
	if err != nil {
		return "", err
	}

	o.mu.Lock()
	if tx, ok := o.txs[req.TransactionID]; ok {
		tx.Nullifier = req.Proof.Nullifier
		tx.UpdatedAt = o.now()
	}
	o.mu.Unlock()

	o.bus.Publish(events.Event{
		Type:    events.TypeDepositReleased,
		ChainID: deposit.ChainID,
		Payload: deposit.ID,
	})
	return deposit.ReleaseTxHash, nil
}

// HandleRelayUpdate reacts to relayer state changes. Wire it via
// relayer.OnUpdate.
func (o *Orchestrator) HandleRelayUpdate(record *models.RelayRecord) {
	ctx := context.Background()
	switch record.Status {
	case models.RelayStatusSubmitted:
		o.mu.Lock()
		if tx, ok := o.txs[record.TransactionID]; ok {
			tx.DestTxHash = record.DestTxHash
			tx.UpdatedAt = o.now()
		}
		o.mu.Unlock()
		o.transition(ctx, record.TransactionID, models.TxStatusDestConfirming, "")
	case models.RelayStatusFailed:
		o.transition(ctx, record.TransactionID, models.TxStatusFailed,
			"relay failed: "+record.LastError)
	case models.RelayStatusExpired:
		o.transition(ctx, record.TransactionID, models.TxStatusFailed, "relay request expired")
	}
	o.bus.Publish(events.Event{
		Type:    events.TypeRelayUpdate,
		ChainID: record.DestChainID,
		Payload: record,
	})
}

// checkReleaseConfirmation finalizes a transaction once the release
// transaction is buried deep enough.
func (o *Orchestrator) checkReleaseConfirmation(ctx context.Context, tx *models.BridgeTransaction) {
	lb, err := o.lockboxes.Get(tx.SourceChainID)
	if err != nil {
		return
	}
	required, err := o.registry.Confirmations(tx.SourceChainID)
	if err != nil {
		return
	}
	confirmations, err := lb.Executor().Confirmations(ctx, tx.DestTxHash)
	if err != nil {
		o.logger.WithFields(logrus.Fields{
			"transaction": tx.ID,
			"tx_hash":     tx.DestTxHash,
			"error":       err,
		}).Warn("Failed to check release confirmations")
		return
	}
	if confirmations < required {
		return
	}

	if err := o.relay.MarkConfirmed(ctx, tx.ID); err != nil {
		o.logger.WithFields(logrus.Fields{"transaction": tx.ID, "error": err}).
			Debug("Relay confirmation bookkeeping skipped")
	}
	if o.transition(ctx, tx.ID, models.TxStatusDestConfirmed, "") {
		o.transition(ctx, tx.ID, models.TxStatusCompleted, "")
	}
}

// sweepExpired refunds deposits whose locks ran out before release.
func (o *Orchestrator) sweepExpired(ctx context.Context) {
	for _, lb := range o.lockboxes.All() {
		for _, deposit := range lb.FindRefundable() {
			refunded, err := lb.Refund(ctx, &lockbox.RefundRequest{DepositID: deposit.ID})
			if err != nil {
				o.logger.WithFields(logrus.Fields{"deposit": deposit.ID, "error": err}).
					Warn("Refund sweep failed")
				continue
			}
			o.bus.Publish(events.Event{
				Type:    events.TypeDepositRefunded,
				ChainID: refunded.ChainID,
				Payload: refunded.ID,
			})

			o.mu.RLock()
			txID, ok := o.byDeposit[deposit.ID]
			o.mu.RUnlock()
			if ok {
				o.transition(ctx, txID, models.TxStatusRefunded, "lock expired")
			}
		}
	}
}

func hex32(b [32]byte) string {
	return "0x" + hex.EncodeToString(b[:])
}
