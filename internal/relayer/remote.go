package relayer

import (
	"context"
	"time"

	"go-bridge/internal/clients"
	"go-bridge/internal/errs"
	"go-bridge/internal/models"
)

// RemoteDispatcher forwards relay requests to an external relayer network
// over its HTTP API, then polls until the relay is submitted on the
// destination chain. Used for chains this service does not custody directly.
type RemoteDispatcher struct {
	client       *clients.RelayerNetworkClient
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewRemoteDispatcher wires a relayer network client as a Dispatcher.
func NewRemoteDispatcher(client *clients.RelayerNetworkClient) *RemoteDispatcher {
	return &RemoteDispatcher{
		client:       client,
		pollInterval: 2 * time.Second,
		pollTimeout:  2 * time.Minute,
	}
}

func (d *RemoteDispatcher) Dispatch(ctx context.Context, req *models.RelayRequest) (string, error) {
	ack, err := d.client.SubmitRelay(ctx, req)
	if err != nil {
		return "", err
	}
	if !ack.Accepted {
		return "", errs.Newf(errs.KindRelayer, errs.CodeRelayerRejected,
			"relay rejected by network: %s", ack.Reason)
	}

	deadline := time.NewTimer(d.pollTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.cancelRemote(req.TransactionID)
			return "", errs.Wrap(errs.KindRelayer, errs.CodeRelayerTimeout, "dispatch cancelled", ctx.Err())
		case <-deadline.C:
			// Cancel remotely so the retry does not race a still-queued
			// duplicate.
			d.cancelRemote(req.TransactionID)
			return "", errs.Newf(errs.KindRelayer, errs.CodeRelayerTimeout,
				"relay %s not submitted within %s", req.TransactionID, d.pollTimeout)
		case <-ticker.C:
			status, err := d.client.GetRelayStatus(ctx, req.TransactionID)
			if err != nil {
				// Transient poll failures fall through to the next tick.
				continue
			}
			switch status.Status {
			case models.RelayStatusSubmitted, models.RelayStatusConfirmed:
				return status.DestTxHash, nil
			case models.RelayStatusFailed:
				return "", errs.Newf(errs.KindRelayer, errs.CodeRelayerRejected,
					"relay %s failed remotely: %s", req.TransactionID, status.LastError)
			case models.RelayStatusExpired:
				return "", errs.Newf(errs.KindRelayer, errs.CodeRequestExpired,
					"relay %s expired remotely", req.TransactionID)
			}
		}
	}
}

// cancelRemote asks the network to drop an abandoned relay. Best effort: the
// relay may already be in flight, in which case the network refuses.
func (d *RemoteDispatcher) cancelRemote(transactionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = d.client.CancelRelay(ctx, transactionID)
}

// RemoteStats sources per-chain lag and fee levels from the relayer
// network's health report. Used in place of local executor estimates when
// dispatch is remote.
type RemoteStats struct {
	client *clients.RelayerNetworkClient
}

// NewRemoteStats wires the relayer network client as a StatsProvider.
func NewRemoteStats(client *clients.RelayerNetworkClient) *RemoteStats {
	return &RemoteStats{client: client}
}

func (s *RemoteStats) ChainLag(ctx context.Context) map[string]uint64 {
	health, err := s.client.GetHealth(ctx)
	if err != nil || health.ChainLag == nil {
		return map[string]uint64{}
	}
	return health.ChainLag
}

func (s *RemoteStats) FeeLevels(ctx context.Context) map[string]string {
	health, err := s.client.GetHealth(ctx)
	if err != nil || health.FeeLevels == nil {
		return map[string]string{}
	}
	return health.FeeLevels
}
