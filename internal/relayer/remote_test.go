package relayer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go-bridge/internal/clients"
	"go-bridge/internal/errs"
	"go-bridge/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// remoteNetwork is a scripted relayer network server.
type remoteNetwork struct {
	accept      bool
	reason      string
	statuses    []models.RelayStatus
	destTxHash  string
	statusCalls atomic.Int32
	cancels     atomic.Int32
}

func (n *remoteNetwork) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/relay", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(clients.SubmitRelayResponse{
			TransactionID: "tx1",
			Accepted:      n.accept,
			Reason:        n.reason,
		})
	})
	mux.HandleFunc("/relay/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			n.cancels.Add(1)
			json.NewEncoder(w).Encode(map[string]bool{"cancelled": true})
			return
		}
		call := int(n.statusCalls.Add(1)) - 1
		if call >= len(n.statuses) {
			call = len(n.statuses) - 1
		}
		json.NewEncoder(w).Encode(clients.RelayStatusResponse{
			TransactionID: "tx1",
			Status:        n.statuses[call],
			DestTxHash:    n.destTxHash,
		})
	})
	return mux
}

func testRemote(t *testing.T, network *remoteNetwork) (*RemoteDispatcher, func()) {
	t.Helper()
	server := httptest.NewServer(network.handler())
	d := NewRemoteDispatcher(clients.NewRelayerNetworkClient(server.URL, "test-key"))
	d.pollInterval = 2 * time.Millisecond
	d.pollTimeout = 200 * time.Millisecond
	return d, server.Close
}

func remoteReq() *models.RelayRequest {
	return &models.RelayRequest{
		TransactionID: "tx1",
		SourceChainID: "ethereum",
		DestChainID:   "solana",
		Proof:         &models.BridgeProof{},
	}
}

func TestRemoteDispatchPollsUntilSubmitted(t *testing.T) {
	network := &remoteNetwork{
		accept:     true,
		statuses:   []models.RelayStatus{models.RelayStatusQueued, models.RelayStatusQueued, models.RelayStatusSubmitted},
		destTxHash: "0xdest",
	}
	d, done := testRemote(t, network)
	defer done()

	hash, err := d.Dispatch(context.Background(), remoteReq())
	require.NoError(t, err)
	assert.Equal(t, "0xdest", hash)
	assert.GreaterOrEqual(t, network.statusCalls.Load(), int32(3))
}

func TestRemoteDispatchRejectedSubmission(t *testing.T) {
	network := &remoteNetwork{accept: false, reason: "fee too low"}
	d, done := testRemote(t, network)
	defer done()

	_, err := d.Dispatch(context.Background(), remoteReq())
	assert.Equal(t, errs.CodeRelayerRejected, errs.CodeOf(err))
}

func TestRemoteDispatchRemoteFailure(t *testing.T) {
	network := &remoteNetwork{
		accept:   true,
		statuses: []models.RelayStatus{models.RelayStatusFailed},
	}
	d, done := testRemote(t, network)
	defer done()

	_, err := d.Dispatch(context.Background(), remoteReq())
	assert.Equal(t, errs.CodeRelayerRejected, errs.CodeOf(err))
}

func TestRemoteDispatchTimeoutCancelsRemotely(t *testing.T) {
	network := &remoteNetwork{
		accept:   true,
		statuses: []models.RelayStatus{models.RelayStatusQueued},
	}
	d, done := testRemote(t, network)
	defer done()
	d.pollTimeout = 20 * time.Millisecond

	_, err := d.Dispatch(context.Background(), remoteReq())
	assert.Equal(t, errs.CodeRelayerTimeout, errs.CodeOf(err))
	assert.Equal(t, int32(1), network.cancels.Load())
}

func TestRemoteDispatchContextCancelCancelsRemotely(t *testing.T) {
	network := &remoteNetwork{
		accept:   true,
		statuses: []models.RelayStatus{models.RelayStatusQueued},
	}
	d, done := testRemote(t, network)
	defer done()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := d.Dispatch(ctx, remoteReq())
	assert.Equal(t, errs.CodeRelayerTimeout, errs.CodeOf(err))
	assert.Equal(t, int32(1), network.cancels.Load())
}

func TestRemoteStatsReportsNetworkHealth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.RelayerHealth{
			Healthy:   true,
			ChainLag:  map[string]uint64{"ethereum": 3},
			FeeLevels: map[string]string{"ethereum": "21000"},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	stats := NewRemoteStats(clients.NewRelayerNetworkClient(server.URL, ""))
	ctx := context.Background()
	assert.Equal(t, map[string]uint64{"ethereum": 3}, stats.ChainLag(ctx))
	assert.Equal(t, map[string]string{"ethereum": "21000"}, stats.FeeLevels(ctx))

	// An unreachable network degrades to empty figures, not an error.
	server.Close()
	assert.Empty(t, stats.ChainLag(ctx))
	assert.Empty(t, stats.FeeLevels(ctx))
}
