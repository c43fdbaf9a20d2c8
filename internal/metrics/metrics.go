package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Database connection metrics
	// ============================================
	DBConnectionPoolSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_db_connection_pool_size",
		Help: "Database connection pool size",
	})

	DBConnectionActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_db_connection_active",
		Help: "Number of active database connections",
	})

	DBConnectionIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_db_connection_idle",
		Help: "Number of idle database connections",
	})

	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})

	// ============================================
	// Lockbox metrics
	// ============================================
	DepositsLocked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_deposits_locked_total",
			Help: "Total number of deposits locked",
		},
		[]string{"chain", "token"},
	)

	DepositsReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_deposits_released_total",
			Help: "Total number of deposits released on unlock",
		},
		[]string{"chain", "token"},
	)

	DepositsRefunded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_deposits_refunded_total",
			Help: "Total number of deposits refunded after expiry",
		},
		[]string{"chain", "token"},
	)

	LockedValue = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bridge_locked_value",
			Help: "Total value locked per chain and token, in the token's smallest unit",
		},
		[]string{"chain", "token"},
	)

	// ============================================
	// Verifier metrics
	// ============================================
	ProofVerifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_proof_verifications_total",
			Help: "Proof verification outcomes by stage of rejection",
		},
		[]string{"result"}, // ok, structural, nullifier_used, stale_root, crypto, inputs_mismatch
	)

	VerificationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_proof_verification_duration_seconds",
		Help:    "End-to-end proof verification duration",
		Buckets: prometheus.DefBuckets,
	})

	NullifiersSpent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_nullifiers_spent_total",
		Help: "Total nullifiers recorded as spent",
	})

	AccumulatorLeaves = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_accumulator_leaves",
		Help: "Number of commitments inserted into the accumulator",
	})

	// ============================================
	// Relayer metrics
	// ============================================
	RelayQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_relay_queue_depth",
		Help: "Pending relay requests",
	})

	RelaySubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_relay_submissions_total",
			Help: "Relay submission outcomes",
		},
		[]string{"result"}, // submitted, failed, expired
	)

	RelayRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_relay_retries_total",
		Help: "Total relay submission retries",
	})

	// ============================================
	// Transaction lifecycle metrics
	// ============================================
	TransactionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_transaction_transitions_total",
			Help: "Bridge transaction status transitions",
		},
		[]string{"to"},
	)

	TransactionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_transaction_duration_seconds",
		Help:    "Time from lock to completion for completed transfers",
		Buckets: []float64{30, 60, 120, 300, 600, 1800, 3600, 7200},
	})

	// ============================================
	// NATS metrics
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridge_nats_messages_published_total",
			Help: "Total lifecycle events published to NATS",
		},
		[]string{"event_type"},
	)
)
