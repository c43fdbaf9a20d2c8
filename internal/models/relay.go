package models

import "time"

// ProofType identifies the circuit a proof was generated for.
type ProofType string

const (
	ProofTypeTransfer ProofType = "transfer"
	ProofTypeWithdraw ProofType = "withdraw"
)

// BridgeProof is the evidence submitted to the destination chain. The
// claimed MerkleRoot must have existed in the accumulator's history when the
// proof was generated.
type BridgeProof struct {
	Type             ProofType `json:"type"`
	ProofBytes       ByteArray `json:"proof_bytes"`
	PublicInputs     []string  `json:"public_inputs"`
	MerkleRoot       string    `json:"merkle_root"`
	Commitment       string    `json:"commitment"`
	OutputCommitment string    `json:"output_commitment,omitempty"`
	Nullifier        string    `json:"nullifier,omitempty"`
	RouteHash        string    `json:"route_hash,omitempty"`
	Amount           string    `json:"amount,omitempty"`
	TargetChainID    string    `json:"target_chain_id"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// RelayRequest is one unit of relay work: carry a proof from the source
// chain to the destination chain.
type RelayRequest struct {
	TransactionID string        `json:"transaction_id"`
	SourceChainID string        `json:"source_chain_id"`
	DestChainID   string        `json:"dest_chain_id"`
	Proof         *BridgeProof  `json:"proof"`
	Priority      RelayPriority `json:"priority"`
	MaxFee        string        `json:"max_fee"` // decimal string
	CreatedAt     time.Time     `json:"created_at"`
	ExpiresAt     time.Time     `json:"expires_at"`
}

// RelayRecord is the persisted state of a relay request as it moves through
// the queue.
type RelayRecord struct {
	TransactionID string        `json:"transaction_id" gorm:"primaryKey;type:varchar(64)"`
	SourceChainID string        `json:"source_chain_id" gorm:"type:varchar(32);index"`
	DestChainID   string        `json:"dest_chain_id" gorm:"type:varchar(32);index"`
	Priority      RelayPriority `json:"priority" gorm:"type:varchar(8)"`
	Status        RelayStatus   `json:"status" gorm:"type:varchar(16);index"`
	Attempts      int           `json:"attempts"`
	DestTxHash    string        `json:"dest_tx_hash,omitempty" gorm:"type:varchar(128)"`
	LastError     string        `json:"last_error,omitempty" gorm:"type:varchar(512)"`
	CreatedAt     time.Time     `json:"created_at"`
	ExpiresAt     time.Time     `json:"expires_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

func (RelayRecord) TableName() string { return "relay_records" }

// RelayerHealth is the aggregate relayer status report.
type RelayerHealth struct {
	Healthy        bool              `json:"healthy"`
	UptimeSeconds  int64             `json:"uptime_seconds"`
	PendingCount   int               `json:"pending_count"`
	FailureRate24h float64           `json:"failure_rate_24h"`
	ChainLag       map[string]uint64 `json:"chain_lag"`  // chain id -> blocks behind
	FeeLevels      map[string]string `json:"fee_levels"` // chain id -> current fee, decimal string
	Timestamp      time.Time         `json:"timestamp"`
}
