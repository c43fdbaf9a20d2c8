package models

import "time"

// BridgeTransaction is the end-to-end transfer record owned by the
// orchestrator. It is created at lock time and updated by relayer, verifier,
// and lockbox callbacks until it reaches a terminal state.
type BridgeTransaction struct {
	ID            string            `json:"id" gorm:"primaryKey;type:varchar(64)"`
	SourceChainID string            `json:"source_chain_id" gorm:"type:varchar(32);index;not null"`
	DestChainID   string            `json:"dest_chain_id" gorm:"type:varchar(32);index;not null"`
	TokenSymbol   string            `json:"token_symbol" gorm:"type:varchar(16);not null"`
	Amount        string            `json:"amount" gorm:"type:varchar(80);not null"`
	DestAmount    string            `json:"dest_amount" gorm:"type:varchar(80)"`
	Sender        string            `json:"sender" gorm:"type:varchar(128);index"`
	Recipient     string            `json:"recipient" gorm:"type:varchar(128)"`
	Status        TransactionStatus `json:"status" gorm:"type:varchar(24);index;not null"`
	Priority      RelayPriority     `json:"priority" gorm:"type:varchar(16)"`
	Commitment    string            `json:"commitment" gorm:"type:varchar(66);index"`
	Nullifier     string            `json:"nullifier,omitempty" gorm:"type:varchar(66)"` // assigned only at unlock time
	DepositID     string            `json:"deposit_id" gorm:"type:varchar(64);index"`
	SourceTxHash  string            `json:"source_tx_hash" gorm:"type:varchar(128)"`
	DestTxHash    string            `json:"dest_tx_hash,omitempty" gorm:"type:varchar(128)"`
	BridgeFee     string            `json:"bridge_fee" gorm:"type:varchar(80)"`
	RelayerFee    string            `json:"relayer_fee" gorm:"type:varchar(80)"`
	FailureReason string            `json:"failure_reason,omitempty" gorm:"type:varchar(512)"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
}

func (BridgeTransaction) TableName() string { return "bridge_transactions" }

// BridgeQuote is a time-bounded fee and amount estimate for one route.
// Quotes are ephemeral; they are not persisted.
type BridgeQuote struct {
	QuoteID       string    `json:"quote_id"`
	SourceChainID string    `json:"source_chain_id"`
	DestChainID   string    `json:"dest_chain_id"`
	TokenSymbol   string    `json:"token_symbol"`
	Amount        string    `json:"amount"`
	DestAmount    string    `json:"dest_amount"`
	BridgeFee     string    `json:"bridge_fee"`
	RelayerFee    string    `json:"relayer_fee"`
	EstimatedTime int64     `json:"estimated_time_seconds"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// Valid reports whether the quote is still usable at the given time.
func (q *BridgeQuote) Valid(now time.Time) bool {
	return now.Before(q.ExpiresAt)
}
