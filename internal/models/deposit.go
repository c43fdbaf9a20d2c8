package models

import "time"

// LockedDeposit is funds held in custody on the source chain between lock
// and release/refund. Deposits are never deleted; terminal rows remain as
// the audit record.
type LockedDeposit struct {
	ID            string        `json:"id" gorm:"primaryKey;type:varchar(64)"`
	ChainID       string        `json:"chain_id" gorm:"type:varchar(32);index;not null"`
	TokenSymbol   string        `json:"token_symbol" gorm:"type:varchar(16);not null"`
	Amount        string        `json:"amount" gorm:"type:varchar(80);not null"` // decimal string, smallest unit
	Sender        string        `json:"sender" gorm:"type:varchar(128);index"`
	DestChainID   string        `json:"dest_chain_id" gorm:"type:varchar(32)"`
	Recipient     string        `json:"recipient" gorm:"type:varchar(128)"`
	Commitment    string        `json:"commitment" gorm:"type:varchar(66);uniqueIndex;not null"`
	Status        DepositStatus `json:"status" gorm:"type:varchar(16);index;not null"`
	LockTxHash    string        `json:"lock_tx_hash" gorm:"type:varchar(128)"`
	ReleaseTxHash string        `json:"release_tx_hash,omitempty" gorm:"type:varchar(128)"`
	RefundTxHash  string        `json:"refund_tx_hash,omitempty" gorm:"type:varchar(128)"`
	Nullifier     string        `json:"nullifier,omitempty" gorm:"type:varchar(66);index"` // set at release time
	LockedAt      time.Time     `json:"locked_at"`
	ExpiresAt     time.Time     `json:"expires_at" gorm:"index"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// TableName keeps the table name stable regardless of struct renames.
func (LockedDeposit) TableName() string { return "locked_deposits" }

// IsExpired reports whether the lock window has passed at the given time.
func (d *LockedDeposit) IsExpired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}

// Refundable reports whether a refund is permitted at the given time: the
// lock must be past expiry and never released.
func (d *LockedDeposit) Refundable(now time.Time) bool {
	if d.Status != DepositStatusPending && d.Status != DepositStatusConfirmed {
		return false
	}
	return d.IsExpired(now)
}

// NullifierRecord marks the one-time spend of a commitment. A nullifier row
// exists exactly once; re-insertion must fail at the accumulator.
type NullifierRecord struct {
	Hash        string    `json:"hash" gorm:"primaryKey;type:varchar(66)"`
	ChainID     string    `json:"chain_id" gorm:"type:varchar(32);index"`
	SpentTxHash string    `json:"spent_tx_hash" gorm:"type:varchar(128)"`
	SpentBlock  uint64    `json:"spent_block"`
	SpentAt     time.Time `json:"spent_at"`
}

func (NullifierRecord) TableName() string { return "nullifier_records" }

// CommitmentRecord is the persisted mirror of a tree leaf: immutable once
// inserted.
type CommitmentRecord struct {
	Hash      string    `json:"hash" gorm:"primaryKey;type:varchar(66)"`
	LeafIndex uint64    `json:"leaf_index" gorm:"uniqueIndex"`
	Root      string    `json:"root" gorm:"type:varchar(66)"` // root after this insertion
	CreatedAt time.Time `json:"created_at"`
}

func (CommitmentRecord) TableName() string { return "commitment_records" }

// RootRecord is one entry of the accumulator's root history.
type RootRecord struct {
	Root      string    `json:"root" gorm:"primaryKey;type:varchar(66)"`
	Sequence  uint64    `json:"sequence" gorm:"index"`
	LeafCount uint64    `json:"leaf_count"`
	CreatedAt time.Time `json:"created_at"`
}

func (RootRecord) TableName() string { return "root_records" }
