package repository

import (
	"context"

	"go-bridge/internal/models"

	"gorm.io/gorm"
)

// TransactionRepository defines the interface for BridgeTransaction data
// access. The orchestrator serves queries from memory; the only read path
// is the startup restore of non-terminal transactions.
type TransactionRepository interface {
	Create(ctx context.Context, tx *models.BridgeTransaction) error
	Update(ctx context.Context, tx *models.BridgeTransaction) error
	FindActive(ctx context.Context) ([]*models.BridgeTransaction, error)
}

type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a new TransactionRepository instance
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(ctx context.Context, tx *models.BridgeTransaction) error {
	return r.db.WithContext(ctx).Create(tx).Error
}

func (r *transactionRepository) Update(ctx context.Context, tx *models.BridgeTransaction) error {
	return r.db.WithContext(ctx).Save(tx).Error
}

// FindActive returns transactions that have not reached a terminal state.
func (r *transactionRepository) FindActive(ctx context.Context) ([]*models.BridgeTransaction, error) {
	var txs []*models.BridgeTransaction
	err := r.db.WithContext(ctx).
		Where("status NOT IN ?", []models.TransactionStatus{
			models.TxStatusCompleted, models.TxStatusFailed, models.TxStatusRefunded,
		}).
		Find(&txs).Error
	return txs, err
}
