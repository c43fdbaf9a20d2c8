package repository

import (
	"context"

	"go-bridge/internal/models"

	"gorm.io/gorm"
)

// DepositRepository defines the interface for LockedDeposit data access.
// Deposits are audit records: rows are created and updated, never deleted.
// Reads happen only at startup; the lockbox serves queries from memory.
type DepositRepository interface {
	Create(ctx context.Context, deposit *models.LockedDeposit) error
	Update(ctx context.Context, deposit *models.LockedDeposit) error
	FindByStatus(ctx context.Context, chainID string, status models.DepositStatus) ([]*models.LockedDeposit, error)
}

type depositRepository struct {
	db *gorm.DB
}

// NewDepositRepository creates a new DepositRepository instance
func NewDepositRepository(db *gorm.DB) DepositRepository {
	return &depositRepository{db: db}
}

func (r *depositRepository) Create(ctx context.Context, deposit *models.LockedDeposit) error {
	return r.db.WithContext(ctx).Create(deposit).Error
}

func (r *depositRepository) Update(ctx context.Context, deposit *models.LockedDeposit) error {
	return r.db.WithContext(ctx).Save(deposit).Error
}

func (r *depositRepository) FindByStatus(ctx context.Context, chainID string, status models.DepositStatus) ([]*models.LockedDeposit, error) {
	var deposits []*models.LockedDeposit
	err := r.db.WithContext(ctx).
		Where("chain_id = ? AND status = ?", chainID, status).
		Find(&deposits).Error
	return deposits, err
}
