package repository

import (
	"context"
	"time"

	"go-bridge/internal/models"

	"gorm.io/gorm"
)

// RelayRepository defines the interface for RelayRecord data access. The
// live queue is in-memory; persisted records answer status lookups for
// relays from before the last restart and keep the failure rate across
// restarts.
type RelayRepository interface {
	Create(ctx context.Context, record *models.RelayRecord) error
	Update(ctx context.Context, record *models.RelayRecord) error
	GetByTransactionID(ctx context.Context, transactionID string) (*models.RelayRecord, error)
	FailureRateSince(ctx context.Context, since time.Time) (float64, error)
}

type relayRepository struct {
	db *gorm.DB
}

// NewRelayRepository creates a new RelayRepository instance
func NewRelayRepository(db *gorm.DB) RelayRepository {
	return &relayRepository{db: db}
}

func (r *relayRepository) Create(ctx context.Context, record *models.RelayRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *relayRepository) Update(ctx context.Context, record *models.RelayRecord) error {
	return r.db.WithContext(ctx).Save(record).Error
}

func (r *relayRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.RelayRecord, error) {
	var record models.RelayRecord
	if err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// FailureRateSince computes failed / (failed + confirmed) over the window.
func (r *relayRepository) FailureRateSince(ctx context.Context, since time.Time) (float64, error) {
	var failed, total int64
	if err := r.db.WithContext(ctx).
		Model(&models.RelayRecord{}).
		Where("updated_at >= ? AND status IN ?", since,
			[]models.RelayStatus{models.RelayStatusFailed, models.RelayStatusConfirmed}).
		Count(&total).Error; err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, nil
	}
	if err := r.db.WithContext(ctx).
		Model(&models.RelayRecord{}).
		Where("updated_at >= ? AND status = ?", since, models.RelayStatusFailed).
		Count(&failed).Error; err != nil {
		return 0, err
	}
	return float64(failed) / float64(total), nil
}
