package repository

import (
	"context"

	"go-bridge/internal/models"

	"gorm.io/gorm"
)

// AccumulatorRepository persists the accumulator's commitments, roots, and
// nullifiers as the durable audit trail. The in-memory accumulator remains
// authoritative for verification decisions; these rows rebuild it on
// restart.
type AccumulatorRepository interface {
	CreateCommitment(ctx context.Context, record *models.CommitmentRecord) error
	CreateRoot(ctx context.Context, record *models.RootRecord) error
	CreateNullifier(ctx context.Context, record *models.NullifierRecord) error
	ListCommitments(ctx context.Context) ([]*models.CommitmentRecord, error)
	ListNullifiers(ctx context.Context) ([]*models.NullifierRecord, error)
}

type accumulatorRepository struct {
	db *gorm.DB
}

// NewAccumulatorRepository creates a new AccumulatorRepository instance
func NewAccumulatorRepository(db *gorm.DB) AccumulatorRepository {
	return &accumulatorRepository{db: db}
}

func (r *accumulatorRepository) CreateCommitment(ctx context.Context, record *models.CommitmentRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *accumulatorRepository) CreateRoot(ctx context.Context, record *models.RootRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *accumulatorRepository) CreateNullifier(ctx context.Context, record *models.NullifierRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *accumulatorRepository) ListCommitments(ctx context.Context) ([]*models.CommitmentRecord, error) {
	var records []*models.CommitmentRecord
	err := r.db.WithContext(ctx).Order("leaf_index ASC").Find(&records).Error
	return records, err
}

func (r *accumulatorRepository) ListNullifiers(ctx context.Context) ([]*models.NullifierRecord, error) {
	var records []*models.NullifierRecord
	err := r.db.WithContext(ctx).Find(&records).Error
	return records, err
}
