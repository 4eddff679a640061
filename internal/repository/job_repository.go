package repository

import (
	"context"
	"time"

	"github.com/shinyyama/goodjob-alarm/internal/model"
	"gorm.io/gorm"
)

type JobRepository interface {
	FindNewPublicIDsSince(ctx context.Context, since time.Time) ([]uint64, error)
	SetDB(db *gorm.DB)
}

type jobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

// FindNewPublicIDsSince lists public jobs created strictly after since.
func (r *jobRepository) FindNewPublicIDsSince(ctx context.Context, since time.Time) ([]uint64, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var ids []uint64
	if err := r.db.WithContext(ctx).
		Model(&model.Job{}).
		Where("is_public = ? AND created_at > ?", true, since.UTC()).
		Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *jobRepository) SetDB(db *gorm.DB) {
	r.db = db
}
