package repository

import (
	"context"
	"errors"

	"github.com/shinyyama/goodjob-alarm/internal/model"
	"gorm.io/gorm"
)

type CvRepository interface {
	FindAllOwnerPairs(ctx context.Context) ([]model.CvOwner, error)
	FindFileNameByID(ctx context.Context, cvID uint64) (string, bool, error)
	SetDB(db *gorm.DB)
}

type cvRepository struct {
	db *gorm.DB
}

func NewCvRepository(db *gorm.DB) CvRepository {
	return &cvRepository{db: db}
}

func (r *cvRepository) FindAllOwnerPairs(ctx context.Context) ([]model.CvOwner, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var rows []model.CvOwner
	if err := r.db.WithContext(ctx).
		Model(&model.Cv{}).
		Select("id AS cv_id, user_id").
		Order("id ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FindFileNameByID reports ok=false when the résumé does not exist or has no file name.
func (r *cvRepository) FindFileNameByID(ctx context.Context, cvID uint64) (string, bool, error) {
	if r.db == nil {
		return "", false, ErrDBNotReady
	}
	var cv model.Cv
	if err := r.db.WithContext(ctx).Select("id", "file_name").First(&cv, cvID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	if cv.FileName == "" {
		return "", false, nil
	}
	return cv.FileName, true, nil
}

func (r *cvRepository) SetDB(db *gorm.DB) {
	r.db = db
}
