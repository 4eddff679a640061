package repository

import (
	"context"
	"time"

	"github.com/shinyyama/goodjob-alarm/internal/model"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

type ApplicationRepository interface {
	FindDueItemsBetween(ctx context.Context, start, end time.Time) ([]model.DueItem, error)
	SetDB(db *gorm.DB)
}

type applicationRepository struct {
	db *gorm.DB
}

func NewApplicationRepository(db *gorm.DB) ApplicationRepository {
	return &applicationRepository{db: db}
}

// FindDueItemsBetween returns applications whose due date falls on a calendar day in [start, end].
// Only the dates of start and end are used.
func (r *applicationRepository) FindDueItemsBetween(ctx context.Context, start, end time.Time) ([]model.DueItem, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	from := start.Format(dateLayout)
	until := time.Date(end.Year(), end.Month(), end.Day()+1, 0, 0, 0, 0, time.UTC).Format(dateLayout)

	var rows []model.DueItem
	if err := r.db.WithContext(ctx).
		Table("applications AS a").
		Select("a.user_id AS user_id, a.job_id AS job_id, a.apply_due_date AS due_date, j.title AS title, j.company_name AS company_name").
		Joins("JOIN jobs j ON j.id = a.job_id").
		Where("a.apply_due_date IS NOT NULL").
		Where("a.apply_due_date >= ? AND a.apply_due_date < ?", from, until).
		Order("a.user_id ASC").
		Order("a.apply_due_date ASC").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *applicationRepository) SetDB(db *gorm.DB) {
	r.db = db
}
