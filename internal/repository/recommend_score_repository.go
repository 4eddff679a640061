package repository

import (
	"context"

	"github.com/shinyyama/goodjob-alarm/internal/model"
	"gorm.io/gorm"
)

type RecommendScoreRepository interface {
	FindTopNPerUserAndCv(ctx context.Context, n int) ([]model.ScoredPair, error)
	FindTopKByCv(ctx context.Context, cvID uint64, topK int) ([]model.ScoredCandidate, error)
	SetDB(db *gorm.DB)
}

type recommendScoreRepository struct {
	db *gorm.DB
}

func NewRecommendScoreRepository(db *gorm.DB) RecommendScoreRepository {
	return &recommendScoreRepository{db: db}
}

// The inner ranking keeps one row per (résumé, job): its best score, newest row on ties.
const topNPerUserAndCvSQL = `
SELECT user_id, cv_id, job_id, score, scored_at, title, company_name
FROM (
  SELECT
    best.*,
    ROW_NUMBER() OVER (
      PARTITION BY best.user_id, best.cv_id
      ORDER BY best.score DESC, best.scored_at DESC, best.job_id DESC
    ) AS rn
  FROM (
    SELECT
      c.user_id      AS user_id,
      rs.cv_id       AS cv_id,
      rs.job_id      AS job_id,
      rs.score       AS score,
      rs.created_at  AS scored_at,
      j.title        AS title,
      j.company_name AS company_name,
      ROW_NUMBER() OVER (
        PARTITION BY rs.cv_id, rs.job_id
        ORDER BY rs.score DESC, rs.created_at DESC, rs.id DESC
      ) AS dup
    FROM recommend_scores rs
    JOIN cvs c  ON c.id = rs.cv_id
    JOIN jobs j ON j.id = rs.job_id
    WHERE j.is_public = ?
  ) best
  WHERE best.dup = 1
) ranked
WHERE rn <= ?
ORDER BY user_id ASC, cv_id ASC, rn ASC`

// FindTopNPerUserAndCv returns up to n distinct public jobs per (user, résumé), best score first.
func (r *recommendScoreRepository) FindTopNPerUserAndCv(ctx context.Context, n int) ([]model.ScoredPair, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	if n <= 0 {
		return nil, nil
	}
	var rows []model.ScoredPair
	if err := r.db.WithContext(ctx).Raw(topNPerUserAndCvSQL, true, n).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FindTopKByCv returns the best stored score per public job for one résumé.
func (r *recommendScoreRepository) FindTopKByCv(ctx context.Context, cvID uint64, topK int) ([]model.ScoredCandidate, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var rows []model.ScoredCandidate
	if err := r.db.WithContext(ctx).
		Table("recommend_scores AS rs").
		Select("rs.job_id AS job_id, MAX(rs.score) AS score").
		Joins("JOIN jobs j ON j.id = rs.job_id").
		Where("rs.cv_id = ? AND j.is_public = ?", cvID, true).
		Group("rs.job_id").
		Order("score DESC").
		Order("rs.job_id DESC").
		Limit(topK).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *recommendScoreRepository) SetDB(db *gorm.DB) {
	r.db = db
}
