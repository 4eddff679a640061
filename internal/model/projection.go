package model

import "time"

// The tables below belong to the job/CV services. This engine only reads them; the gorm models exist
// so local setups and tests can create and seed them.

type Job struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	Title       string    `gorm:"size:255;not null"`
	CompanyName string    `gorm:"column:company_name;size:255"`
	IsPublic    bool      `gorm:"column:is_public;not null;index:idx_jobs_public_created,priority:1"`
	CreatedAt   time.Time `gorm:"index:idx_jobs_public_created,priority:2"`
}

func (Job) TableName() string {
	return "jobs"
}

type Cv struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	UserID     uint64    `gorm:"column:user_id;not null;index"`
	FileName   string    `gorm:"column:file_name;size:255"`
	UploadedAt time.Time `gorm:"column:uploaded_at"`
}

func (Cv) TableName() string {
	return "cvs"
}

type Application struct {
	ID           uint64     `gorm:"primaryKey;autoIncrement"`
	UserID       uint64     `gorm:"column:user_id;not null;index"`
	JobID        uint64     `gorm:"column:job_id;not null"`
	ApplyDueDate *time.Time `gorm:"column:apply_due_date;type:date;index"`
	Status       string     `gorm:"column:status;size:32"`
}

func (Application) TableName() string {
	return "applications"
}

type RecommendScore struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	CvID      uint64    `gorm:"column:cv_id;not null;index:idx_recommend_scores_cv_job,priority:1"`
	JobID     uint64    `gorm:"column:job_id;not null;index:idx_recommend_scores_cv_job,priority:2"`
	Score     float64   `gorm:"column:score;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (RecommendScore) TableName() string {
	return "recommend_scores"
}

// DueItem is one application whose deadline falls inside the scan window.
type DueItem struct {
	UserID      uint64
	JobID       uint64
	DueDate     time.Time
	Title       string
	CompanyName string
}

type CvOwner struct {
	CvID   uint64
	UserID uint64
}

// ScoredCandidate is a job scored against one résumé by the external scoring service.
type ScoredCandidate struct {
	JobID uint64  `json:"jobId"`
	Score float64 `json:"score"`
}

// ScoredPair is one row of the per (user, résumé) top-N ranking.
type ScoredPair struct {
	UserID      uint64
	CvID        uint64
	JobID       uint64
	Score       float64
	ScoredAt    time.Time
	Title       string
	CompanyName string
}

// ScoredTarget is one target of a notification joined with its public job listing. Score is the
// best stored score for the notification's résumé, zero when none applies.
type ScoredTarget struct {
	TargetID    uint64
	Rank        int `gorm:"column:target_rank"`
	Title       string
	CompanyName string
	Score       float64
	ClickedAt   *time.Time
}
