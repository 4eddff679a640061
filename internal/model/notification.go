package model

import (
	"time"

	"gorm.io/datatypes"
)

type Kind string

const (
	KindDeadlineDue Kind = "DEADLINE_DUE"
	KindScoreMatch  Kind = "SCORE_MATCH"
	KindPopular     Kind = "POPULAR"
)

func (k Kind) Valid() bool {
	switch k {
	case KindDeadlineDue, KindScoreMatch, KindPopular:
		return true
	}
	return false
}

type Status string

const (
	StatusQueued Status = "QUEUED"
	StatusSent   Status = "SENT"
)

func (s Status) Valid() bool {
	return s == StatusQueued || s == StatusSent
}

// Notification is one delivered alert. DedupeKey is unique across the table and is the only
// idempotency token; everything else may repeat.
type Notification struct {
	ID                 uint64            `gorm:"primaryKey;autoIncrement"`
	RecipientID        uint64            `gorm:"column:recipient_id;not null;index:idx_notifications_recipient_created,priority:1;index:idx_notifications_recipient_read,priority:1"`
	Kind               Kind              `gorm:"column:kind;size:32;not null"`
	DedupeKey          string            `gorm:"column:dedupe_key;size:255;not null;uniqueIndex:uk_notifications_dedupe"`
	Text               string            `gorm:"column:text;type:text;not null"`
	Read               bool              `gorm:"column:is_read;not null;index:idx_notifications_recipient_read,priority:2"`
	ReadAt             *time.Time        `gorm:"column:read_at"`
	Status             Status            `gorm:"column:status;size:16;not null"`
	SentAt             time.Time         `gorm:"column:sent_at;not null"`
	TitleCode          string            `gorm:"column:title_code;size:64"`
	Params             datatypes.JSONMap `gorm:"column:params"`
	ContextEntityID    *uint64           `gorm:"column:context_entity_id"`
	ContextEntityLabel string            `gorm:"column:context_entity_label;size:255"`
	CreatedAt          time.Time         `gorm:"autoCreateTime;index:idx_notifications_recipient_created,priority:2"`
}

func (Notification) TableName() string {
	return "notifications"
}

// NotificationTarget is a ranked reference from a notification to a job listing.
// The set for one notification is only ever inserted or replaced as a whole.
type NotificationTarget struct {
	NotificationID uint64     `gorm:"column:notification_id;primaryKey;autoIncrement:false;uniqueIndex:uk_notification_targets_rank,priority:1"`
	TargetID       uint64     `gorm:"column:target_id;primaryKey;autoIncrement:false;index:idx_notification_targets_target"`
	Rank           int        `gorm:"column:target_rank;not null;uniqueIndex:uk_notification_targets_rank,priority:2"`
	ClickedAt      *time.Time `gorm:"column:clicked_at"`
}

func (NotificationTarget) TableName() string {
	return "notification_targets"
}
