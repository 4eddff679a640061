package repository

import (
	"context"
	"fmt"

	"github.com/shinyyama/goodjob-alarm/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type NotificationFilter struct {
	RecipientID uint64 // 0 matches every recipient
	UnreadOnly  bool
	Kind        model.Kind
	Limit       int
	Offset      int
}

type NotificationRepository interface {
	CreateWithTargets(ctx context.Context, n *model.Notification, targets []model.NotificationTarget) error
	FindByID(ctx context.Context, id uint64) (*model.Notification, error)
	FindByDedupeKey(ctx context.Context, key string) (*model.Notification, error)
	List(ctx context.Context, f NotificationFilter) ([]model.Notification, int64, error)
	ListTargets(ctx context.Context, notificationIDs ...uint64) ([]model.NotificationTarget, error)
	ListScoredTargets(ctx context.Context, notificationID, cvID uint64) ([]model.ScoredTarget, error)
	CountUnread(ctx context.Context, recipientID uint64) (int64, error)
	MarkRead(ctx context.Context, id uint64) (int64, error)
	MarkAllRead(ctx context.Context, recipientID uint64) (int64, error)
	MarkTargetClicked(ctx context.Context, notificationID, targetID uint64) (int64, error)
	Update(ctx context.Context, id uint64, fields map[string]interface{}, targets []model.NotificationTarget, replaceTargets bool) error
	Delete(ctx context.Context, id uint64) (int64, error)
	SetDB(db *gorm.DB)
}

type notificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

// CreateWithTargets inserts the notification and its targets in one transaction on the repository's own
// handle. A dedupe key collision rolls back only this transaction and returns ErrDuplicateKey.
func (r *notificationRepository) CreateWithTargets(ctx context.Context, n *model.Notification, targets []model.NotificationTarget) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// a taken dedupe key is an expected outcome, keep it out of the gorm error log
		quiet := tx.Session(&gorm.Session{Logger: logger.Discard})
		if err := quiet.Create(n).Error; err != nil {
			if IsDuplicateKey(err) {
				return ErrDuplicateKey
			}
			return fmt.Errorf("insert notification: %w", err)
		}
		if len(targets) == 0 {
			return nil
		}
		for i := range targets {
			targets[i].NotificationID = n.ID
		}
		if err := tx.Create(&targets).Error; err != nil {
			return fmt.Errorf("insert targets: %w", err)
		}
		return nil
	})
}

func (r *notificationRepository) FindByID(ctx context.Context, id uint64) (*model.Notification, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var n model.Notification
	if err := r.db.WithContext(ctx).First(&n, id).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *notificationRepository) FindByDedupeKey(ctx context.Context, key string) (*model.Notification, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	var n model.Notification
	if err := r.db.WithContext(ctx).Where("dedupe_key = ?", key).First(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *notificationRepository) List(ctx context.Context, f NotificationFilter) ([]model.Notification, int64, error) {
	if r.db == nil {
		return nil, 0, ErrDBNotReady
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	q := r.db.WithContext(ctx).Model(&model.Notification{})
	if f.RecipientID != 0 {
		q = q.Where("recipient_id = ?", f.RecipientID)
	}
	if f.UnreadOnly {
		q = q.Where("is_read = ?", false)
	}
	if f.Kind != "" {
		q = q.Where("kind = ?", f.Kind)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []model.Notification
	if err := q.Order("created_at DESC").Order("id DESC").Limit(f.Limit).Offset(f.Offset).Find(&list).Error; err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// ListTargets returns targets grouped by notification, each group in rank order.
func (r *notificationRepository) ListTargets(ctx context.Context, notificationIDs ...uint64) ([]model.NotificationTarget, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	if len(notificationIDs) == 0 {
		return nil, nil
	}
	var list []model.NotificationTarget
	if err := r.db.WithContext(ctx).
		Where("notification_id IN ?", notificationIDs).
		Order("notification_id ASC").
		Order("target_rank ASC").
		Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

// ListScoredTargets joins the targets of one notification with their jobs in rank order. Targets
// whose job is missing or not public are left out. A zero cvID scores every target 0.
func (r *notificationRepository) ListScoredTargets(ctx context.Context, notificationID, cvID uint64) ([]model.ScoredTarget, error) {
	if r.db == nil {
		return nil, ErrDBNotReady
	}
	q := r.db.WithContext(ctx).
		Table("notification_targets AS nt").
		Joins("JOIN jobs j ON j.id = nt.target_id").
		Where("nt.notification_id = ? AND j.is_public = ?", notificationID, true)
	if cvID != 0 {
		best := r.db.Table("recommend_scores").
			Select("job_id, MAX(score) AS score").
			Where("cv_id = ?", cvID).
			Group("job_id")
		q = q.Select("nt.target_id, nt.target_rank, j.title, j.company_name, COALESCE(s.score, 0) AS score, nt.clicked_at").
			Joins("LEFT JOIN (?) s ON s.job_id = nt.target_id", best)
	} else {
		q = q.Select("nt.target_id, nt.target_rank, j.title, j.company_name, 0 AS score, nt.clicked_at")
	}
	var list []model.ScoredTarget
	if err := q.Order("nt.target_rank ASC").Scan(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *notificationRepository) CountUnread(ctx context.Context, recipientID uint64) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	var cnt int64
	if err := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Count(&cnt).Error; err != nil {
		return 0, err
	}
	return cnt, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, id uint64) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	res := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("id = ? AND is_read = ?", id, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": r.db.NowFunc()})
	return res.RowsAffected, res.Error
}

func (r *notificationRepository) MarkAllRead(ctx context.Context, recipientID uint64) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	res := r.db.WithContext(ctx).
		Model(&model.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": r.db.NowFunc()})
	return res.RowsAffected, res.Error
}

// MarkTargetClicked stamps clicked_at only on the first click.
func (r *notificationRepository) MarkTargetClicked(ctx context.Context, notificationID, targetID uint64) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	res := r.db.WithContext(ctx).
		Model(&model.NotificationTarget{}).
		Where("notification_id = ? AND target_id = ? AND clicked_at IS NULL", notificationID, targetID).
		Update("clicked_at", r.db.NowFunc())
	return res.RowsAffected, res.Error
}

func (r *notificationRepository) Update(ctx context.Context, id uint64, fields map[string]interface{}, targets []model.NotificationTarget, replaceTargets bool) error {
	if r.db == nil {
		return ErrDBNotReady
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(fields) > 0 {
			if err := tx.Model(&model.Notification{}).Where("id = ?", id).Updates(fields).Error; err != nil {
				if IsDuplicateKey(err) {
					return ErrDuplicateKey
				}
				return err
			}
		}
		if !replaceTargets {
			return nil
		}
		if err := tx.Where("notification_id = ?", id).Delete(&model.NotificationTarget{}).Error; err != nil {
			return err
		}
		if len(targets) == 0 {
			return nil
		}
		for i := range targets {
			targets[i].NotificationID = id
		}
		return tx.Create(&targets).Error
	})
}

func (r *notificationRepository) Delete(ctx context.Context, id uint64) (int64, error) {
	if r.db == nil {
		return 0, ErrDBNotReady
	}
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("notification_id = ?", id).Delete(&model.NotificationTarget{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&model.Notification{}, id)
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (r *notificationRepository) SetDB(db *gorm.DB) {
	r.db = db
}
