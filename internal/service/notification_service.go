package service

import (
	"context"
	"errors"
	"strings"

	"github.com/shinyyama/goodjob-alarm/internal/model"
	"github.com/shinyyama/goodjob-alarm/internal/repository"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)

// Actor is the caller of a read-side operation. Admins may touch any recipient's notifications.
type Actor struct {
	UserID uint64
	Admin  bool
}

func (a Actor) owns(n *model.Notification) bool {
	return a.Admin || (a.UserID != 0 && a.UserID == n.RecipientID)
}

type ListQuery struct {
	RecipientID uint64
	UnreadOnly  bool
	Kind        model.Kind
	Limit       int
	Offset      int
}

// NotificationDetail is a notification with its targets in rank order.
type NotificationDetail struct {
	model.Notification
	Targets []model.NotificationTarget
}

// UpdateInput is a partial update; nil fields are left untouched. A non-nil Targets
// replaces the whole target set, an empty slice clears it.
type UpdateInput struct {
	Text               *string
	Kind               *model.Kind
	DedupeKey          *string
	Status             *model.Status
	TitleCode          *string
	Params             map[string]interface{}
	ContextEntityID    *uint64
	ContextEntityLabel *string
	Targets            []TargetInput
}

type NotificationService interface {
	List(ctx context.Context, q ListQuery) ([]NotificationDetail, int64, error)
	Get(ctx context.Context, actor Actor, id uint64) (*NotificationDetail, error)
	CountUnread(ctx context.Context, recipientID uint64) (int64, error)
	MarkRead(ctx context.Context, actor Actor, id uint64) error
	MarkAllRead(ctx context.Context, recipientID uint64) (int64, error)
	ClickTarget(ctx context.Context, actor Actor, id, targetID uint64) error
	Update(ctx context.Context, actor Actor, id uint64, in UpdateInput) (*NotificationDetail, error)
	Delete(ctx context.Context, actor Actor, id uint64) error
	ListScoredTargets(ctx context.Context, actor Actor, id uint64) ([]model.ScoredTarget, error)
}

type notificationService struct {
	repo repository.NotificationRepository
}

func NewNotificationService(repo repository.NotificationRepository) NotificationService {
	return &notificationService{repo: repo}
}

func (s *notificationService) List(ctx context.Context, q ListQuery) ([]NotificationDetail, int64, error) {
	list, total, err := s.repo.List(ctx, repository.NotificationFilter{
		RecipientID: q.RecipientID,
		UnreadOnly:  q.UnreadOnly,
		Kind:        q.Kind,
		Limit:       q.Limit,
		Offset:      q.Offset,
	})
	if err != nil {
		return nil, 0, err
	}
	ids := make([]uint64, 0, len(list))
	for _, n := range list {
		ids = append(ids, n.ID)
	}
	targets, err := s.repo.ListTargets(ctx, ids...)
	if err != nil {
		return nil, 0, err
	}
	byID := make(map[uint64][]model.NotificationTarget, len(list))
	for _, t := range targets {
		byID[t.NotificationID] = append(byID[t.NotificationID], t)
	}
	out := make([]NotificationDetail, 0, len(list))
	for _, n := range list {
		out = append(out, NotificationDetail{Notification: n, Targets: byID[n.ID]})
	}
	return out, total, nil
}

func (s *notificationService) Get(ctx context.Context, actor Actor, id uint64) (*NotificationDetail, error) {
	n, err := s.findOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, n)
}

func (s *notificationService) CountUnread(ctx context.Context, recipientID uint64) (int64, error) {
	if recipientID == 0 {
		return 0, nil
	}
	return s.repo.CountUnread(ctx, recipientID)
}

func (s *notificationService) MarkRead(ctx context.Context, actor Actor, id uint64) error {
	if _, err := s.findOwned(ctx, actor, id); err != nil {
		return err
	}
	_, err := s.repo.MarkRead(ctx, id)
	return err
}

func (s *notificationService) MarkAllRead(ctx context.Context, recipientID uint64) (int64, error) {
	if recipientID == 0 {
		return 0, nil
	}
	return s.repo.MarkAllRead(ctx, recipientID)
}

// ClickTarget records the first click on a target and marks the notification read.
func (s *notificationService) ClickTarget(ctx context.Context, actor Actor, id, targetID uint64) error {
	n, err := s.findOwned(ctx, actor, id)
	if err != nil {
		return err
	}
	targets, err := s.repo.ListTargets(ctx, n.ID)
	if err != nil {
		return err
	}
	found := false
	for _, t := range targets {
		if t.TargetID == targetID {
			found = true
			break
		}
	}
	if !found {
		return ErrNotFound
	}
	if _, err := s.repo.MarkTargetClicked(ctx, n.ID, targetID); err != nil {
		return err
	}
	_, err = s.repo.MarkRead(ctx, n.ID)
	return err
}

func (s *notificationService) Update(ctx context.Context, actor Actor, id uint64, in UpdateInput) (*NotificationDetail, error) {
	if !actor.Admin {
		return nil, ErrForbidden
	}
	if _, err := s.findOwned(ctx, actor, id); err != nil {
		return nil, err
	}
	fields, err := updateFields(in)
	if err != nil {
		return nil, err
	}
	var targets []model.NotificationTarget
	replace := in.Targets != nil
	if replace {
		targets = normalizeTargets(in.Targets)
	}
	if err := s.repo.Update(ctx, id, fields, targets, replace); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			return nil, ErrAlreadyExists
		}
		return nil, err
	}
	n, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, n)
}

func (s *notificationService) Delete(ctx context.Context, actor Actor, id uint64) error {
	if _, err := s.findOwned(ctx, actor, id); err != nil {
		return err
	}
	_, err := s.repo.Delete(ctx, id)
	return err
}

// ListScoredTargets returns the public jobs a notification points at. Score matches tied to a
// résumé carry that résumé's best score per job.
func (s *notificationService) ListScoredTargets(ctx context.Context, actor Actor, id uint64) ([]model.ScoredTarget, error) {
	n, err := s.findOwned(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	var cvID uint64
	if n.Kind == model.KindScoreMatch && n.ContextEntityID != nil {
		cvID = *n.ContextEntityID
	}
	return s.repo.ListScoredTargets(ctx, n.ID, cvID)
}

func (s *notificationService) findOwned(ctx context.Context, actor Actor, id uint64) (*model.Notification, error) {
	n, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !actor.owns(n) {
		return nil, ErrForbidden
	}
	return n, nil
}

func (s *notificationService) detail(ctx context.Context, n *model.Notification) (*NotificationDetail, error) {
	targets, err := s.repo.ListTargets(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	return &NotificationDetail{Notification: *n, Targets: targets}, nil
}

func updateFields(in UpdateInput) (map[string]interface{}, error) {
	fields := map[string]interface{}{}
	if in.Text != nil {
		if strings.TrimSpace(*in.Text) == "" {
			return nil, &ValidationError{Field: "text", Message: "must not be blank"}
		}
		fields["text"] = *in.Text
	}
	if in.Kind != nil {
		if !in.Kind.Valid() {
			return nil, &ValidationError{Field: "kind", Message: "unknown kind"}
		}
		fields["kind"] = *in.Kind
	}
	if in.DedupeKey != nil {
		key := strings.TrimSpace(*in.DedupeKey)
		if key == "" {
			return nil, &ValidationError{Field: "dedupeKey", Message: "must not be blank"}
		}
		fields["dedupe_key"] = key
	}
	if in.Status != nil {
		if !in.Status.Valid() {
			return nil, &ValidationError{Field: "status", Message: "unknown status"}
		}
		fields["status"] = *in.Status
	}
	if in.TitleCode != nil {
		fields["title_code"] = *in.TitleCode
	}
	if in.Params != nil {
		fields["params"] = datatypes.JSONMap(in.Params)
	}
	if in.ContextEntityID != nil {
		if *in.ContextEntityID == 0 {
			fields["context_entity_id"] = nil
		} else {
			fields["context_entity_id"] = *in.ContextEntityID
		}
	}
	if in.ContextEntityLabel != nil {
		fields["context_entity_label"] = *in.ContextEntityLabel
	}
	return fields, nil
}
