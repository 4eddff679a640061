package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shinyyama/goodjob-alarm/internal/model"
	"github.com/shinyyama/goodjob-alarm/internal/repository"
	"gorm.io/datatypes"
)

// ErrAlreadyExists is returned by the strict create when the dedupe key is taken.
var ErrAlreadyExists = errors.New("notification already exists")

// ValidationError rejects a request before anything is written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

type TargetInput struct {
	TargetID uint64
	Rank     int
}

// CreateInput describes one notification. Zero values mean "not provided":
// a blank DedupeKey is derived, a zero EventTime means now, and targets with
// a zero id or a rank below 1 are dropped.
type CreateInput struct {
	RecipientID        uint64
	Text               string
	Kind               model.Kind
	DedupeKey          string
	EventTime          time.Time
	Targets            []TargetInput
	TitleCode          string
	Params             map[string]interface{}
	ContextEntityID    uint64
	ContextEntityLabel string
}

type Outcome int

const (
	OutcomeCreated Outcome = iota + 1
	OutcomeAlreadyExists
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeAlreadyExists:
		return "already_exists"
	}
	return "unknown"
}

// WriteResult carries the stored notification only when Outcome is OutcomeCreated.
type WriteResult struct {
	Outcome      Outcome
	Notification *model.Notification
}

func (r WriteResult) Created() bool {
	return r.Outcome == OutcomeCreated
}

type NotificationWriter interface {
	// CreateIfAbsent treats an existing dedupe key as success.
	CreateIfAbsent(ctx context.Context, in CreateInput) (WriteResult, error)
	// CreateOrConflict reports an existing dedupe key as ErrAlreadyExists.
	CreateOrConflict(ctx context.Context, in CreateInput) (*model.Notification, error)
}

type notificationWriter struct {
	repo repository.NotificationRepository
	now  func() time.Time
}

// NewNotificationWriter builds the single write path for notifications. now may be nil.
func NewNotificationWriter(repo repository.NotificationRepository, now func() time.Time) NotificationWriter {
	if now == nil {
		now = time.Now
	}
	return &notificationWriter{repo: repo, now: now}
}

func (w *notificationWriter) CreateIfAbsent(ctx context.Context, in CreateInput) (WriteResult, error) {
	n, err := w.create(ctx, in)
	if errors.Is(err, repository.ErrDuplicateKey) {
		return WriteResult{Outcome: OutcomeAlreadyExists}, nil
	}
	if err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Outcome: OutcomeCreated, Notification: n}, nil
}

func (w *notificationWriter) CreateOrConflict(ctx context.Context, in CreateInput) (*model.Notification, error) {
	n, err := w.create(ctx, in)
	if errors.Is(err, repository.ErrDuplicateKey) {
		return nil, w.conflict(ctx, n.DedupeKey)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// conflict names the row holding key. The lookup is best effort: the holder may be gone already.
func (w *notificationWriter) conflict(ctx context.Context, key string) error {
	existing, err := w.repo.FindByDedupeKey(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: dedupe key %s", ErrAlreadyExists, key)
	}
	return fmt.Errorf("%w: dedupe key %s is held by notification %d", ErrAlreadyExists, key, existing.ID)
}

func (w *notificationWriter) create(ctx context.Context, in CreateInput) (*model.Notification, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}
	eventTime := in.EventTime
	if eventTime.IsZero() {
		eventTime = w.now()
	}
	key := strings.TrimSpace(in.DedupeKey)
	if key == "" {
		key = AutoDedupeKey(in.RecipientID, in.Kind, eventTime)
	}

	n := &model.Notification{
		RecipientID:        in.RecipientID,
		Kind:               in.Kind,
		DedupeKey:          key,
		Text:               in.Text,
		Status:             model.StatusQueued,
		SentAt:             eventTime,
		TitleCode:          in.TitleCode,
		ContextEntityLabel: in.ContextEntityLabel,
	}
	if len(in.Params) > 0 {
		n.Params = datatypes.JSONMap(in.Params)
	}
	if in.ContextEntityID != 0 {
		id := in.ContextEntityID
		n.ContextEntityID = &id
	}
	// n goes back with a duplicate key error so the caller can name the key.
	if err := w.repo.CreateWithTargets(ctx, n, normalizeTargets(in.Targets)); err != nil {
		return n, err
	}
	return n, nil
}

func validateCreate(in CreateInput) error {
	if strings.TrimSpace(in.Text) == "" {
		return &ValidationError{Field: "text", Message: "must not be blank"}
	}
	if in.Kind == "" {
		return &ValidationError{Field: "kind", Message: "must not be blank"}
	}
	if !in.Kind.Valid() {
		return &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown kind %q", in.Kind)}
	}
	if in.RecipientID == 0 {
		return &ValidationError{Field: "recipientId", Message: "must be set"}
	}
	return nil
}

// AutoDedupeKey bounds repeats from one caller within the same minute.
func AutoDedupeKey(recipientID uint64, kind model.Kind, eventTime time.Time) string {
	return fmt.Sprintf("AUTO:%d:%s:%s", recipientID, kind, eventTime.Truncate(time.Minute).Format("2006-01-02T15:04"))
}

// normalizeTargets drops malformed entries, keeps the lowest rank per target and returns the
// set in strictly increasing rank order.
func normalizeTargets(in []TargetInput) []model.NotificationTarget {
	type entry struct {
		TargetInput
		seq int
	}
	best := make(map[uint64]entry, len(in))
	for i, t := range in {
		if t.TargetID == 0 || t.Rank < 1 {
			continue
		}
		if cur, ok := best[t.TargetID]; ok && cur.Rank <= t.Rank {
			continue
		}
		best[t.TargetID] = entry{TargetInput: t, seq: i}
	}
	entries := make([]entry, 0, len(best))
	for _, e := range best {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Rank != entries[j].Rank {
			return entries[i].Rank < entries[j].Rank
		}
		return entries[i].seq < entries[j].seq
	})

	out := make([]model.NotificationTarget, 0, len(entries))
	lastRank := 0
	for _, e := range entries {
		if e.Rank == lastRank {
			continue
		}
		out = append(out, model.NotificationTarget{TargetID: e.TargetID, Rank: e.Rank})
		lastRank = e.Rank
	}
	return out
}

// RankedTargets assigns ranks 1..n to ids in the given order.
func RankedTargets(ids []uint64) []TargetInput {
	out := make([]TargetInput, 0, len(ids))
	for i, id := range ids {
		out = append(out, TargetInput{TargetID: id, Rank: i + 1})
	}
	return out
}
