package repository

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shinyyama/goodjob-alarm/internal/db/dbtest"
	"github.com/shinyyama/goodjob-alarm/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newNotification(recipient uint64, key string) *model.Notification {
	return &model.Notification{
		RecipientID: recipient,
		Kind:        model.KindScoreMatch,
		DedupeKey:   key,
		Text:        "hello",
		Status:      model.StatusQueued,
		SentAt:      time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC),
	}
}

func TestCreateWithTargetsDuplicateKey(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewNotificationRepository(conn)
	ctx := context.Background()

	first := newNotification(7, "K1")
	if err := repo.CreateWithTargets(ctx, first, []model.NotificationTarget{{TargetID: 10, Rank: 1}, {TargetID: 11, Rank: 2}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	second := newNotification(7, "K1")
	err := repo.CreateWithTargets(ctx, second, []model.NotificationTarget{{TargetID: 12, Rank: 1}})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	var cnt int64
	conn.Model(&model.Notification{}).Where("dedupe_key = ?", "K1").Count(&cnt)
	if cnt != 1 {
		t.Fatalf("rows=%d want 1", cnt)
	}
	targets, err := repo.ListTargets(ctx, first.ID)
	if err != nil {
		t.Fatalf("list targets: %v", err)
	}
	if len(targets) != 2 || targets[0].TargetID != 10 || targets[1].TargetID != 11 {
		t.Fatalf("unexpected targets: %+v", targets)
	}
}

func TestCreateWithTargetsRollsBackOnTargetFailure(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewNotificationRepository(conn)

	n := newNotification(7, "K2")
	err := repo.CreateWithTargets(context.Background(), n, []model.NotificationTarget{{TargetID: 10, Rank: 1}, {TargetID: 11, Rank: 1}})
	if err == nil {
		t.Fatalf("expected rank collision to fail")
	}
	if errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("rank collision must not look like a dedupe conflict")
	}
	if !IsDuplicateKey(err) {
		t.Fatalf("driver error lost from chain: %v", err)
	}
	var cnt int64
	conn.Model(&model.Notification{}).Count(&cnt)
	if cnt != 0 {
		t.Fatalf("notification row leaked: %d", cnt)
	}
}

// traceRecorder keeps the errors gorm reports to its logger.
type traceRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (l *traceRecorder) LogMode(logger.LogLevel) logger.Interface      { return l }
func (l *traceRecorder) Info(context.Context, string, ...interface{})  {}
func (l *traceRecorder) Warn(context.Context, string, ...interface{})  {}
func (l *traceRecorder) Error(context.Context, string, ...interface{}) {}

func (l *traceRecorder) Trace(_ context.Context, _ time.Time, _ func() (string, int64), err error) {
	if err == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *traceRecorder) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errs)
}

func TestCreateWithTargetsLogsOnlyUnexpectedFailures(t *testing.T) {
	rec := &traceRecorder{}
	conn := dbtest.Open(t).Session(&gorm.Session{Logger: rec})
	repo := NewNotificationRepository(conn)
	ctx := context.Background()

	if err := repo.CreateWithTargets(ctx, newNotification(7, "L1"), nil); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.CreateWithTargets(ctx, newNotification(7, "L1"), nil); !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if n := rec.count(); n != 0 {
		t.Fatalf("dedupe collision logged %d errors", n)
	}

	err := repo.CreateWithTargets(ctx, newNotification(7, "L2"), []model.NotificationTarget{{TargetID: 1, Rank: 1}, {TargetID: 2, Rank: 1}})
	if err == nil {
		t.Fatalf("expected rank collision to fail")
	}
	if n := rec.count(); n != 1 {
		t.Fatalf("target failure logged %d errors, want 1", n)
	}
}

func TestListFiltersAndReadState(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewNotificationRepository(conn)
	ctx := context.Background()

	a := newNotification(1, "A")
	b := newNotification(1, "B")
	b.Kind = model.KindDeadlineDue
	c := newNotification(2, "C")
	for _, n := range []*model.Notification{a, b, c} {
		if err := repo.CreateWithTargets(ctx, n, nil); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	list, total, err := repo.List(ctx, NotificationFilter{RecipientID: 1})
	if err != nil || total != 2 || len(list) != 2 {
		t.Fatalf("list: total=%d len=%d err=%v", total, len(list), err)
	}
	list, total, _ = repo.List(ctx, NotificationFilter{RecipientID: 1, Kind: model.KindDeadlineDue})
	if total != 1 || list[0].DedupeKey != "B" {
		t.Fatalf("kind filter: %+v", list)
	}
	if _, total, _ = repo.List(ctx, NotificationFilter{}); total != 3 {
		t.Fatalf("unfiltered total=%d", total)
	}

	if n, err := repo.MarkRead(ctx, a.ID); err != nil || n != 1 {
		t.Fatalf("mark read: n=%d err=%v", n, err)
	}
	if n, _ := repo.MarkRead(ctx, a.ID); n != 0 {
		t.Fatalf("second mark read touched %d rows", n)
	}
	if cnt, _ := repo.CountUnread(ctx, 1); cnt != 1 {
		t.Fatalf("unread=%d want 1", cnt)
	}
	if _, total, _ = repo.List(ctx, NotificationFilter{RecipientID: 1, UnreadOnly: true}); total != 1 {
		t.Fatalf("unread list total=%d", total)
	}
	if n, _ := repo.MarkAllRead(ctx, 1); n != 1 {
		t.Fatalf("mark all read touched %d rows", n)
	}
	if cnt, _ := repo.CountUnread(ctx, 1); cnt != 0 {
		t.Fatalf("unread=%d want 0", cnt)
	}
}

func TestMarkTargetClickedOnce(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewNotificationRepository(conn)
	ctx := context.Background()

	n := newNotification(3, "CLICK")
	if err := repo.CreateWithTargets(ctx, n, []model.NotificationTarget{{TargetID: 5, Rank: 1}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rows, err := repo.MarkTargetClicked(ctx, n.ID, 5); err != nil || rows != 1 {
		t.Fatalf("first click rows=%d err=%v", rows, err)
	}
	targets, _ := repo.ListTargets(ctx, n.ID)
	first := *targets[0].ClickedAt

	if rows, _ := repo.MarkTargetClicked(ctx, n.ID, 5); rows != 0 {
		t.Fatalf("second click rows=%d", rows)
	}
	targets, _ = repo.ListTargets(ctx, n.ID)
	if !targets[0].ClickedAt.Equal(first) {
		t.Fatalf("clicked_at moved from %v to %v", first, targets[0].ClickedAt)
	}
}

func TestUpdateReplacesTargetsAndDetectsKeyConflict(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewNotificationRepository(conn)
	ctx := context.Background()

	a := newNotification(1, "UA")
	b := newNotification(1, "UB")
	if err := repo.CreateWithTargets(ctx, a, []model.NotificationTarget{{TargetID: 1, Rank: 1}, {TargetID: 2, Rank: 2}}); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if err := repo.CreateWithTargets(ctx, b, nil); err != nil {
		t.Fatalf("create b: %v", err)
	}

	err := repo.Update(ctx, a.ID, map[string]interface{}{"text": "changed"}, []model.NotificationTarget{{TargetID: 9, Rank: 1}}, true)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	targets, _ := repo.ListTargets(ctx, a.ID)
	if len(targets) != 1 || targets[0].TargetID != 9 {
		t.Fatalf("targets not replaced: %+v", targets)
	}
	got, _ := repo.FindByID(ctx, a.ID)
	if got.Text != "changed" {
		t.Fatalf("text=%q", got.Text)
	}

	err = repo.Update(ctx, b.ID, map[string]interface{}{"dedupe_key": "UA"}, nil, false)
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestDeleteRemovesTargets(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewNotificationRepository(conn)
	ctx := context.Background()

	n := newNotification(1, "DEL")
	if err := repo.CreateWithTargets(ctx, n, []model.NotificationTarget{{TargetID: 4, Rank: 1}}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if rows, err := repo.Delete(ctx, n.ID); err != nil || rows != 1 {
		t.Fatalf("delete rows=%d err=%v", rows, err)
	}
	var cnt int64
	conn.Model(&model.NotificationTarget{}).Where("notification_id = ?", n.ID).Count(&cnt)
	if cnt != 0 {
		t.Fatalf("targets left behind: %d", cnt)
	}
	if rows, _ := repo.Delete(ctx, n.ID); rows != 0 {
		t.Fatalf("second delete rows=%d", rows)
	}
}

func TestIsDuplicateKey(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrDuplicateKey, true},
		{"sqlite text", errors.New("constraint failed: UNIQUE constraint failed: notifications.dedupe_key (2067)"), true},
		{"mysql 1062", fmt.Errorf("insert: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}), true},
		{"mysql other", &mysql.MySQLError{Number: 1213, Message: "Deadlock found"}, false},
		{"other", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDuplicateKey(tt.err); got != tt.want {
				t.Fatalf("got=%v want=%v", got, tt.want)
			}
		})
	}
}

func TestListScoredTargets(t *testing.T) {
	conn := dbtest.Open(t)
	dbtest.MustCreate(t, conn,
		&model.Job{ID: 1, Title: "Backend", CompanyName: "Acme", IsPublic: true},
		&model.Job{ID: 2, Title: "Frontend", CompanyName: "Beta", IsPublic: true},
		&model.Job{ID: 3, Title: "Hidden", CompanyName: "Gamma", IsPublic: false},
		&model.RecommendScore{CvID: 9, JobID: 1, Score: 81},
		&model.RecommendScore{CvID: 9, JobID: 1, Score: 88},
		&model.RecommendScore{CvID: 8, JobID: 2, Score: 99},
	)
	repo := NewNotificationRepository(conn)
	ctx := context.Background()
	n := newNotification(4, "SCORED")
	targets := []model.NotificationTarget{{TargetID: 2, Rank: 1}, {TargetID: 3, Rank: 2}, {TargetID: 1, Rank: 3}, {TargetID: 77, Rank: 4}}
	if err := repo.CreateWithTargets(ctx, n, targets); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.ListScoredTargets(ctx, n.ID, 9)
	if err != nil {
		t.Fatalf("scored: %v", err)
	}
	want := []model.ScoredTarget{
		{TargetID: 2, Rank: 1, Title: "Frontend", CompanyName: "Beta", Score: 0},
		{TargetID: 1, Rank: 3, Title: "Backend", CompanyName: "Acme", Score: 88},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got=%+v\nwant=%+v", got, want)
	}

	got, err = repo.ListScoredTargets(ctx, n.ID, 0)
	if err != nil {
		t.Fatalf("unscored: %v", err)
	}
	if len(got) != 2 || got[0].Score != 0 || got[1].Score != 0 || got[1].TargetID != 1 {
		t.Fatalf("unscored=%+v", got)
	}
}
