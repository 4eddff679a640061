// Package scheduler holds the periodic alarm jobs and the cron runner that keeps each of them
// from overlapping with itself.
package scheduler

import (
	"context"
	"math"
	"time"

	"github.com/shinyyama/goodjob-alarm/internal/model"
	"github.com/shinyyama/goodjob-alarm/internal/runctx"
	"github.com/shinyyama/goodjob-alarm/internal/service"
	"go.uber.org/zap"
)

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type NotificationCreator interface {
	CreateIfAbsent(ctx context.Context, in service.CreateInput) (service.WriteResult, error)
}

type DueItemSource interface {
	FindDueItemsBetween(ctx context.Context, start, end time.Time) ([]model.DueItem, error)
}

type NewJobSource interface {
	FindNewPublicIDsSince(ctx context.Context, since time.Time) ([]uint64, error)
}

type CvOwnerSource interface {
	FindAllOwnerPairs(ctx context.Context) ([]model.CvOwner, error)
}

type ScoreLookup interface {
	FetchScoredCandidates(ctx context.Context, cvID uint64, topK int) ([]model.ScoredCandidate, error)
}

type TopNScoreSource interface {
	FindTopNPerUserAndCv(ctx context.Context, n int) ([]model.ScoredPair, error)
}

type CvLabelResolver interface {
	FindFileNameByID(ctx context.Context, cvID uint64) (string, bool, error)
}

// RunSummary counts per-recipient outcomes of one run.
type RunSummary struct {
	Considered     int
	Created        int
	AlreadyExisted int
	Failed         int
}

func (s *RunSummary) record(res service.WriteResult, err error) {
	switch {
	case err != nil:
		s.Failed++
	case res.Created():
		s.Created++
	default:
		s.AlreadyExisted++
	}
}

func (s RunSummary) fields() []zap.Field {
	return []zap.Field{
		zap.Int("considered", s.Considered),
		zap.Int("created", s.Created),
		zap.Int("already_existed", s.AlreadyExisted),
		zap.Int("failed", s.Failed),
	}
}

// runLogger tags base with the job and run id carried by ctx.
func runLogger(ctx context.Context, base *zap.Logger) *zap.Logger {
	fields := []zap.Field{zap.String("run_id", runctx.RunID(ctx))}
	if job := runctx.Job(ctx); job != "" {
		fields = append(fields, zap.String("job", job))
	}
	return base.With(fields...)
}

// logWrite reports one recipient's write. Failures are left to the caller, which knows the context.
func logWrite(log *zap.Logger, recipientID uint64, res service.WriteResult, err error) {
	if err != nil {
		return
	}
	log.Debug("notification written", zap.Uint64("recipient_id", recipientID), zap.Stringer("outcome", res.Outcome))
}

const cvLabelPlaceholder = "My résumé"

func startOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// calendarDay reads the date fields of t as they are stored, without converting zones.
func calendarDay(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func daysBetween(from, to time.Time) int {
	// rounding absorbs DST shifts
	return int(math.Round(to.Sub(from).Hours() / 24))
}

func resolveLabel(ctx context.Context, r CvLabelResolver, cvID uint64, log *zap.Logger) string {
	if r == nil {
		return cvLabelPlaceholder
	}
	name, ok, err := r.FindFileNameByID(ctx, cvID)
	if err != nil {
		log.Warn("cv label lookup failed", zap.Uint64("cv_id", cvID), zap.Error(err))
		return cvLabelPlaceholder
	}
	if !ok {
		return cvLabelPlaceholder
	}
	return name
}
