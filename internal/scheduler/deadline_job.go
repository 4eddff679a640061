package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shinyyama/goodjob-alarm/internal/config"
	"github.com/shinyyama/goodjob-alarm/internal/model"
	"github.com/shinyyama/goodjob-alarm/internal/service"
	"go.uber.org/zap"
)

const (
	DeadlineJobName       = "deadline"
	deadlineTitleCode     = "DEADLINE_DUE_SUMMARY"
	deadlineDedupePattern = "DEADLINE:%d:%s"
)

// DeadlineJob sends each user one daily digest of applications due within the window.
type DeadlineJob struct {
	source DueItemSource
	writer NotificationCreator
	cfg    config.DeadlineConfig
	loc    *time.Location
	now    func() time.Time
	log    *zap.Logger
}

func NewDeadlineJob(source DueItemSource, writer NotificationCreator, cfg config.DeadlineConfig, loc *time.Location, now func() time.Time, log *zap.Logger) *DeadlineJob {
	if now == nil {
		now = time.Now
	}
	if cfg.WindowDays < 0 {
		cfg.WindowDays = 0
	}
	return &DeadlineJob{source: source, writer: writer, cfg: cfg, loc: loc, now: now, log: log.Named("deadline_job")}
}

func (j *DeadlineJob) Name() string { return DeadlineJobName }

type dueEntry struct {
	model.DueItem
	offset int
}

func (j *DeadlineJob) Run(ctx context.Context) error {
	log := runLogger(ctx, j.log)
	today := startOfDay(j.now(), j.loc)
	end := today.AddDate(0, 0, j.cfg.WindowDays)

	items, err := j.source.FindDueItemsBetween(ctx, today, end)
	if err != nil {
		return fmt.Errorf("find due items: %w", err)
	}

	byUser := make(map[uint64][]dueEntry)
	for _, it := range items {
		offset := daysBetween(today, calendarDay(it.DueDate, j.loc))
		if offset < 0 || offset > j.cfg.WindowDays {
			continue
		}
		byUser[it.UserID] = append(byUser[it.UserID], dueEntry{DueItem: it, offset: offset})
	}
	users := make([]uint64, 0, len(byUser))
	for uid := range byUser {
		users = append(users, uid)
	}
	sort.Slice(users, func(a, b int) bool { return users[a] < users[b] })

	var sum RunSummary
	dateKey := today.Format("2006-01-02")
	for _, uid := range users {
		if err := ctx.Err(); err != nil {
			log.Warn("deadline run interrupted", append(sum.fields(), zap.Error(err))...)
			return err
		}
		sum.Considered++
		in := j.buildInput(uid, byUser[uid], dateKey)
		res, err := j.writer.CreateIfAbsent(ctx, in)
		sum.record(res, err)
		logWrite(log, uid, res, err)
		if err != nil {
			log.Error("deadline notification failed", zap.Uint64("recipient_id", uid), zap.Error(err))
		}
	}
	log.Info("deadline run finished", append(sum.fields(),
		zap.String("window_start", dateKey),
		zap.String("window_end", end.Format("2006-01-02")),
		zap.Int("items", len(items)),
	)...)
	return nil
}

func (j *DeadlineJob) buildInput(uid uint64, entries []dueEntry, dateKey string) service.CreateInput {
	sortDueEntries(entries)
	if j.cfg.MaxItemsPerUser > 0 && len(entries) > j.cfg.MaxItemsPerUser {
		entries = entries[:j.cfg.MaxItemsPerUser]
	}

	counts := make([]int, j.cfg.WindowDays+1)
	ids := make([]uint64, 0, len(entries))
	for _, e := range entries {
		counts[e.offset]++
		ids = append(ids, e.JobID)
	}
	params := map[string]interface{}{"total": len(entries)}
	parts := make([]string, 0, len(counts))
	for d, c := range counts {
		params[fmt.Sprintf("d%d", d)] = c
		parts = append(parts, fmt.Sprintf("D%d:%d", d, c))
	}

	return service.CreateInput{
		RecipientID: uid,
		Text:        fmt.Sprintf("Application deadlines approaching: %d (%s)", len(entries), strings.Join(parts, ", ")),
		Kind:        model.KindDeadlineDue,
		DedupeKey:   fmt.Sprintf(deadlineDedupePattern, uid, dateKey),
		EventTime:   j.now(),
		Targets:     service.RankedTargets(ids),
		TitleCode:   deadlineTitleCode,
		Params:      params,
	}
}

// sortDueEntries orders by day offset, due date, company then title (blank last), job id.
func sortDueEntries(entries []dueEntry) {
	sort.SliceStable(entries, func(a, b int) bool {
		x, y := entries[a], entries[b]
		if x.offset != y.offset {
			return x.offset < y.offset
		}
		if !x.DueDate.Equal(y.DueDate) {
			return x.DueDate.Before(y.DueDate)
		}
		if c := compareBlankLast(x.CompanyName, y.CompanyName); c != 0 {
			return c < 0
		}
		if c := compareBlankLast(x.Title, y.Title); c != 0 {
			return c < 0
		}
		return x.JobID < y.JobID
	})
}

func compareBlankLast(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return 1
	case b == "":
		return -1
	}
	return strings.Compare(a, b)
}
