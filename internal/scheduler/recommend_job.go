package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/shinyyama/goodjob-alarm/internal/config"
	"github.com/shinyyama/goodjob-alarm/internal/cursor"
	"github.com/shinyyama/goodjob-alarm/internal/model"
	"github.com/shinyyama/goodjob-alarm/internal/service"
	"go.uber.org/zap"
)

const (
	RecommendJobName       = "recommend"
	RecommendCursorName    = "recommend:lastRunAt"
	recommendTitleCode     = "SCORE_MATCH_NEW"
	recommendDedupePattern = "SCORE_MATCH_NEW:%d:%s"
)

type RecommendSources struct {
	Jobs   NewJobSource
	Cvs    CvOwnerSource
	Scores ScoreLookup
	Labels CvLabelResolver
}

// RecommendJob notifies users about public jobs posted since the last completed run that
// score at or above the threshold against any of their résumés.
type RecommendJob struct {
	src    RecommendSources
	cursor cursor.Store
	writer NotificationCreator
	cfg    config.RecommendConfig
	loc    *time.Location
	now    func() time.Time
	log    *zap.Logger
}

func NewRecommendJob(src RecommendSources, store cursor.Store, writer NotificationCreator, cfg config.RecommendConfig, loc *time.Location, now func() time.Time, log *zap.Logger) *RecommendJob {
	if now == nil {
		now = time.Now
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = time.Hour
	}
	return &RecommendJob{src: src, cursor: store, writer: writer, cfg: cfg, loc: loc, now: now, log: log.Named("recommend_job")}
}

func (j *RecommendJob) Name() string { return RecommendJobName }

type recipientHits struct {
	best map[uint64]float64
	cvs  map[uint64]struct{}
}

func (j *RecommendJob) Run(ctx context.Context) error {
	log := runLogger(ctx, j.log)
	start := j.now()
	since := j.readCursor(ctx, start, log)

	newIDs, err := j.src.Jobs.FindNewPublicIDsSince(ctx, since)
	if err != nil {
		return fmt.Errorf("list new jobs since %s: %w", since.Format(time.RFC3339), err)
	}
	if len(newIDs) == 0 {
		j.advance(ctx, start, log)
		log.Info("no new public jobs", zap.Time("since", since))
		return nil
	}

	owners, err := j.src.Cvs.FindAllOwnerPairs(ctx)
	if err != nil {
		return fmt.Errorf("list cv owners: %w", err)
	}
	if len(owners) == 0 {
		j.advance(ctx, start, log)
		log.Info("no résumés to evaluate", zap.Int("new_jobs", len(newIDs)))
		return nil
	}

	fresh := make(map[uint64]struct{}, len(newIDs))
	for _, id := range newIDs {
		fresh[id] = struct{}{}
	}

	var sum RunSummary
	lookupFailures := 0
	byUser := make(map[uint64]*recipientHits)
	for _, o := range owners {
		if err := ctx.Err(); err != nil {
			log.Warn("recommend run interrupted, cursor kept", zap.Error(err))
			return err
		}
		list, err := j.src.Scores.FetchScoredCandidates(ctx, o.CvID, j.cfg.TopK)
		if err != nil {
			lookupFailures++
			log.Warn("score lookup failed", zap.Uint64("cv_id", o.CvID), zap.Uint64("recipient_id", o.UserID), zap.Error(err))
			continue
		}
		hits := selectHits(list, fresh, j.cfg.Threshold, j.cfg.DisplayLimit)
		if len(hits) == 0 {
			continue
		}
		h, ok := byUser[o.UserID]
		if !ok {
			h = &recipientHits{best: make(map[uint64]float64), cvs: make(map[uint64]struct{})}
			byUser[o.UserID] = h
		}
		h.cvs[o.CvID] = struct{}{}
		for _, c := range hits {
			if cur, seen := h.best[c.JobID]; !seen || c.Score > cur {
				h.best[c.JobID] = c.Score
			}
		}
	}

	users := make([]uint64, 0, len(byUser))
	for uid := range byUser {
		users = append(users, uid)
	}
	sort.Slice(users, func(a, b int) bool { return users[a] < users[b] })

	minute := start.In(j.loc).Truncate(time.Minute).Format("2006-01-02T15:04")
	for _, uid := range users {
		if err := ctx.Err(); err != nil {
			log.Warn("recommend run interrupted, cursor kept", append(sum.fields(), zap.Error(err))...)
			return err
		}
		sum.Considered++
		in := j.buildInput(ctx, uid, byUser[uid], minute, start, log)
		res, err := j.writer.CreateIfAbsent(ctx, in)
		sum.record(res, err)
		logWrite(log, uid, res, err)
		if err != nil {
			log.Error("recommend notification failed", zap.Uint64("recipient_id", uid), zap.Error(err))
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	j.advance(ctx, start, log)
	log.Info("recommend run finished", append(sum.fields(),
		zap.Int("new_jobs", len(newIDs)),
		zap.Int("cv_pairs", len(owners)),
		zap.Int("lookup_failures", lookupFailures),
		zap.Time("since", since),
		zap.Time("until", start),
	)...)
	return nil
}

func (j *RecommendJob) buildInput(ctx context.Context, uid uint64, h *recipientHits, minute string, start time.Time, log *zap.Logger) service.CreateInput {
	merged := make([]model.ScoredCandidate, 0, len(h.best))
	for id, score := range h.best {
		merged = append(merged, model.ScoredCandidate{JobID: id, Score: score})
	}
	sortCandidates(merged)
	if j.cfg.DisplayLimit > 0 && len(merged) > j.cfg.DisplayLimit {
		merged = merged[:j.cfg.DisplayLimit]
	}
	ids := make([]uint64, 0, len(merged))
	for _, c := range merged {
		ids = append(ids, c.JobID)
	}

	in := service.CreateInput{
		RecipientID: uid,
		Text:        fmt.Sprintf("New recommended jobs: %d (%s+ points)", len(merged), formatScore(j.cfg.Threshold)),
		Kind:        model.KindScoreMatch,
		DedupeKey:   fmt.Sprintf(recommendDedupePattern, uid, minute),
		EventTime:   start,
		Targets:     service.RankedTargets(ids),
		TitleCode:   recommendTitleCode,
		Params:      map[string]interface{}{"count": len(merged), "threshold": j.cfg.Threshold},
	}
	if len(h.cvs) == 1 {
		for cvID := range h.cvs {
			in.ContextEntityID = cvID
			in.ContextEntityLabel = resolveLabel(ctx, j.src.Labels, cvID, log)
		}
	}
	return in
}

// readCursor falls back to start-lookback when nothing usable is stored.
func (j *RecommendJob) readCursor(ctx context.Context, start time.Time, log *zap.Logger) time.Time {
	fallback := start.Add(-j.cfg.Lookback)
	t, ok, err := j.cursor.Read(ctx, RecommendCursorName)
	if err != nil {
		log.Warn("cursor unreadable, using lookback", zap.Error(err), zap.Time("since", fallback))
		return fallback
	}
	if !ok {
		return fallback
	}
	return t
}

func (j *RecommendJob) advance(ctx context.Context, to time.Time, log *zap.Logger) {
	if err := j.cursor.Write(ctx, RecommendCursorName, to); err != nil {
		log.Warn("cursor write failed", zap.Error(err), zap.Time("cursor", to))
	}
}

// selectHits keeps fresh jobs scoring at least threshold, best first, capped at limit.
func selectHits(list []model.ScoredCandidate, fresh map[uint64]struct{}, threshold float64, limit int) []model.ScoredCandidate {
	out := make([]model.ScoredCandidate, 0, len(list))
	for _, c := range list {
		if _, ok := fresh[c.JobID]; !ok {
			continue
		}
		if c.Score < threshold {
			continue
		}
		out = append(out, c)
	}
	sortCandidates(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func sortCandidates(list []model.ScoredCandidate) {
	sort.SliceStable(list, func(a, b int) bool {
		if list[a].Score != list[b].Score {
			return list[a].Score > list[b].Score
		}
		return list[a].JobID > list[b].JobID
	})
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
