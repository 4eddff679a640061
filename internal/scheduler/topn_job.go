package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shinyyama/goodjob-alarm/internal/config"
	"github.com/shinyyama/goodjob-alarm/internal/model"
	"github.com/shinyyama/goodjob-alarm/internal/service"
	"go.uber.org/zap"
)

const (
	TopNJobName       = "topn"
	topNTitleCode     = "SCORE_MATCH_TODAY"
	topNDedupePattern = "SCORE_MATCH_TOPN:%d:%d:%s"
)

// TopNJob sends one daily digest per (user, résumé) with the best scored public jobs.
type TopNJob struct {
	scores TopNScoreSource
	labels CvLabelResolver
	writer NotificationCreator
	cfg    config.TopNConfig
	loc    *time.Location
	now    func() time.Time
	log    *zap.Logger
}

func NewTopNJob(scores TopNScoreSource, labels CvLabelResolver, writer NotificationCreator, cfg config.TopNConfig, loc *time.Location, now func() time.Time, log *zap.Logger) *TopNJob {
	if now == nil {
		now = time.Now
	}
	return &TopNJob{scores: scores, labels: labels, writer: writer, cfg: cfg, loc: loc, now: now, log: log.Named("topn_job")}
}

func (j *TopNJob) Name() string { return TopNJobName }

type userCv struct {
	userID uint64
	cvID   uint64
}

func (j *TopNJob) Run(ctx context.Context) error {
	log := runLogger(ctx, j.log)
	if j.cfg.N <= 0 {
		log.Info("top-n disabled by N<=0")
		return nil
	}
	rows, err := j.scores.FindTopNPerUserAndCv(ctx, j.cfg.N)
	if err != nil {
		return fmt.Errorf("find top-n scores: %w", err)
	}

	groups := make(map[userCv][]model.ScoredPair)
	for _, r := range rows {
		if r.Score < j.cfg.MinScore {
			continue
		}
		k := userCv{userID: r.UserID, cvID: r.CvID}
		groups[k] = append(groups[k], r)
	}
	keys := make([]userCv, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].userID != keys[b].userID {
			return keys[a].userID < keys[b].userID
		}
		return keys[a].cvID < keys[b].cvID
	})

	var sum RunSummary
	today := startOfDay(j.now(), j.loc).Format("2006-01-02")
	for _, k := range keys {
		if err := ctx.Err(); err != nil {
			log.Warn("top-n run interrupted", append(sum.fields(), zap.Error(err))...)
			return err
		}
		items := groups[k]
		sortScoredPairs(items)
		items = firstPerJob(items)
		if len(items) > j.cfg.N {
			items = items[:j.cfg.N]
		}
		sum.Considered++
		label := resolveLabel(ctx, j.labels, k.cvID, log)
		res, err := j.writer.CreateIfAbsent(ctx, j.buildInput(k, items, label, today))
		sum.record(res, err)
		logWrite(log, k.userID, res, err)
		if err != nil {
			log.Error("top-n notification failed", zap.Uint64("recipient_id", k.userID), zap.Uint64("cv_id", k.cvID), zap.Error(err))
		}
	}
	log.Info("top-n run finished", append(sum.fields(), zap.Int("rows", len(rows)))...)
	return nil
}

func (j *TopNJob) buildInput(k userCv, items []model.ScoredPair, label, today string) service.CreateInput {
	ids := make([]uint64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.JobID)
	}
	text := fmt.Sprintf("Today's top %d jobs for '%s'", len(items), label)
	if j.cfg.MinScore > 0 {
		text = fmt.Sprintf("%s (%s+ points)", text, formatScore(j.cfg.MinScore))
	}
	return service.CreateInput{
		RecipientID: k.userID,
		Text:        text,
		Kind:        model.KindScoreMatch,
		DedupeKey:   fmt.Sprintf(topNDedupePattern, k.userID, k.cvID, today),
		EventTime:   j.now(),
		Targets:     service.RankedTargets(ids),
		TitleCode:   topNTitleCode,
		Params: map[string]interface{}{
			"topN":      len(items),
			"threshold": j.cfg.MinScore,
			"cvId":      k.cvID,
			"cvTitle":   label,
		},
		ContextEntityID:    k.cvID,
		ContextEntityLabel: label,
	}
}

// sortScoredPairs applies score desc, recency desc, job id desc.
func sortScoredPairs(items []model.ScoredPair) {
	sort.SliceStable(items, func(a, b int) bool {
		x, y := items[a], items[b]
		if x.Score != y.Score {
			return x.Score > y.Score
		}
		if !x.ScoredAt.Equal(y.ScoredAt) {
			return x.ScoredAt.After(y.ScoredAt)
		}
		return x.JobID > y.JobID
	})
}

// firstPerJob keeps the first row of each job id. items must already be sorted.
func firstPerJob(items []model.ScoredPair) []model.ScoredPair {
	seen := make(map[uint64]bool, len(items))
	out := items[:0]
	for _, it := range items {
		if seen[it.JobID] {
			continue
		}
		seen[it.JobID] = true
		out = append(out, it)
	}
	return out
}
