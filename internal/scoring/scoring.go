// Package scoring fetches recommendation scores per résumé from the scoring service or the
// pre-aggregated recommend_scores table.
package scoring

import (
	"context"

	"github.com/shinyyama/goodjob-alarm/internal/model"
	"github.com/shinyyama/goodjob-alarm/internal/repository"
)

// Lookup returns up to topK scored jobs for one résumé, best first.
type Lookup interface {
	FetchScoredCandidates(ctx context.Context, cvID uint64, topK int) ([]model.ScoredCandidate, error)
}

// DBLookup serves lookups from stored scores when no scoring service is configured.
type DBLookup struct {
	repo repository.RecommendScoreRepository
}

func NewDBLookup(repo repository.RecommendScoreRepository) *DBLookup {
	return &DBLookup{repo: repo}
}

func (l *DBLookup) FetchScoredCandidates(ctx context.Context, cvID uint64, topK int) ([]model.ScoredCandidate, error) {
	return l.repo.FindTopKByCv(ctx, cvID, topK)
}
