package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shinyyama/goodjob-alarm/internal/model"
	"go.uber.org/zap"
)

// CachedLookup is a read-through Redis cache in front of another Lookup.
// Cache failures are logged and never fail the lookup itself.
type CachedLookup struct {
	next   Lookup
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewCachedLookup(next Lookup, client *redis.Client, ttl time.Duration, log *zap.Logger) *CachedLookup {
	return &CachedLookup{next: next, client: client, ttl: ttl, log: log.Named("scoring_cache")}
}

func CacheKey(cvID uint64, topK int) string {
	return fmt.Sprintf("reco:cv:%d:top%d", cvID, topK)
}

func (c *CachedLookup) FetchScoredCandidates(ctx context.Context, cvID uint64, topK int) ([]model.ScoredCandidate, error) {
	key := CacheKey(cvID, topK)
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cached []model.ScoredCandidate
		if jsonErr := json.Unmarshal(raw, &cached); jsonErr == nil {
			return cached, nil
		}
		c.log.Warn("discarding unreadable cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.log.Warn("score cache read failed", zap.String("key", key), zap.Error(err))
	}

	list, err := c.next.FetchScoredCandidates(ctx, cvID, topK)
	if err != nil {
		return nil, err
	}
	if payload, err := json.Marshal(list); err == nil {
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.log.Warn("score cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return list, nil
}
