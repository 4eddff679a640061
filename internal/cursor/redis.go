package cursor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "cursor:"

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func Key(name string) string {
	return keyPrefix + name
}

// Read returns ok=false with a nil error when the key is absent. An unparsable value is
// reported as an error together with ok=false.
func (s *RedisStore) Read(ctx context.Context, name string) (time.Time, bool, error) {
	raw, err := s.client.Get(ctx, Key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read cursor %s: %w", name, err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse cursor %s=%q: %w", name, raw, err)
	}
	return t, true, nil
}

func (s *RedisStore) Write(ctx context.Context, name string, t time.Time) error {
	if err := s.client.Set(ctx, Key(name), t.Format(time.RFC3339Nano), 0).Err(); err != nil {
		return fmt.Errorf("write cursor %s: %w", name, err)
	}
	return nil
}
