// Package cursor persists the "last successful run" timestamp of incremental jobs.
package cursor

import (
	"context"
	"sync"
	"time"
)

// Store reads and writes one timestamp per job name. ok is false when nothing usable is stored.
type Store interface {
	Read(ctx context.Context, name string) (t time.Time, ok bool, err error)
	Write(ctx context.Context, name string, t time.Time) error
}

// MemoryStore keeps cursors in process memory. Used when no Redis is configured.
type MemoryStore struct {
	mu sync.Mutex
	m  map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]time.Time)}
}

func (s *MemoryStore) Read(_ context.Context, name string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.m[name]
	return t, ok, nil
}

func (s *MemoryStore) Write(_ context.Context, name string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[name] = t
	return nil
}
