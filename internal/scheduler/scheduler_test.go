package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shinyyama/goodjob-alarm/internal/runctx"
	"go.uber.org/zap"
)

type blockingJob struct {
	name    string
	started chan struct{}
	release chan struct{}
	runs    int32
	runID   atomic.Value
}

func newBlockingJob(name string) *blockingJob {
	return &blockingJob{name: name, started: make(chan struct{}, 8), release: make(chan struct{})}
}

func (j *blockingJob) Name() string { return j.name }

func (j *blockingJob) Run(ctx context.Context) error {
	atomic.AddInt32(&j.runs, 1)
	j.runID.Store(runctx.RunID(ctx))
	j.started <- struct{}{}
	select {
	case <-j.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type funcJob struct {
	name string
	fn   func(ctx context.Context) error
}

func (j funcJob) Name() string                  { return j.name }
func (j funcJob) Run(ctx context.Context) error { return j.fn(ctx) }

func waitStarted(t *testing.T, j *blockingJob) {
	t.Helper()
	select {
	case <-j.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("job %s did not start", j.name)
	}
}

func TestSchedulerDoesNotOverlapSameJob(t *testing.T) {
	s := New(time.UTC, zap.NewNop())
	job := newBlockingJob("deadline")
	other := newBlockingJob("topn")
	if err := s.Register(job, ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := s.Register(other, ""); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := s.Trigger("deadline"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	waitStarted(t, job)
	if err := s.Trigger("deadline"); !errors.Is(err, ErrJobRunning) {
		t.Fatalf("second trigger: %v", err)
	}
	if err := s.RunNow("deadline"); !errors.Is(err, ErrJobRunning) {
		t.Fatalf("run now while running: %v", err)
	}
	s.tick("deadline")

	// a different job is not blocked
	if err := s.Trigger("topn"); err != nil {
		t.Fatalf("other job: %v", err)
	}
	waitStarted(t, other)

	close(job.release)
	close(other.release)
	s.Stop()

	if runs := atomic.LoadInt32(&job.runs); runs != 1 {
		t.Fatalf("runs=%d want 1", runs)
	}
	if id, _ := job.runID.Load().(string); id == "" {
		t.Fatalf("run id not propagated")
	}
	g, err := s.acquire("deadline")
	if err != nil {
		t.Fatalf("guard not released: %v", err)
	}
	g.mu.Unlock()
}

func TestSchedulerUnknownAndInvalid(t *testing.T) {
	s := New(time.UTC, zap.NewNop())
	if err := s.Trigger("nope"); !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("unknown: %v", err)
	}
	if err := s.Register(funcJob{name: "bad", fn: func(context.Context) error { return nil }}, "every day"); err == nil {
		t.Fatalf("expected invalid spec error")
	}
	if len(s.Jobs()) != 0 {
		t.Fatalf("invalid job stayed registered: %v", s.Jobs())
	}
	ok := funcJob{name: "ok", fn: func(context.Context) error { return nil }}
	if err := s.Register(ok, "0 0 10 * * *"); err != nil {
		t.Fatalf("six-field spec: %v", err)
	}
	if err := s.Register(ok, ""); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestSchedulerRecoversPanics(t *testing.T) {
	s := New(time.UTC, zap.NewNop())
	calls := 0
	_ = s.Register(funcJob{name: "boom", fn: func(context.Context) error {
		calls++
		if calls == 1 {
			panic("nil map")
		}
		return nil
	}}, "")
	if err := s.RunNow("boom"); err == nil {
		t.Fatalf("expected panic to surface as error")
	}
	if err := s.RunNow("boom"); err != nil {
		t.Fatalf("guard stuck after panic: %v", err)
	}
}

func TestSchedulerStopCancelsRunningJobs(t *testing.T) {
	s := New(time.UTC, zap.NewNop())
	job := newBlockingJob("recommend")
	_ = s.Register(job, "")
	if err := s.Trigger("recommend"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	waitStarted(t, job)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("stop did not cancel the running job")
	}
}
