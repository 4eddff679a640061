package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shinyyama/goodjob-alarm/internal/logging"
	"github.com/shinyyama/goodjob-alarm/internal/runctx"
	"go.uber.org/zap"
)

var (
	ErrJobRunning = errors.New("job already running")
	ErrUnknownJob = errors.New("unknown job")
)

type guardedJob struct {
	job Job
	mu  sync.Mutex
}

// Scheduler runs registered jobs on cron specs and on demand. A job never runs twice at once:
// cron ticks and manual triggers share the same guard.
type Scheduler struct {
	cron   *cron.Cron
	jobs   map[string]*guardedJob
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(loc *time.Location, log *zap.Logger) *Scheduler {
	log = log.Named("scheduler")
	cronLog := logging.NewCronLogger(log)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog)),
		),
		jobs:   make(map[string]*guardedJob),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds job under its name. An empty spec registers it for manual triggers only.
func (s *Scheduler) Register(job Job, spec string) error {
	name := job.Name()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %s registered twice", name)
	}
	s.jobs[name] = &guardedJob{job: job}
	if spec == "" {
		s.log.Info("job registered without schedule", zap.String("job", name))
		return nil
	}
	if _, err := s.cron.AddFunc(spec, func() { s.tick(name) }); err != nil {
		delete(s.jobs, name)
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	s.log.Info("job scheduled", zap.String("job", name), zap.String("spec", spec))
	return nil
}

func (s *Scheduler) Jobs() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron, cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	s.cancel()
	<-stopped.Done()
	s.wg.Wait()
}

// Trigger starts name in the background. It fails fast with ErrJobRunning when a run is active.
func (s *Scheduler) Trigger(name string) error {
	g, err := s.acquire(name)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.execute(g)
	}()
	return nil
}

// RunNow runs name and waits for it.
func (s *Scheduler) RunNow(name string) error {
	g, err := s.acquire(name)
	if err != nil {
		return err
	}
	s.wg.Add(1)
	defer s.wg.Done()
	return s.execute(g)
}

func (s *Scheduler) tick(name string) {
	g, err := s.acquire(name)
	if err != nil {
		s.log.Warn("skipping tick", zap.String("job", name), zap.Error(err))
		return
	}
	s.wg.Add(1)
	defer s.wg.Done()
	_ = s.execute(g)
}

func (s *Scheduler) acquire(name string) (*guardedJob, error) {
	g, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if !g.mu.TryLock() {
		return nil, ErrJobRunning
	}
	return g, nil
}

func (s *Scheduler) execute(g *guardedJob) (err error) {
	defer g.mu.Unlock()
	name := g.job.Name()
	ctx := runctx.Start(s.ctx, name)
	log := runLogger(ctx, s.log)
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", name, r)
		}
		if err != nil {
			log.Error("job failed", zap.Duration("elapsed", time.Since(started)), zap.Error(err))
			return
		}
		log.Info("job completed", zap.Duration("elapsed", time.Since(started)))
	}()
	return g.job.Run(ctx)
}
