package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/shinyyama/goodjob-alarm/internal/model"
	"github.com/shinyyama/goodjob-alarm/internal/service"
)

var testNow = time.Date(2026, 10, 17, 10, 0, 30, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// recordingWriter mimics the writer's dedupe behaviour in memory.
type recordingWriter struct {
	mu     sync.Mutex
	inputs []service.CreateInput
	seen   map[string]bool
	err    error
	// failFor fails writes for the listed recipients only
	failFor map[uint64]error
}

func (w *recordingWriter) CreateIfAbsent(_ context.Context, in service.CreateInput) (service.WriteResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return service.WriteResult{}, w.err
	}
	if err := w.failFor[in.RecipientID]; err != nil {
		return service.WriteResult{}, err
	}
	if w.seen == nil {
		w.seen = make(map[string]bool)
	}
	w.inputs = append(w.inputs, in)
	if w.seen[in.DedupeKey] {
		return service.WriteResult{Outcome: service.OutcomeAlreadyExists}, nil
	}
	w.seen[in.DedupeKey] = true
	return service.WriteResult{Outcome: service.OutcomeCreated, Notification: &model.Notification{DedupeKey: in.DedupeKey}}, nil
}

func targetIDs(in service.CreateInput) []uint64 {
	ids := make([]uint64, 0, len(in.Targets))
	for _, t := range in.Targets {
		ids = append(ids, t.TargetID)
	}
	return ids
}

type labelFunc func(cvID uint64) (string, bool, error)

func (f labelFunc) FindFileNameByID(_ context.Context, cvID uint64) (string, bool, error) {
	return f(cvID)
}
