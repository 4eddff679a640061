// Package runctx carries the correlation id of one job run through contexts.
package runctx

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const (
	keyRunID ctxKey = "run_id"
	keyJob   ctxKey = "job"
)

// Start tags ctx with the job name and a fresh run id.
func Start(ctx context.Context, job string) context.Context {
	ctx = context.WithValue(ctx, keyJob, job)
	return WithRunID(ctx, uuid.NewString())
}

func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRunID, id)
}

// RunID returns the run id if present.
func RunID(ctx context.Context) string {
	v, _ := ctx.Value(keyRunID).(string)
	return v
}

// Job returns the job name if present.
func Job(ctx context.Context) string {
	v, _ := ctx.Value(keyJob).(string)
	return v
}
