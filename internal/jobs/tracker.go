package jobs

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"

	"masthead/api/internal/store"
)

// Store is the persistence surface for job run tracking.
type Store interface {
	InsertJobRun(ctx context.Context, run store.JobRun) error
	UpdateJobRun(ctx context.Context, run store.JobRun) error
	JobRuns(ctx context.Context, limit int) ([]store.JobRun, error)
	DeleteJobRun(ctx context.Context, id string) error
}

// Tracker persists one JobRun per background job execution. The run is
// written as "running" before fn starts and finalized as completed or
// failed with duration and error detail.
type Tracker struct {
	store Store
}

func NewTracker(s Store) *Tracker {
	return &Tracker{store: s}
}

// Run executes fn under tracking. fn may update the run's counters through
// the pointer it receives; those values are persisted on finalization. The
// finalized run is returned alongside fn's error.
func (t *Tracker) Run(ctx context.Context, jobType string, metadata map[string]any, fn func(ctx context.Context, run *store.JobRun) error) (store.JobRun, error) {
	run := store.JobRun{
		ID:        uuid.NewString(),
		JobType:   jobType,
		Status:    "running",
		StartedAt: time.Now().UTC(),
		Metadata:  metadata,
	}
	if err := t.store.InsertJobRun(ctx, run); err != nil {
		return store.JobRun{}, fmt.Errorf("start job run: %w", err)
	}

	jobErr := fn(ctx, &run)

	completed := time.Now().UTC()
	run.CompletedAt = &completed
	run.DurationSeconds = completed.Sub(run.StartedAt).Seconds()
	if jobErr != nil {
		run.Status = "failed"
		run.ErrorMessage = jobErr.Error()
		run.ErrorTrace = stackTrace()
	} else {
		run.Status = "completed"
	}
	if err := t.store.UpdateJobRun(ctx, run); err != nil {
		return run, fmt.Errorf("finalize job run: %w", err)
	}
	return run, jobErr
}

func (t *Tracker) List(ctx context.Context, limit int) ([]store.JobRun, error) {
	return t.store.JobRuns(ctx, limit)
}

func (t *Tracker) Delete(ctx context.Context, id string) error {
	return t.store.DeleteJobRun(ctx, id)
}

func stackTrace() string {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
