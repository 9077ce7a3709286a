package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goliatone/go-ingest/core"
)

// Reporter writes one progress tuple to both sinks: the durable job row and
// the volatile task-state blob. Progress is clamped per job so no write ever
// moves it backwards. Durable errors are returned; blob errors are logged.
type Reporter struct {
	jobs     core.JobStore
	backend  TaskStateBackend
	observer *core.Observer
	now      func() time.Time

	mu   sync.Mutex
	last map[string]float64
}

func NewReporter(jobs core.JobStore, backend TaskStateBackend, observer *core.Observer) (*Reporter, error) {
	if jobs == nil {
		return nil, fmt.Errorf("progress: job store is required")
	}
	if backend == nil {
		backend = NewMemoryBackend(0)
	}
	return &Reporter{
		jobs:     jobs,
		backend:  backend,
		observer: observer,
		now:      func() time.Time { return time.Now().UTC() },
		last:     map[string]float64{},
	}, nil
}

// Start moves the job to processing and publishes the initial blob.
func (r *Reporter) Start(ctx context.Context, job core.Job, message string) error {
	if err := r.jobs.MarkProcessing(ctx, job.ID); err != nil {
		return err
	}
	r.publish(ctx, State{
		TaskID:      job.TaskID,
		UploadJobID: job.ID,
		State:       core.TaskStateProcessing,
		Progress:    r.clamp(job.ID, 0),
		Message:     message,
	})
	return nil
}

func (r *Reporter) Report(ctx context.Context, job core.Job, update core.JobProgress) error {
	update.Progress = r.clamp(job.ID, update.Progress)
	if err := r.jobs.UpdateProgress(ctx, job.ID, update); err != nil {
		return err
	}
	r.publish(ctx, State{
		TaskID:        job.TaskID,
		UploadJobID:   job.ID,
		State:         core.TaskStateProcessing,
		Progress:      update.Progress,
		ProcessedRows: update.ProcessedRows,
		TotalRows:     update.TotalRows,
		FailedRows:    update.FailedRows,
		Message:       update.Message,
	})
	return nil
}

// ChunkError records a non-fatal chunk failure on the job row.
func (r *Reporter) ChunkError(ctx context.Context, job core.Job, message string) error {
	return r.jobs.RecordChunkError(ctx, job.ID, message)
}

func (r *Reporter) Complete(ctx context.Context, job core.Job, update core.JobProgress) error {
	defer r.forget(job.ID)
	update.Progress = 100
	if err := r.jobs.Complete(ctx, job.ID, update); err != nil {
		return err
	}
	r.publish(ctx, State{
		TaskID:        job.TaskID,
		UploadJobID:   job.ID,
		State:         core.TaskStateSuccess,
		Progress:      100,
		ProcessedRows: update.ProcessedRows,
		TotalRows:     update.TotalRows,
		FailedRows:    update.FailedRows,
		Message:       update.Message,
	})
	return nil
}

// Fail marks the job failed with message and publishes a FAILURE blob whose
// error is stateError, or message when stateError is empty.
func (r *Reporter) Fail(ctx context.Context, job core.Job, kind core.JobErrorKind, message string, stateError string) error {
	defer r.forget(job.ID)
	message = core.Truncate(message, core.MaxFailureMessageLength)
	if stateError == "" {
		stateError = message
	}
	err := r.jobs.Fail(ctx, job.ID, kind, message)

	state := State{
		TaskID:      job.TaskID,
		UploadJobID: job.ID,
		State:       core.TaskStateFailure,
		Progress:    r.clamp(job.ID, 0),
		Message:     message,
		Error:       core.Truncate(stateError, core.MaxFailureMessageLength),
	}
	if previous, ok, getErr := r.backend.Get(ctx, job.TaskID); getErr == nil && ok {
		state.ProcessedRows = previous.ProcessedRows
		state.TotalRows = previous.TotalRows
		state.FailedRows = previous.FailedRows
	}
	r.publish(ctx, state)
	return err
}

func (r *Reporter) publish(ctx context.Context, state State) {
	state.UpdatedAt = r.now()
	if err := r.backend.Set(ctx, state); err != nil {
		r.observer.Warn(ctx, "task state write failed", map[string]any{
			"task_id":       state.TaskID,
			"upload_job_id": state.UploadJobID,
			"error":         err.Error(),
		})
	}
}

func (r *Reporter) clamp(jobID string, value float64) float64 {
	value = min(max(value, 0), 100)
	r.mu.Lock()
	defer r.mu.Unlock()
	if previous, ok := r.last[jobID]; ok && previous > value {
		return previous
	}
	r.last[jobID] = value
	return value
}

func (r *Reporter) forget(jobID string) {
	r.mu.Lock()
	delete(r.last, jobID)
	r.mu.Unlock()
}
