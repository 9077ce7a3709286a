package progress

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-ingest/core"
)

// Reader merges the durable job row with the volatile blob. The row is
// authoritative; the blob only fills what the row has not committed yet.
type Reader struct {
	jobs     core.JobStore
	backend  TaskStateBackend
	observer *core.Observer
}

func NewReader(jobs core.JobStore, backend TaskStateBackend, observer *core.Observer) (*Reader, error) {
	if jobs == nil {
		return nil, fmt.Errorf("progress: job store is required")
	}
	return &Reader{jobs: jobs, backend: backend, observer: observer}, nil
}

func (r *Reader) Read(ctx context.Context, taskID string) (core.ProgressSnapshot, error) {
	taskID = strings.TrimSpace(taskID)
	job, err := r.jobs.GetByTaskID(ctx, taskID)
	if err != nil {
		return core.ProgressSnapshot{}, err
	}

	var (
		state   State
		hasBlob bool
	)
	if r.backend != nil {
		state, hasBlob, err = r.backend.Get(ctx, taskID)
		if err != nil {
			r.observer.Warn(ctx, "task state read failed", map[string]any{
				"task_id": taskID,
				"error":   err.Error(),
			})
			hasBlob = false
		}
	}
	return Merge(job, state, hasBlob), nil
}

// Merge builds the caller-facing snapshot from a job row and an optional blob.
func Merge(job core.Job, state State, hasBlob bool) core.ProgressSnapshot {
	snapshot := core.ProgressSnapshot{
		TaskID:        job.TaskID,
		UploadJobID:   job.ID,
		Status:        job.Status,
		Progress:      job.Progress,
		TotalRows:     job.TotalRows,
		ProcessedRows: job.ProcessedRows,
		FailedRows:    job.FailedRows,
		TaskState:     taskStateFor(job.Status),
		Message:       defaultMessage(job),
	}
	if job.Status == core.JobStatusFailed && job.ErrorMessage != nil {
		snapshot.Error = *job.ErrorMessage
	}
	if !hasBlob {
		return snapshot
	}

	if !job.Status.Terminal() {
		if state.State != "" {
			snapshot.TaskState = state.State
		}
		if state.ProcessedRows > snapshot.ProcessedRows {
			snapshot.ProcessedRows = state.ProcessedRows
		}
		if state.FailedRows > snapshot.FailedRows {
			snapshot.FailedRows = state.FailedRows
		}
		if state.State == core.TaskStateFailure && state.Error != "" {
			snapshot.Error = state.Error
		}
	}
	if snapshot.TotalRows == nil && state.TotalRows != nil {
		total := *state.TotalRows
		snapshot.TotalRows = &total
	}
	if message := strings.TrimSpace(state.Message); message != "" {
		snapshot.Message = message
	}
	if snapshot.TotalRows != nil && snapshot.ProcessedRows > *snapshot.TotalRows {
		snapshot.ProcessedRows = *snapshot.TotalRows
	}
	return snapshot
}

func taskStateFor(status core.JobStatus) core.TaskState {
	switch status {
	case core.JobStatusProcessing:
		return core.TaskStateProcessing
	case core.JobStatusCompleted:
		return core.TaskStateSuccess
	case core.JobStatusFailed:
		return core.TaskStateFailure
	default:
		return core.TaskStatePending
	}
}

func defaultMessage(job core.Job) string {
	switch job.Status {
	case core.JobStatusCompleted:
		return fmt.Sprintf("Successfully processed %d products", job.ProcessedRows)
	case core.JobStatusFailed:
		return "Processing failed"
	case core.JobStatusProcessing:
		return "Processing CSV data"
	default:
		return "Waiting to start"
	}
}

var _ core.ProgressReader = (*Reader)(nil)
