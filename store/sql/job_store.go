package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-ingest/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// JobStore persists upload jobs. Every mutation after creation is guarded on
// a non-terminal status so a finished job never changes again.
type JobStore struct {
	db   *bun.DB
	repo repository.Repository[*jobRecord]
	now  func() time.Time
}

var openJobStatuses = []string{string(core.JobStatusPending), string(core.JobStatusProcessing)}

func NewJobStore(db *bun.DB) (*JobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*jobRecord](db, jobHandlers())
	if err := validateRepository("job", repo); err != nil {
		return nil, err
	}
	return &JobStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *JobStore) Create(ctx context.Context, in core.CreateJobInput) (core.Job, error) {
	if s == nil || s.repo == nil {
		return core.Job{}, fmt.Errorf("sqlstore: job store is not configured")
	}
	taskID := strings.TrimSpace(in.TaskID)
	if taskID == "" {
		return core.Job{}, fmt.Errorf("sqlstore: task id is required")
	}
	now := s.now()
	record := &jobRecord{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		Filename:  strings.TrimSpace(in.Filename),
		Status:    string(core.JobStatusPending),
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.Job{}, err
	}
	return created.toDomain(), nil
}

func (s *JobStore) Get(ctx context.Context, id string) (core.Job, error) {
	if s == nil || s.db == nil {
		return core.Job{}, fmt.Errorf("sqlstore: job store is not configured")
	}
	id = strings.TrimSpace(id)
	if !validUUID(id) {
		return core.Job{}, core.ErrJobNotFound
	}
	return s.selectOne(ctx, "?TableAlias.id = ?", id)
}

func (s *JobStore) GetByTaskID(ctx context.Context, taskID string) (core.Job, error) {
	if s == nil || s.db == nil {
		return core.Job{}, fmt.Errorf("sqlstore: job store is not configured")
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return core.Job{}, core.ErrJobNotFound
	}
	return s.selectOne(ctx, "?TableAlias.task_id = ?", taskID)
}

func (s *JobStore) MarkProcessing(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: job store is not configured")
	}
	return s.updateOpen(ctx, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("status = ?", string(core.JobStatusProcessing))
	})
}

// UpdateProgress writes counters and keeps progress non-decreasing.
func (s *JobStore) UpdateProgress(ctx context.Context, id string, progress core.JobProgress) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: job store is not configured")
	}
	value := clampProgress(progress.Progress)
	return s.updateOpen(ctx, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Set("progress = CASE WHEN progress > ? THEN progress ELSE ? END", value, value).
			Set("processed_rows = ?", max(progress.ProcessedRows, 0)).
			Set("failed_rows = ?", max(progress.FailedRows, 0)).
			Set("total_rows = COALESCE(?, total_rows)", progress.TotalRows)
	})
}

// RecordChunkError stores a non-fatal chunk failure message on an open job.
func (s *JobStore) RecordChunkError(ctx context.Context, id string, message string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: job store is not configured")
	}
	message = core.Truncate(strings.TrimSpace(message), core.MaxChunkErrorLength)
	return s.updateOpen(ctx, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("error_message = ?", message)
	})
}

func (s *JobStore) Complete(ctx context.Context, id string, progress core.JobProgress) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: job store is not configured")
	}
	return s.updateOpen(ctx, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Set("status = ?", string(core.JobStatusCompleted)).
			Set("progress = ?", 100.0).
			Set("processed_rows = ?", max(progress.ProcessedRows, 0)).
			Set("failed_rows = ?", max(progress.FailedRows, 0)).
			Set("total_rows = COALESCE(?, total_rows)", progress.TotalRows)
	})
}

func (s *JobStore) Fail(ctx context.Context, id string, kind core.JobErrorKind, message string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: job store is not configured")
	}
	message = core.Truncate(strings.TrimSpace(message), core.MaxFailureMessageLength)
	if message == "" {
		message = "Processing failed"
	}
	if kind == core.JobErrorKindNone {
		kind = core.JobErrorKindInternal
	}
	return s.updateOpen(ctx, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.
			Set("status = ?", string(core.JobStatusFailed)).
			Set("error_message = ?", message).
			Set("error_kind = ?", string(kind))
	})
}

func (s *JobStore) selectOne(ctx context.Context, where string, arg any) (core.Job, error) {
	record := &jobRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where(where, arg).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.Job{}, core.ErrJobNotFound
		}
		return core.Job{}, err
	}
	return record.toDomain(), nil
}

// updateOpen applies set to a pending or processing job. A terminal job is
// left untouched without error; an unknown id reports ErrJobNotFound.
func (s *JobStore) updateOpen(ctx context.Context, id string, set func(*bun.UpdateQuery) *bun.UpdateQuery) error {
	id = strings.TrimSpace(id)
	if !validUUID(id) {
		return core.ErrJobNotFound
	}
	query := s.db.NewUpdate().
		Model((*jobRecord)(nil)).
		Set("updated_at = ?", s.now())
	result, err := set(query).
		Where("id = ?", id).
		Where("status IN (?)", bun.In(openJobStatuses)).
		Exec(ctx)
	if err != nil {
		return err
	}
	if rows, rowsErr := result.RowsAffected(); rowsErr == nil && rows > 0 {
		return nil
	}
	exists, err := s.db.NewSelect().
		Model((*jobRecord)(nil)).
		Where("?TableAlias.id = ?", id).
		Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return core.ErrJobNotFound
	}
	return nil
}

func clampProgress(value float64) float64 {
	switch {
	case value < 0:
		return 0
	case value > 100:
		return 100
	default:
		return value
	}
}
