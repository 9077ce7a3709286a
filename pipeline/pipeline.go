package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goliatone/go-ingest/core"
)

const (
	TimeLimitMessage      = "Processing exceeded time limit. The file may be too large. Please try splitting it into smaller files or contact support."
	timeLimitStateError   = "Processing exceeded time limit"
	cancelledMessage      = "Processing was cancelled before completion"
	minFinalizeBudget     = 5 * time.Second
	defaultSoftTimeLimit  = 110 * time.Minute
	defaultHardTimeLimit  = 120 * time.Minute
	progressCountedMark   = 5.0
	progressProcessMark   = 10.0
	progressFinalizedMark = 95.0
)

// Reporter is the progress sink the pipeline writes through.
type Reporter interface {
	Start(ctx context.Context, job core.Job, message string) error
	Report(ctx context.Context, job core.Job, update core.JobProgress) error
	ChunkError(ctx context.Context, job core.Job, message string) error
	Complete(ctx context.Context, job core.Job, update core.JobProgress) error
	Fail(ctx context.Context, job core.Job, kind core.JobErrorKind, message string, stateError string) error
}

type Option func(*Pipeline)

func WithActivePolicy(policy ActivePolicy) Option {
	return func(p *Pipeline) {
		if policy != nil {
			p.active = policy
		}
	}
}

func WithObserver(observer *core.Observer) Option {
	return func(p *Pipeline) {
		p.observer = observer
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// Pipeline turns one uploaded payload into product upserts while reporting
// progress for its job. One Ingest call processes rows sequentially.
type Pipeline struct {
	jobs     core.JobStore
	products core.ProductStore
	reporter Reporter
	active   ActivePolicy
	observer *core.Observer
	now      func() time.Time

	chunks    ChunkSteps
	softLimit time.Duration
	hardLimit time.Duration
}

func New(
	jobs core.JobStore,
	products core.ProductStore,
	reporter Reporter,
	cfg core.PipelineConfig,
	opts ...Option,
) (*Pipeline, error) {
	switch {
	case jobs == nil:
		return nil, fmt.Errorf("pipeline: job store is required")
	case products == nil:
		return nil, fmt.Errorf("pipeline: product store is required")
	case reporter == nil:
		return nil, fmt.Errorf("pipeline: progress reporter is required")
	}
	p := &Pipeline{
		jobs:     jobs,
		products: products,
		reporter: reporter,
		active:   ConstantActivePolicy{Value: true},
		now:      time.Now,
		chunks: ChunkSteps{
			Small:         cfg.SmallChunkSize,
			Large:         cfg.LargeChunkSize,
			LargeFileRows: cfg.LargeFileRows,
		},
		softLimit: cfg.SoftTimeLimit,
		hardLimit: cfg.HardTimeLimit,
	}
	if p.softLimit <= 0 {
		p.softLimit = defaultSoftTimeLimit
	}
	if p.hardLimit <= p.softLimit {
		p.hardLimit = p.softLimit + (defaultHardTimeLimit - defaultSoftTimeLimit)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Ingest processes payload for jobID and finalizes the job. Faults become job
// state; the returned error only reports that finalization itself failed.
func (p *Pipeline) Ingest(ctx context.Context, payload []byte, jobID string) (core.JobStatus, error) {
	startedAt := p.now()
	job, err := p.jobs.Get(ctx, strings.TrimSpace(jobID))
	if err != nil {
		return "", err
	}
	fields := map[string]any{
		"task_id":       job.TaskID,
		"upload_job_id": job.ID,
		"filename":      job.Filename,
	}

	softCtx, cancel := context.WithTimeout(ctx, p.softLimit)
	defer cancel()

	runErr := p.run(softCtx, job, payload)
	if runErr == nil {
		p.observer.Observe(ctx, startedAt, "process_upload", nil, fields)
		return core.JobStatusCompleted, nil
	}

	kind, message, stateError := p.classify(ctx, softCtx, runErr)
	fields["error_kind"] = string(kind)
	p.observer.Observe(ctx, startedAt, "process_upload", runErr, fields)

	budget := p.hardLimit - time.Since(startedAt)
	if budget < minFinalizeBudget {
		budget = minFinalizeBudget
	}
	finalizeCtx, cancelFinalize := context.WithTimeout(context.WithoutCancel(ctx), budget)
	defer cancelFinalize()
	if err := p.reporter.Fail(finalizeCtx, job, kind, message, stateError); err != nil {
		p.observer.Error(ctx, "upload failure could not be recorded", map[string]any{
			"task_id":       job.TaskID,
			"upload_job_id": job.ID,
			"error":         err.Error(),
		})
		return core.JobStatusFailed, err
	}
	return core.JobStatusFailed, nil
}

func (p *Pipeline) classify(parent, soft context.Context, err error) (core.JobErrorKind, string, string) {
	var validation *ValidationError
	switch {
	case errors.As(err, &validation):
		return core.JobErrorKindValidation, validation.Message, ""
	case parent.Err() == nil && errors.Is(soft.Err(), context.DeadlineExceeded):
		return core.JobErrorKindTimeLimit, TimeLimitMessage, timeLimitStateError
	case parent.Err() != nil:
		return core.JobErrorKindInternal, cancelledMessage, ""
	default:
		return core.JobErrorKindInternal, err.Error(), ""
	}
}

type runState struct {
	job        core.Job
	total      int
	accepted   int
	failed     int
	lastReport int
	chunk      []core.ProductUpsert
}

func (s *runState) progress(value float64, message string) core.JobProgress {
	total := s.total
	return core.JobProgress{
		Progress:      value,
		ProcessedRows: s.accepted,
		TotalRows:     &total,
		FailedRows:    s.failed,
		Message:       message,
	}
}

func (p *Pipeline) run(ctx context.Context, job core.Job, payload []byte) error {
	if err := p.reporter.Start(ctx, job, "Starting CSV processing"); err != nil {
		return err
	}

	tbl, err := newTable(payload)
	if err != nil {
		return err
	}
	columns, total, err := p.inspect(ctx, tbl)
	if err != nil {
		return err
	}

	state := &runState{job: job, total: total}
	chunkSize := p.chunks.Size(total)
	if err := p.reporter.Report(ctx, job, state.progress(progressCountedMark,
		fmt.Sprintf("Found %d rows to process (chunk size: %d)", total, chunkSize))); err != nil {
		return err
	}
	if total == 0 {
		return p.reporter.Complete(ctx, job, state.progress(100, "Successfully processed 0 products"))
	}
	if err := p.reporter.Report(ctx, job, state.progress(progressProcessMark, "Processing CSV data")); err != nil {
		return err
	}

	source, err := tbl.Open()
	if err != nil {
		return err
	}
	defer source.Close()

	interval := ProgressInterval(total)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := source.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		upsert, ok := normalizeRow(columns.row(record), p.active)
		if !ok {
			continue
		}
		state.chunk = append(state.chunk, upsert)
		state.accepted++

		if state.accepted-state.lastReport >= interval {
			if err := p.reportMid(ctx, state,
				fmt.Sprintf("Processed %d/%d rows", state.accepted, total)); err != nil {
				return err
			}
		}
		if len(state.chunk) >= chunkSize {
			if err := p.flush(ctx, state); err != nil {
				return err
			}
			if err := p.reportMid(ctx, state,
				fmt.Sprintf("Processed %d/%d rows", state.accepted, total)); err != nil {
				return err
			}
		}
	}

	if len(state.chunk) > 0 {
		if err := p.flush(ctx, state); err != nil {
			return err
		}
		value := MidProgress(state.accepted, total)
		if state.accepted >= total {
			value = progressFinalizedMark
		}
		if err := p.reporter.Report(ctx, job, state.progress(value,
			fmt.Sprintf("Processed %d/%d rows", state.accepted, total))); err != nil {
			return err
		}
	}

	return p.reporter.Complete(ctx, job, state.progress(100,
		fmt.Sprintf("Successfully processed %d products", state.accepted)))
}

// inspect validates the header and counts data rows before any row is written.
func (p *Pipeline) inspect(ctx context.Context, tbl table) (columnIndex, int, error) {
	source, err := tbl.Open()
	if err != nil {
		return nil, 0, err
	}
	defer source.Close()

	columns, err := validateHeader(source.Header())
	if err != nil {
		return nil, 0, err
	}
	total := 0
	for {
		if total%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, 0, err
			}
		}
		_, err := source.Next()
		if errors.Is(err, io.EOF) {
			return columns, total, nil
		}
		if err != nil {
			return nil, 0, err
		}
		total++
	}
}

func (p *Pipeline) reportMid(ctx context.Context, state *runState, message string) error {
	state.lastReport = state.accepted
	return p.reporter.Report(ctx, state.job, state.progress(MidProgress(state.accepted, state.total), message))
}

// flush upserts the pending chunk in one batch. A failed batch is recorded
// on the job and retried row by row; rows that still fail are counted in
// failed_rows and processing continues.
func (p *Pipeline) flush(ctx context.Context, state *runState) error {
	rows := Dedup(state.chunk)
	state.chunk = state.chunk[:0]
	if len(rows) == 0 {
		return nil
	}
	if err := p.reporter.Report(ctx, state.job, state.progress(MidProgress(state.accepted, state.total),
		fmt.Sprintf("Processing chunk... (%d/%d rows read)", state.accepted, state.total))); err != nil {
		return err
	}

	batchErr := p.products.UpsertBatch(ctx, rows)
	if batchErr == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	message := fmt.Sprintf("Error at row %d: %s", state.accepted,
		core.Truncate(batchErr.Error(), core.MaxChunkErrorLength))
	p.observer.Warn(ctx, "chunk upsert failed, retrying row by row", map[string]any{
		"task_id":       state.job.TaskID,
		"upload_job_id": state.job.ID,
		"rows":          len(rows),
		"error":         batchErr.Error(),
	})
	p.observer.Count(ctx, "chunk_failures", 1, map[string]string{"task_id": state.job.TaskID})
	if err := p.reporter.ChunkError(ctx, state.job, message); err != nil {
		return err
	}

	for _, row := range rows {
		if err := p.products.Upsert(ctx, row); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			state.failed++
			p.observer.Warn(ctx, "skipping product row", map[string]any{
				"task_id": state.job.TaskID,
				"sku":     row.SKU,
				"error":   core.Truncate(err.Error(), 100),
			})
		}
	}
	return nil
}
