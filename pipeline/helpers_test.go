package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/goliatone/go-ingest/core"
	"github.com/goliatone/go-ingest/progress"
)

type memoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]core.Job
}

func newMemoryJobStore() *memoryJobStore {
	return &memoryJobStore{jobs: map[string]core.Job{}}
}

func (s *memoryJobStore) Create(_ context.Context, in core.CreateJobInput) (core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := core.Job{
		ID:       fmt.Sprintf("job-%d", len(s.jobs)+1),
		TaskID:   in.TaskID,
		Filename: in.Filename,
		Status:   core.JobStatusPending,
	}
	s.jobs[job.ID] = job
	return job, nil
}

func (s *memoryJobStore) Get(_ context.Context, id string) (core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return core.Job{}, core.ErrJobNotFound
	}
	return job, nil
}

func (s *memoryJobStore) GetByTaskID(_ context.Context, taskID string) (core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.TaskID == taskID {
			return job, nil
		}
	}
	return core.Job{}, core.ErrJobNotFound
}

func (s *memoryJobStore) MarkProcessing(_ context.Context, id string) error {
	return s.mutate(id, func(job *core.Job) { job.Status = core.JobStatusProcessing })
}

func (s *memoryJobStore) UpdateProgress(_ context.Context, id string, progress core.JobProgress) error {
	return s.mutate(id, func(job *core.Job) {
		if progress.Progress > job.Progress {
			job.Progress = progress.Progress
		}
		job.ProcessedRows = progress.ProcessedRows
		job.FailedRows = progress.FailedRows
		if progress.TotalRows != nil {
			total := *progress.TotalRows
			job.TotalRows = &total
		}
	})
}

func (s *memoryJobStore) RecordChunkError(_ context.Context, id string, message string) error {
	return s.mutate(id, func(job *core.Job) { job.ErrorMessage = &message })
}

func (s *memoryJobStore) Complete(_ context.Context, id string, progress core.JobProgress) error {
	return s.mutate(id, func(job *core.Job) {
		job.Status = core.JobStatusCompleted
		job.Progress = 100
		job.ProcessedRows = progress.ProcessedRows
		job.FailedRows = progress.FailedRows
		if progress.TotalRows != nil {
			total := *progress.TotalRows
			job.TotalRows = &total
		}
	})
}

func (s *memoryJobStore) Fail(_ context.Context, id string, kind core.JobErrorKind, message string) error {
	return s.mutate(id, func(job *core.Job) {
		job.Status = core.JobStatusFailed
		job.ErrorKind = kind
		job.ErrorMessage = &message
	})
}

func (s *memoryJobStore) mutate(id string, fn func(*core.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return core.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return nil
	}
	fn(&job)
	s.jobs[id] = job
	return nil
}

// memoryProductStore applies batches atomically: a batch touching a failing
// sku changes nothing.
type memoryProductStore struct {
	mu          sync.Mutex
	products    map[string]core.ProductUpsert
	failSKUs    map[string]bool
	blockOnCtx  bool
	batchCalls  int
	singleCalls int
}

func newMemoryProductStore() *memoryProductStore {
	return &memoryProductStore{products: map[string]core.ProductUpsert{}, failSKUs: map[string]bool{}}
}

func (s *memoryProductStore) Create(context.Context, core.Product) (core.Product, error) {
	return core.Product{}, errors.New("not implemented")
}

func (s *memoryProductStore) Get(context.Context, string) (core.Product, error) {
	return core.Product{}, core.ErrProductNotFound
}

func (s *memoryProductStore) Update(context.Context, core.Product) (core.Product, error) {
	return core.Product{}, core.ErrProductNotFound
}

func (s *memoryProductStore) Delete(context.Context, string) (core.Product, error) {
	return core.Product{}, core.ErrProductNotFound
}

func (s *memoryProductStore) DeleteMany(context.Context, core.ProductDeleteFilter) (int, error) {
	return 0, nil
}

func (s *memoryProductStore) Upsert(ctx context.Context, row core.ProductUpsert) error {
	s.mu.Lock()
	s.singleCalls++
	s.mu.Unlock()
	return s.apply(ctx, []core.ProductUpsert{row})
}

func (s *memoryProductStore) UpsertBatch(ctx context.Context, rows []core.ProductUpsert) error {
	s.mu.Lock()
	s.batchCalls++
	s.mu.Unlock()
	return s.apply(ctx, rows)
}

func (s *memoryProductStore) apply(ctx context.Context, rows []core.ProductUpsert) error {
	if s.blockOnCtx {
		<-ctx.Done()
		return ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		if s.failSKUs[core.NormalizeSKU(row.SKU)] {
			return fmt.Errorf("constraint violation for %s", row.SKU)
		}
	}
	for _, row := range rows {
		row.SKU = core.NormalizeSKU(row.SKU)
		s.products[row.SKU] = row
	}
	return nil
}

func (s *memoryProductStore) snapshot() map[string]core.ProductUpsert {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]core.ProductUpsert, len(s.products))
	for key, value := range s.products {
		out[key] = value
	}
	return out
}

// recordingReporter captures every progress value that reaches the sinks.
type recordingReporter struct {
	*progress.Reporter

	mu     sync.Mutex
	values []float64
}

func (r *recordingReporter) Report(ctx context.Context, job core.Job, update core.JobProgress) error {
	r.mu.Lock()
	r.values = append(r.values, update.Progress)
	r.mu.Unlock()
	return r.Reporter.Report(ctx, job, update)
}

func (r *recordingReporter) Complete(ctx context.Context, job core.Job, update core.JobProgress) error {
	r.mu.Lock()
	r.values = append(r.values, 100)
	r.mu.Unlock()
	return r.Reporter.Complete(ctx, job, update)
}

func (r *recordingReporter) recorded() []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]float64(nil), r.values...)
}

type fixture struct {
	jobs     *memoryJobStore
	products *memoryProductStore
	reporter *recordingReporter
	backend  *progress.MemoryBackend
	pipeline *Pipeline
}

func newFixture(t *testing.T, cfg core.PipelineConfig, opts ...Option) *fixture {
	t.Helper()
	jobs := newMemoryJobStore()
	products := newMemoryProductStore()
	backend := progress.NewMemoryBackend(0)
	base, err := progress.NewReporter(jobs, backend, nil)
	if err != nil {
		t.Fatalf("new reporter: %v", err)
	}
	reporter := &recordingReporter{Reporter: base}
	if cfg == (core.PipelineConfig{}) {
		cfg = core.DefaultConfig().Pipeline
	}
	p, err := New(jobs, products, reporter, cfg, opts...)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	return &fixture{jobs: jobs, products: products, reporter: reporter, backend: backend, pipeline: p}
}

func (f *fixture) ingest(t *testing.T, payload []byte) (core.Job, core.JobStatus) {
	t.Helper()
	ctx := context.Background()
	job, err := f.jobs.Create(ctx, core.CreateJobInput{TaskID: fmt.Sprintf("task-%d", len(f.jobs.jobs)+1)})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	status, err := f.pipeline.Ingest(ctx, payload, job.ID)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	final, err := f.jobs.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return final, status
}
