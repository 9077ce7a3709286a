package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFields(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFields(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFields(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]capturedLog, len(*l.records))
	copy(out, *l.records)
	return out
}

type memoryJobStore struct {
	mu     sync.Mutex
	nextID int
	jobs   map[string]Job
}

func newMemoryJobStore() *memoryJobStore {
	return &memoryJobStore{jobs: map[string]Job{}}
}

func (s *memoryJobStore) Create(_ context.Context, in CreateJobInput) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	job := Job{
		ID:        fmt.Sprintf("job-%d", s.nextID),
		TaskID:    in.TaskID,
		Filename:  in.Filename,
		Status:    JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	s.jobs[job.ID] = job
	return job, nil
}

func (s *memoryJobStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return job, nil
}

func (s *memoryJobStore) GetByTaskID(_ context.Context, taskID string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.TaskID == taskID {
			return job, nil
		}
	}
	return Job{}, ErrJobNotFound
}

func (s *memoryJobStore) MarkProcessing(context.Context, string) error { return nil }

func (s *memoryJobStore) UpdateProgress(context.Context, string, JobProgress) error { return nil }

func (s *memoryJobStore) RecordChunkError(context.Context, string, string) error { return nil }

func (s *memoryJobStore) Complete(context.Context, string, JobProgress) error { return nil }

func (s *memoryJobStore) Fail(_ context.Context, id string, kind JobErrorKind, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	job.Status = JobStatusFailed
	job.ErrorKind = kind
	job.ErrorMessage = &message
	s.jobs[id] = job
	return nil
}

type memoryProductStore struct {
	mu       sync.Mutex
	nextID   int
	products map[string]Product
}

func newMemoryProductStore() *memoryProductStore {
	return &memoryProductStore{products: map[string]Product{}}
}

func (s *memoryProductStore) Create(_ context.Context, product Product) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.products {
		if existing.SKU == product.SKU {
			return Product{}, &DuplicateSKUError{SKU: product.SKU}
		}
	}
	s.nextID++
	product.ID = fmt.Sprintf("product-%d", s.nextID)
	s.products[product.ID] = product
	return product, nil
}

func (s *memoryProductStore) Get(_ context.Context, id string) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return product, nil
}

func (s *memoryProductStore) Update(_ context.Context, product Product) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[product.ID]; !ok {
		return Product{}, ErrProductNotFound
	}
	s.products[product.ID] = product
	return product, nil
}

func (s *memoryProductStore) Delete(_ context.Context, id string) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	delete(s.products, id)
	return product, nil
}

func (s *memoryProductStore) DeleteMany(_ context.Context, filter ProductDeleteFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, product := range s.products {
		if filter.Active != nil && product.Active != *filter.Active {
			continue
		}
		delete(s.products, id)
		deleted++
	}
	return deleted, nil
}

func (s *memoryProductStore) Upsert(context.Context, ProductUpsert) error { return nil }

func (s *memoryProductStore) UpsertBatch(context.Context, []ProductUpsert) error { return nil }

type memoryWebhookStore struct {
	mu   sync.Mutex
	subs map[string]WebhookSubscription
}

func newMemoryWebhookStore() *memoryWebhookStore {
	return &memoryWebhookStore{subs: map[string]WebhookSubscription{}}
}

func (s *memoryWebhookStore) Create(_ context.Context, sub WebhookSubscription) (WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub.ID = fmt.Sprintf("webhook-%d", len(s.subs)+1)
	s.subs[sub.ID] = sub
	return sub, nil
}

func (s *memoryWebhookStore) Get(_ context.Context, id string) (WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return WebhookSubscription{}, ErrWebhookNotFound
	}
	return sub, nil
}

func (s *memoryWebhookStore) List(context.Context) ([]WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WebhookSubscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out, nil
}

func (s *memoryWebhookStore) Update(_ context.Context, sub WebhookSubscription) (WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = sub
	return sub, nil
}

func (s *memoryWebhookStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; !ok {
		return ErrWebhookNotFound
	}
	delete(s.subs, id)
	return nil
}

func (s *memoryWebhookStore) ListEnabledForEvent(_ context.Context, event EventType) ([]WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []WebhookSubscription{}
	for _, sub := range s.subs {
		if sub.Enabled && sub.Subscribes(event) {
			out = append(out, sub)
		}
	}
	return out, nil
}

type recordingEnqueuer struct {
	err      error
	messages []*JobExecutionMessage
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, msg *JobExecutionMessage) error {
	if e.err != nil {
		return e.err
	}
	e.messages = append(e.messages, msg)
	return nil
}

type triggeredEvent struct {
	event   EventType
	payload map[string]any
}

type recordingTrigger struct {
	err    error
	events []triggeredEvent
}

func (t *recordingTrigger) Trigger(_ context.Context, event EventType, payload map[string]any) (int, error) {
	t.events = append(t.events, triggeredEvent{event: event, payload: payload})
	if t.err != nil {
		return 0, t.err
	}
	return 1, nil
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	return l.values, nil
}
