package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

const (
	TaskProcessUpload  = "ingest.process_upload"
	TaskDeliverWebhook = "ingest.webhook.deliver"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type JobStore interface {
	Create(ctx context.Context, in CreateJobInput) (Job, error)
	Get(ctx context.Context, id string) (Job, error)
	GetByTaskID(ctx context.Context, taskID string) (Job, error)
	MarkProcessing(ctx context.Context, id string) error
	UpdateProgress(ctx context.Context, id string, progress JobProgress) error
	RecordChunkError(ctx context.Context, id string, message string) error
	Complete(ctx context.Context, id string, progress JobProgress) error
	Fail(ctx context.Context, id string, kind JobErrorKind, message string) error
}

type ProductStore interface {
	Create(ctx context.Context, product Product) (Product, error)
	Get(ctx context.Context, id string) (Product, error)
	Update(ctx context.Context, product Product) (Product, error)
	Delete(ctx context.Context, id string) (Product, error)
	DeleteMany(ctx context.Context, filter ProductDeleteFilter) (int, error)
	Upsert(ctx context.Context, row ProductUpsert) error
	UpsertBatch(ctx context.Context, rows []ProductUpsert) error
}

type WebhookStore interface {
	Create(ctx context.Context, sub WebhookSubscription) (WebhookSubscription, error)
	Get(ctx context.Context, id string) (WebhookSubscription, error)
	List(ctx context.Context) ([]WebhookSubscription, error)
	Update(ctx context.Context, sub WebhookSubscription) (WebhookSubscription, error)
	Delete(ctx context.Context, id string) error
	ListEnabledForEvent(ctx context.Context, event EventType) ([]WebhookSubscription, error)
}

type WebhookDeliveryLedger interface {
	Record(ctx context.Context, delivery WebhookDelivery) (WebhookDelivery, error)
	ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]WebhookDelivery, error)
}

type StoreProvider interface {
	JobStore() JobStore
	ProductStore() ProductStore
	WebhookStore() WebhookStore
	WebhookDeliveryLedger() WebhookDeliveryLedger
}

type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

// EventTrigger fans a record event out to subscribed webhooks.
type EventTrigger interface {
	Trigger(ctx context.Context, event EventType, payload map[string]any) (int, error)
}

type ProgressReader interface {
	Read(ctx context.Context, taskID string) (ProgressSnapshot, error)
}

type JobExecutionMessage struct {
	JobID          string
	ScriptPath     string
	Parameters     map[string]any
	IdempotencyKey string
	DedupPolicy    string
}

type JobNackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

// JobScheduler re-enqueues a message once delay has elapsed.
type JobScheduler interface {
	Schedule(ctx context.Context, msg *JobExecutionMessage, delay time.Duration) error
}

// JobDelivery is one dequeued message. Attempt starts at 1.
type JobDelivery interface {
	Message() *JobExecutionMessage
	Attempt() int
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts JobNackOptions) error
}

type JobDequeuer interface {
	Dequeue(ctx context.Context) (JobDelivery, error)
}

// TaskHandler runs one dequeued message. A returned error asks the worker
// to retry or dead-letter the message.
type TaskHandler interface {
	HandleTask(ctx context.Context, msg *JobExecutionMessage) error
}

type TaskHandlerFunc func(ctx context.Context, msg *JobExecutionMessage) error

func (fn TaskHandlerFunc) HandleTask(ctx context.Context, msg *JobExecutionMessage) error {
	return fn(ctx, msg)
}

type JobWorkerHook interface {
	OnStart(ctx context.Context, event JobWorkerEvent)
	OnSuccess(ctx context.Context, event JobWorkerEvent)
	OnFailure(ctx context.Context, event JobWorkerEvent)
	OnRetry(ctx context.Context, event JobWorkerEvent)
}

type JobWorkerEvent struct {
	Message   *JobExecutionMessage
	Attempt   int
	Delay     time.Duration
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}
