package ingest

import "github.com/goliatone/go-ingest/core"

type Config = core.Config

type Option = core.Option

type Service = core.Service

type StoreProvider = core.StoreProvider
type RepositoryStoreFactory = core.RepositoryStoreFactory
type JobEnqueuer = core.JobEnqueuer
type EventTrigger = core.EventTrigger
type ProgressReader = core.ProgressReader

type UploadRequest = core.UploadRequest
type UploadReceipt = core.UploadReceipt
type BulkDeleteRequest = core.BulkDeleteRequest

var (
	WithLogger                = core.WithLogger
	WithLoggerProvider        = core.WithLoggerProvider
	WithMetricsRecorder       = core.WithMetricsRecorder
	WithErrorMapper           = core.WithErrorMapper
	WithConfigProvider        = core.WithConfigProvider
	WithOptionsResolver       = core.WithOptionsResolver
	WithRepositoryFactory     = core.WithRepositoryFactory
	WithStoreProvider         = core.WithStoreProvider
	WithJobStore              = core.WithJobStore
	WithProductStore          = core.WithProductStore
	WithWebhookStore          = core.WithWebhookStore
	WithWebhookDeliveryLedger = core.WithWebhookDeliveryLedger
	WithJobEnqueuer           = core.WithJobEnqueuer
	WithEventTrigger          = core.WithEventTrigger
	WithProgressReader        = core.WithProgressReader
	WithIDGenerator           = core.WithIDGenerator
	WithClock                 = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}
