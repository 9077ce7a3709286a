package sqlstore

import (
	"fmt"

	"github.com/goliatone/go-ingest/core"
	"github.com/goliatone/go-ingest/ratelimit"
	persistence "github.com/goliatone/go-persistence-bun"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db *bun.DB

	upsertBatchSize int

	jobStore             *JobStore
	productStore         *ProductStore
	webhookStore         *WebhookStore
	webhookDeliveryStore *WebhookDeliveryStore
	throttleStateStore   *ThrottleStateStore
}

type FactoryOption func(*RepositoryFactory)

// WithUpsertBatchSize bounds the rows sent per INSERT inside a chunk transaction.
func WithUpsertBatchSize(size int) FactoryOption {
	return func(f *RepositoryFactory) {
		if size > 0 {
			f.upsertBatchSize = size
		}
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{upsertBatchSize: DefaultUpsertBatchSize}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.jobStore != nil && f.productStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) JobStore() core.JobStore {
	if f == nil {
		return nil
	}
	return f.jobStore
}

func (f *RepositoryFactory) ProductStore() core.ProductStore {
	if f == nil {
		return nil
	}
	return f.productStore
}

func (f *RepositoryFactory) WebhookStore() core.WebhookStore {
	if f == nil {
		return nil
	}
	return f.webhookStore
}

func (f *RepositoryFactory) WebhookDeliveryLedger() core.WebhookDeliveryLedger {
	if f == nil {
		return nil
	}
	return f.webhookDeliveryStore
}

// ThrottleStateStore backs the webhook endpoint throttle.
func (f *RepositoryFactory) ThrottleStateStore() ratelimit.StateStore {
	if f == nil || f.throttleStateStore == nil {
		return nil
	}
	return f.throttleStateStore
}

func (f *RepositoryFactory) initStores() error {
	jobStore, err := NewJobStore(f.db)
	if err != nil {
		return err
	}
	f.jobStore = jobStore

	productStore, err := NewProductStore(f.db, f.upsertBatchSize)
	if err != nil {
		return err
	}
	f.productStore = productStore

	webhookStore, err := NewWebhookStore(f.db)
	if err != nil {
		return err
	}
	f.webhookStore = webhookStore

	deliveryStore, err := NewWebhookDeliveryStore(f.db)
	if err != nil {
		return err
	}
	f.webhookDeliveryStore = deliveryStore

	throttleStore, err := NewThrottleStateStore(f.db)
	if err != nil {
		return err
	}
	f.throttleStateStore = throttleStore
	return nil
}

func validateRepository[T any](name string, repo repository.Repository[T]) error {
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid %s repository wiring: %w", name, err)
		}
	}
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
