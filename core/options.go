package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
	"github.com/google/uuid"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	persistence     any
	storeFactory    RepositoryStoreFactory
	storeProvider   StoreProvider
	jobStore        JobStore
	productStore    ProductStore
	webhookStore    WebhookStore
	deliveryLedger  WebhookDeliveryLedger
	enqueuer        JobEnqueuer
	eventTrigger    EventTrigger
	progressReader  ProgressReader
	idGenerator     func() string
	now             func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

// WithRepositoryFactory builds the stores from persistenceClient when no
// store provider is configured.
func WithRepositoryFactory(factory RepositoryStoreFactory, persistenceClient any) Option {
	return func(b *serviceBuilder) {
		b.storeFactory = factory
		b.persistence = persistenceClient
	}
}

// WithStoreProvider sets every store at once; individual store options win.
func WithStoreProvider(provider StoreProvider) Option {
	return func(b *serviceBuilder) {
		b.storeProvider = provider
	}
}

func WithJobStore(store JobStore) Option {
	return func(b *serviceBuilder) {
		b.jobStore = store
	}
}

func WithProductStore(store ProductStore) Option {
	return func(b *serviceBuilder) {
		b.productStore = store
	}
}

func WithWebhookStore(store WebhookStore) Option {
	return func(b *serviceBuilder) {
		b.webhookStore = store
	}
}

func WithWebhookDeliveryLedger(ledger WebhookDeliveryLedger) Option {
	return func(b *serviceBuilder) {
		b.deliveryLedger = ledger
	}
}

func WithJobEnqueuer(enqueuer JobEnqueuer) Option {
	return func(b *serviceBuilder) {
		b.enqueuer = enqueuer
	}
}

func WithEventTrigger(trigger EventTrigger) Option {
	return func(b *serviceBuilder) {
		b.eventTrigger = trigger
	}
}

func WithProgressReader(reader ProgressReader) Option {
	return func(b *serviceBuilder) {
		b.progressReader = reader
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(b *serviceBuilder) {
		b.idGenerator = fn
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("ingest", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     MapError,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		idGenerator:     uuid.NewString,
		now:             time.Now,
	}
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver merges defaults, loaded config and runtime overrides
// in that order of precedence.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			configToLayerMap(defaults, true),
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			configToLayerMap(loaded, false),
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			configToLayerMap(runtime, false),
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

type layerBuilder struct {
	includeZero bool
	layer       map[string]any
}

func (b *layerBuilder) set(section string, key string, value any, zero bool) {
	if zero && !b.includeZero {
		return
	}
	if section == "" {
		b.layer[key] = value
		return
	}
	nested, ok := b.layer[section].(map[string]any)
	if !ok {
		nested = map[string]any{}
		b.layer[section] = nested
	}
	nested[key] = value
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	b := &layerBuilder{includeZero: includeZero, layer: map[string]any{}}

	b.set("", "service_name", cfg.ServiceName, strings.TrimSpace(cfg.ServiceName) == "")

	b.set("http", "addr", cfg.HTTP.Addr, cfg.HTTP.Addr == "")
	b.set("http", "max_upload_bytes", cfg.HTTP.MaxUploadBytes, cfg.HTTP.MaxUploadBytes == 0)
	b.set("http", "allowed_origins", append([]string(nil), cfg.HTTP.AllowedOrigins...), len(cfg.HTTP.AllowedOrigins) == 0)

	b.set("database", "driver", cfg.Database.Driver, cfg.Database.Driver == "")
	b.set("database", "dsn", cfg.Database.DSN, cfg.Database.DSN == "")
	b.set("database", "debug", cfg.Database.Debug, !cfg.Database.Debug)

	b.set("redis", "addr", cfg.Redis.Addr, cfg.Redis.Addr == "")
	b.set("redis", "password", cfg.Redis.Password, cfg.Redis.Password == "")
	b.set("redis", "db", cfg.Redis.DB, cfg.Redis.DB == 0)
	b.set("redis", "key_prefix", cfg.Redis.KeyPrefix, cfg.Redis.KeyPrefix == "")
	b.set("redis", "state_ttl", cfg.Redis.StateTTL, cfg.Redis.StateTTL == 0)

	b.set("pipeline", "soft_time_limit", cfg.Pipeline.SoftTimeLimit, cfg.Pipeline.SoftTimeLimit == 0)
	b.set("pipeline", "hard_time_limit", cfg.Pipeline.HardTimeLimit, cfg.Pipeline.HardTimeLimit == 0)
	b.set("pipeline", "upsert_batch_size", cfg.Pipeline.UpsertBatchSize, cfg.Pipeline.UpsertBatchSize == 0)
	b.set("pipeline", "small_chunk_size", cfg.Pipeline.SmallChunkSize, cfg.Pipeline.SmallChunkSize == 0)
	b.set("pipeline", "large_chunk_size", cfg.Pipeline.LargeChunkSize, cfg.Pipeline.LargeChunkSize == 0)
	b.set("pipeline", "large_file_rows", cfg.Pipeline.LargeFileRows, cfg.Pipeline.LargeFileRows == 0)

	b.set("streamer", "interval", cfg.Streamer.Interval, cfg.Streamer.Interval == 0)
	b.set("streamer", "max_duration", cfg.Streamer.MaxDuration, cfg.Streamer.MaxDuration == 0)

	b.set("webhooks", "user_agent", cfg.Webhooks.UserAgent, cfg.Webhooks.UserAgent == "")
	b.set("webhooks", "max_retry_delay", cfg.Webhooks.MaxRetryDelay, cfg.Webhooks.MaxRetryDelay == 0)
	b.set("webhooks", "max_response_body_bytes", cfg.Webhooks.MaxResponseBodyBytes, cfg.Webhooks.MaxResponseBodyBytes == 0)
	b.set("webhooks", "subscription_cache_ttl", cfg.Webhooks.SubscriptionCacheTTL, cfg.Webhooks.SubscriptionCacheTTL == 0)
	b.set("webhooks", "secret_key", cfg.Webhooks.SecretKey, cfg.Webhooks.SecretKey == "")

	b.set("worker", "concurrency", cfg.Worker.Concurrency, cfg.Worker.Concurrency == 0)
	b.set("worker", "max_attempts", cfg.Worker.MaxAttempts, cfg.Worker.MaxAttempts == 0)

	return b.layer
}
