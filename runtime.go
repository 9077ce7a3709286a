package ingest

import (
	"context"
	"fmt"

	"github.com/goliatone/go-ingest/adapters/gojob"
	"github.com/goliatone/go-ingest/adapters/gologger"
	"github.com/goliatone/go-ingest/core"
	"github.com/goliatone/go-ingest/pipeline"
	"github.com/goliatone/go-ingest/progress"
	"github.com/goliatone/go-ingest/ratelimit"
	"github.com/goliatone/go-ingest/security"
	sqlstore "github.com/goliatone/go-ingest/store/sql"
	"github.com/goliatone/go-ingest/taskqueue"
	"github.com/goliatone/go-ingest/transport"
	"github.com/goliatone/go-ingest/webhooks"

	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"
)

type RuntimeOption func(*runtimeOptions)

type runtimeOptions struct {
	backend        progress.TaskStateBackend
	httpClient     transport.HTTPDoer
	logger         glog.Logger
	loggerProvider glog.LoggerProvider
	metrics        core.MetricsRecorder
	activePolicy   pipeline.ActivePolicy
	hooks          []core.JobWorkerHook
	serviceOptions []core.Option
}

// WithStateBackend replaces the in-memory task state backend, usually with
// progress.NewRedisBackend.
func WithStateBackend(backend progress.TaskStateBackend) RuntimeOption {
	return func(o *runtimeOptions) {
		o.backend = backend
	}
}

// WithHTTPClient sets the client used for outbound webhook requests.
func WithHTTPClient(client transport.HTTPDoer) RuntimeOption {
	return func(o *runtimeOptions) {
		o.httpClient = client
	}
}

func WithRuntimeLogger(logger glog.Logger) RuntimeOption {
	return func(o *runtimeOptions) {
		o.logger = logger
	}
}

func WithRuntimeLoggerProvider(provider glog.LoggerProvider) RuntimeOption {
	return func(o *runtimeOptions) {
		o.loggerProvider = provider
	}
}

func WithRuntimeMetrics(recorder core.MetricsRecorder) RuntimeOption {
	return func(o *runtimeOptions) {
		o.metrics = recorder
	}
}

func WithActivePolicy(policy pipeline.ActivePolicy) RuntimeOption {
	return func(o *runtimeOptions) {
		o.activePolicy = policy
	}
}

// WithWorkerHooks adds lifecycle callbacks to the worker pool.
func WithWorkerHooks(hooks ...core.JobWorkerHook) RuntimeOption {
	return func(o *runtimeOptions) {
		o.hooks = append(o.hooks, hooks...)
	}
}

// WithServiceOptions forwards options to core.NewService after the runtime
// wiring, so they take precedence.
func WithServiceOptions(opts ...core.Option) RuntimeOption {
	return func(o *runtimeOptions) {
		o.serviceOptions = append(o.serviceOptions, opts...)
	}
}

// Runtime owns the in-process task queue, the worker pool and every
// component that hangs off them. Build it once at startup.
type Runtime struct {
	config   Config
	service  *Service
	facade   *Facade
	queue    *taskqueue.Queue
	pool     *taskqueue.Pool
	streamer *progress.Streamer
	observer *core.Observer
}

func NewRuntime(cfg Config, stores StoreProvider, opts ...RuntimeOption) (*Runtime, error) {
	if stores == nil {
		return nil, fmt.Errorf("ingest: store provider is required")
	}
	options := runtimeOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	resolved, err := core.GoOptionsResolver{}.Resolve(core.DefaultConfig(), Config{}, cfg)
	if err != nil {
		return nil, err
	}

	provider, logger := gologger.Resolve(gologger.DefaultName, options.loggerProvider, options.logger)
	metrics := options.metrics
	if metrics == nil {
		metrics = core.NopMetricsRecorder{}
	}
	observer := core.NewObserver(gologger.Named(provider, "ingest.runtime", logger), metrics, "ingest")

	jobs, products := stores.JobStore(), stores.ProductStore()
	if jobs == nil || products == nil || stores.WebhookStore() == nil {
		return nil, fmt.Errorf("ingest: job, product and webhook stores are required")
	}
	cacheService, err := sqlstore.NewWebhookCacheService(resolved.Webhooks.SubscriptionCacheTTL)
	if err != nil {
		return nil, fmt.Errorf("ingest: webhook cache: %w", err)
	}
	var webhookStore core.WebhookStore = stores.WebhookStore()
	if key := resolved.Webhooks.SecretKey; key != "" {
		sealer, err := security.NewAppKeySecretProviderFromString(key)
		if err != nil {
			return nil, fmt.Errorf("ingest: webhook secret key: %w", err)
		}
		if webhookStore, err = security.NewSealedWebhookStore(webhookStore, sealer); err != nil {
			return nil, err
		}
	}
	subscriptions, err := sqlstore.NewCachedWebhookStore(webhookStore, cacheService)
	if err != nil {
		return nil, err
	}

	backend := options.backend
	if backend == nil {
		backend = progress.NewMemoryBackend(resolved.Redis.StateTTL)
	}

	queue := taskqueue.NewQueue(taskqueue.WithQueueLogger(
		gologger.ToJobLogger(gologger.Named(provider, "ingest.queue", logger)),
	))
	enqueuer := gojob.NewEnqueuerAdapter(queue)

	reporter, err := progress.NewReporter(jobs, backend, observer)
	if err != nil {
		return nil, err
	}
	reader, err := progress.NewReader(jobs, backend, observer)
	if err != nil {
		return nil, err
	}
	streamer, err := progress.NewStreamer(reader, resolved.Streamer, observer)
	if err != nil {
		return nil, err
	}

	pipelineOpts := []pipeline.Option{pipeline.WithObserver(observer)}
	if options.activePolicy != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithActivePolicy(options.activePolicy))
	}
	ingestPipeline, err := pipeline.New(jobs, products, reporter, resolved.Pipeline, pipelineOpts...)
	if err != nil {
		return nil, err
	}

	dispatcher, err := webhooks.NewDispatcher(subscriptions, enqueuer, observer)
	if err != nil {
		return nil, err
	}
	adapter := transport.NewJSONAdapter(options.httpClient)
	adapter.SetMaxResponseBodyBytes(resolved.Webhooks.MaxResponseBodyBytes)
	var throttleStates ratelimit.StateStore = ratelimit.NewMemoryStateStore()
	if source, ok := stores.(interface{ ThrottleStateStore() ratelimit.StateStore }); ok {
		if shared := source.ThrottleStateStore(); shared != nil {
			throttleStates = shared
		}
	}
	throttle := ratelimit.NewAdaptivePolicy(throttleStates)
	throttle.MaxBackoff = resolved.Webhooks.MaxRetryDelay
	sender, err := webhooks.NewSender(subscriptions, adapter,
		webhooks.WithRetryPolicy(webhooks.ExponentialRetryPolicy{Max: resolved.Webhooks.MaxRetryDelay}),
		webhooks.WithUserAgent(resolved.Webhooks.UserAgent),
		webhooks.WithResponseBodyLimit(resolved.Webhooks.MaxResponseBodyBytes),
		webhooks.WithSenderObserver(observer),
		webhooks.WithThrottle(throttle),
	)
	if err != nil {
		return nil, err
	}
	deliveries, err := webhooks.NewDeliveryHandler(
		sender,
		stores.WebhookDeliveryLedger(),
		gojob.NewSchedulerAdapter(queue),
		observer,
	)
	if err != nil {
		return nil, err
	}

	hooks := []core.JobWorkerHook{taskqueue.NewObserverHook(observer)}
	hooks = append(hooks, options.hooks...)
	pool, err := taskqueue.NewPool(
		gojob.NewDequeuerAdapter(queue, gojob.RetryPolicy{
			MaxAttempts:     resolved.Worker.MaxAttempts,
			DeadLetterOnMax: true,
		}),
		taskqueue.WithConcurrency(resolved.Worker.Concurrency),
		taskqueue.WithMaxAttempts(resolved.Worker.MaxAttempts),
		taskqueue.WithPoolLogger(gologger.Named(provider, "ingest.worker", logger)),
		taskqueue.WithHooks(workerHooks(hooks)...),
	)
	if err != nil {
		return nil, err
	}
	if err := pool.Register(core.TaskProcessUpload, ingestPipeline); err != nil {
		return nil, err
	}
	if err := pool.Register(core.TaskDeliverWebhook, deliveries); err != nil {
		return nil, err
	}

	serviceOpts := []core.Option{
		core.WithStoreProvider(stores),
		core.WithWebhookStore(subscriptions),
		core.WithJobEnqueuer(enqueuer),
		core.WithEventTrigger(dispatcher),
		core.WithProgressReader(reader),
		core.WithLogger(logger),
		core.WithLoggerProvider(provider),
		core.WithMetricsRecorder(metrics),
	}
	service, err := core.NewService(resolved, append(serviceOpts, options.serviceOptions...)...)
	if err != nil {
		return nil, err
	}
	facade, err := NewFacade(service)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		config:   service.Config(),
		service:  service,
		facade:   facade,
		queue:    queue,
		pool:     pool,
		streamer: streamer,
		observer: observer,
	}, nil
}

func (r *Runtime) Config() Config               { return r.config }
func (r *Runtime) Service() *Service            { return r.service }
func (r *Runtime) Facade() *Facade              { return r.facade }
func (r *Runtime) Queue() *taskqueue.Queue      { return r.queue }
func (r *Runtime) Streamer() *progress.Streamer { return r.streamer }

// Run drives the worker pool until ctx is cancelled or Close is called.
func (r *Runtime) Run(ctx context.Context) error {
	if r == nil || r.pool == nil {
		return fmt.Errorf("ingest: runtime is not configured")
	}
	r.observer.Info(ctx, "worker pool started", map[string]any{
		"concurrency":  r.config.Worker.Concurrency,
		"max_attempts": r.config.Worker.MaxAttempts,
	})
	err := r.pool.Run(ctx)
	r.observer.Info(context.Background(), "worker pool stopped", map[string]any{
		"pending":      r.queue.Len(),
		"scheduled":    r.queue.Scheduled(),
		"dead_letters": len(r.queue.DeadLetters()),
	})
	return err
}

// Close stops the queue. Pending and scheduled tasks are discarded.
func (r *Runtime) Close() error {
	if r == nil || r.queue == nil {
		return nil
	}
	return r.queue.Close()
}

func workerHooks(hooks []core.JobWorkerHook) []worker.Hook {
	out := make([]worker.Hook, 0, len(hooks))
	for _, hook := range hooks {
		if hook != nil {
			out = append(out, gojob.NewWorkerHookAdapter(hook))
		}
	}
	return out
}
