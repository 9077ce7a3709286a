package core

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type UploadFormat string

const (
	UploadFormatCSV  UploadFormat = "csv"
	UploadFormatXLSX UploadFormat = "xlsx"
)

type UploadRequest struct {
	Filename    string
	ContentType string
	Payload     []byte
}

type UploadReceipt struct {
	Message     string    `json:"message"`
	Filename    string    `json:"filename"`
	UploadJobID string    `json:"upload_job_id"`
	TaskID      string    `json:"task_id"`
	Status      JobStatus `json:"status"`
}

type BulkDeleteRequest struct {
	Confirm bool
	Active  *bool
}

type BulkDeleteResult struct {
	Deleted int `json:"deleted"`
}

const (
	ParamUploadJobID = "upload_job_id"
	ParamPayload     = "payload"
	ParamFilename    = "filename"
	ParamFormat      = "format"
)

const defaultDeliveryListLimit = 50

type Service struct {
	config         Config
	logger         Logger
	loggerProvider LoggerProvider
	observer       *Observer
	errorMapper    ErrorMapper
	jobs           JobStore
	products       ProductStore
	webhooks       WebhookStore
	deliveries     WebhookDeliveryLedger
	enqueuer       JobEnqueuer
	trigger        EventTrigger
	progress       ProgressReader
	newID          func() string
	now            func() time.Time
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("ingest", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("ingest.service"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = MapError
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.idGenerator == nil {
		builder.idGenerator = defaultServiceBuilder(cfg).idGenerator
	}
	if builder.now == nil {
		builder.now = time.Now
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.storeProvider == nil && builder.storeFactory != nil {
		built, buildErr := builder.storeFactory.BuildStores(builder.persistence)
		if buildErr != nil {
			return nil, mapBuildError(builder.errorMapper, buildErr)
		}
		builder.storeProvider = built
	}
	if builder.storeProvider != nil {
		if builder.jobStore == nil {
			builder.jobStore = builder.storeProvider.JobStore()
		}
		if builder.productStore == nil {
			builder.productStore = builder.storeProvider.ProductStore()
		}
		if builder.webhookStore == nil {
			builder.webhookStore = builder.storeProvider.WebhookStore()
		}
		if builder.deliveryLedger == nil {
			builder.deliveryLedger = builder.storeProvider.WebhookDeliveryLedger()
		}
	}

	return &Service{
		config:         finalConfig,
		logger:         logger,
		loggerProvider: provider,
		observer:       NewObserver(logger, builder.metricsRecorder, "ingest"),
		errorMapper:    builder.errorMapper,
		jobs:           builder.jobStore,
		products:       builder.productStore,
		webhooks:       builder.webhookStore,
		deliveries:     builder.deliveryLedger,
		enqueuer:       builder.enqueuer,
		trigger:        builder.eventTrigger,
		progress:       builder.progressReader,
		newID:          builder.idGenerator,
		now:            builder.now,
	}, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	if mapped := mapper(err); mapped != nil {
		return mapped
	}
	return err
}

func (s *Service) Config() Config {
	if s == nil {
		return DefaultConfig()
	}
	return s.config
}

func (s *Service) Logger() Logger {
	if s == nil {
		return glog.Nop()
	}
	return s.logger
}

func (s *Service) mapError(err error) error {
	if err == nil || s == nil || s.errorMapper == nil {
		return err
	}
	if mapped := s.errorMapper(err); mapped != nil {
		return mapped
	}
	return err
}

// DetectUploadFormat accepts .csv and .xlsx files whose declared content
// type, when present, agrees with the extension.
func DetectUploadFormat(filename string, contentType string) (UploadFormat, error) {
	ext := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	generic := contentType == "" || contentType == "application/octet-stream"

	switch ext {
	case ".csv":
		if generic || strings.Contains(contentType, "csv") || contentType == "text/plain" {
			return UploadFormatCSV, nil
		}
		return "", NewBadInputError("Invalid content type. Expected CSV file.")
	case ".xlsx":
		if generic || strings.Contains(contentType, "spreadsheetml") || strings.Contains(contentType, "excel") {
			return UploadFormatXLSX, nil
		}
		return "", NewBadInputError("Invalid content type. Expected XLSX file.")
	default:
		return "", NewBadInputError("File must be a CSV file")
	}
}

// SubmitUpload records a pending job and hands the payload to the
// processing queue.
func (s *Service) SubmitUpload(ctx context.Context, req UploadRequest) (receipt UploadReceipt, err error) {
	startedAt := time.Now()
	fields := map[string]any{"filename": req.Filename}
	defer func() {
		s.observer.Observe(ctx, startedAt, "submit_upload", err, fields)
	}()

	if s.jobs == nil || s.enqueuer == nil {
		return UploadReceipt{}, s.mapError(fmt.Errorf("core: upload pipeline is not configured"))
	}
	format, err := DetectUploadFormat(req.Filename, req.ContentType)
	if err != nil {
		return UploadReceipt{}, err
	}
	if len(req.Payload) == 0 {
		return UploadReceipt{}, NewBadInputError("Uploaded file is empty")
	}
	if limit := s.config.HTTP.MaxUploadBytes; limit > 0 && int64(len(req.Payload)) > limit {
		return UploadReceipt{}, NewBadInputError(fmt.Sprintf("Uploaded file exceeds the %d byte limit", limit))
	}

	taskID := s.newID()
	fields["task_id"] = taskID
	job, err := s.jobs.Create(ctx, CreateJobInput{TaskID: taskID, Filename: req.Filename})
	if err != nil {
		return UploadReceipt{}, s.mapError(err)
	}
	fields["upload_job_id"] = job.ID

	msg := &JobExecutionMessage{
		JobID:          TaskProcessUpload,
		IdempotencyKey: taskID,
		Parameters: map[string]any{
			ParamUploadJobID: job.ID,
			ParamPayload:     req.Payload,
			ParamFilename:    req.Filename,
			ParamFormat:      string(format),
		},
	}
	if err = s.enqueuer.Enqueue(ctx, msg); err != nil {
		message := Truncate("Failed to queue upload for processing: "+err.Error(), MaxFailureMessageLength)
		if failErr := s.jobs.Fail(ctx, job.ID, JobErrorKindInternal, message); failErr != nil {
			s.observer.Error(ctx, "mark unqueued job failed", map[string]any{
				"upload_job_id": job.ID,
				"error":         failErr.Error(),
			})
		}
		return UploadReceipt{}, s.mapError(err)
	}

	return UploadReceipt{
		Message:     "File uploaded successfully. Processing started.",
		Filename:    req.Filename,
		UploadJobID: job.ID,
		TaskID:      taskID,
		Status:      JobStatusPending,
	}, nil
}

func (s *Service) GetProgress(ctx context.Context, taskID string) (ProgressSnapshot, error) {
	if s.progress == nil {
		return ProgressSnapshot{}, s.mapError(fmt.Errorf("core: progress reader is not configured"))
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return ProgressSnapshot{}, NewValidationError("task_id", "task_id is required")
	}
	snapshot, err := s.progress.Read(ctx, taskID)
	if err != nil {
		return ProgressSnapshot{}, s.mapError(err)
	}
	return snapshot, nil
}

func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (product Product, err error) {
	startedAt := time.Now()
	defer func() {
		s.observer.Observe(ctx, startedAt, "create_product", err, map[string]any{"sku": product.SKU})
	}()
	if s.products == nil {
		return Product{}, s.mapError(fmt.Errorf("core: product store is not configured"))
	}
	normalized, err := in.Normalize()
	if err != nil {
		return Product{}, err
	}
	product, err = s.products.Create(ctx, normalized)
	if err != nil {
		return Product{}, s.mapError(err)
	}
	s.fire(ctx, EventRecordCreated, product)
	return product, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (Product, error) {
	if s.products == nil {
		return Product{}, s.mapError(fmt.Errorf("core: product store is not configured"))
	}
	product, err := s.products.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return Product{}, s.mapError(err)
	}
	return product, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, patch ProductPatch) (product Product, err error) {
	startedAt := time.Now()
	defer func() {
		s.observer.Observe(ctx, startedAt, "update_product", err, map[string]any{"product_id": id})
	}()
	if s.products == nil {
		return Product{}, s.mapError(fmt.Errorf("core: product store is not configured"))
	}
	current, err := s.products.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return Product{}, s.mapError(err)
	}
	if patch.IsEmpty() {
		return current, nil
	}
	next, err := patch.Apply(current)
	if err != nil {
		return Product{}, err
	}
	product, err = s.products.Update(ctx, next)
	if err != nil {
		return Product{}, s.mapError(err)
	}
	s.fire(ctx, EventRecordUpdated, product)
	return product, nil
}

func (s *Service) DeleteProduct(ctx context.Context, id string) (err error) {
	startedAt := time.Now()
	defer func() {
		s.observer.Observe(ctx, startedAt, "delete_product", err, map[string]any{"product_id": id})
	}()
	if s.products == nil {
		return s.mapError(fmt.Errorf("core: product store is not configured"))
	}
	product, err := s.products.Delete(ctx, strings.TrimSpace(id))
	if err != nil {
		return s.mapError(err)
	}
	s.fire(ctx, EventRecordDeleted, product)
	return nil
}

// DeleteProducts removes every product matching the filter. No per-record
// events are fired for bulk deletes.
func (s *Service) DeleteProducts(ctx context.Context, req BulkDeleteRequest) (result BulkDeleteResult, err error) {
	startedAt := time.Now()
	defer func() {
		s.observer.Observe(ctx, startedAt, "delete_products", err, map[string]any{"deleted": result.Deleted})
	}()
	if s.products == nil {
		return BulkDeleteResult{}, s.mapError(fmt.Errorf("core: product store is not configured"))
	}
	if !req.Confirm {
		return BulkDeleteResult{}, NewBadInputError("Bulk delete requires confirm=true")
	}
	deleted, err := s.products.DeleteMany(ctx, ProductDeleteFilter{Active: req.Active})
	if err != nil {
		return BulkDeleteResult{}, s.mapError(err)
	}
	return BulkDeleteResult{Deleted: deleted}, nil
}

func (s *Service) CreateWebhook(ctx context.Context, in WebhookInput) (WebhookSubscription, error) {
	if s.webhooks == nil {
		return WebhookSubscription{}, s.mapError(fmt.Errorf("core: webhook store is not configured"))
	}
	sub, err := in.Normalize()
	if err != nil {
		return WebhookSubscription{}, err
	}
	created, err := s.webhooks.Create(ctx, sub)
	if err != nil {
		return WebhookSubscription{}, s.mapError(err)
	}
	return created, nil
}

func (s *Service) GetWebhook(ctx context.Context, id string) (WebhookSubscription, error) {
	if s.webhooks == nil {
		return WebhookSubscription{}, s.mapError(fmt.Errorf("core: webhook store is not configured"))
	}
	sub, err := s.webhooks.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return WebhookSubscription{}, s.mapError(err)
	}
	return sub, nil
}

func (s *Service) ListWebhooks(ctx context.Context) ([]WebhookSubscription, error) {
	if s.webhooks == nil {
		return nil, s.mapError(fmt.Errorf("core: webhook store is not configured"))
	}
	subs, err := s.webhooks.List(ctx)
	if err != nil {
		return nil, s.mapError(err)
	}
	return subs, nil
}

func (s *Service) UpdateWebhook(ctx context.Context, id string, patch WebhookPatch) (WebhookSubscription, error) {
	current, err := s.GetWebhook(ctx, id)
	if err != nil {
		return WebhookSubscription{}, err
	}
	next, err := patch.Apply(current)
	if err != nil {
		return WebhookSubscription{}, err
	}
	updated, err := s.webhooks.Update(ctx, next)
	if err != nil {
		return WebhookSubscription{}, s.mapError(err)
	}
	return updated, nil
}

func (s *Service) DeleteWebhook(ctx context.Context, id string) error {
	if s.webhooks == nil {
		return s.mapError(fmt.Errorf("core: webhook store is not configured"))
	}
	if err := s.webhooks.Delete(ctx, strings.TrimSpace(id)); err != nil {
		return s.mapError(err)
	}
	return nil
}

func (s *Service) ListWebhookDeliveries(ctx context.Context, id string, limit int) ([]WebhookDelivery, error) {
	if s.deliveries == nil {
		return nil, s.mapError(fmt.Errorf("core: webhook delivery ledger is not configured"))
	}
	if _, err := s.GetWebhook(ctx, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultDeliveryListLimit
	}
	deliveries, err := s.deliveries.ListBySubscription(ctx, strings.TrimSpace(id), limit)
	if err != nil {
		return nil, s.mapError(err)
	}
	return deliveries, nil
}

// fire notifies subscribers; dispatch failures are logged and never fail
// the mutation that caused them.
func (s *Service) fire(ctx context.Context, event EventType, product Product) {
	if s.trigger == nil {
		return
	}
	queued, err := s.trigger.Trigger(ctx, event, product.Payload())
	if err != nil {
		s.observer.Warn(ctx, "webhook trigger failed", map[string]any{
			"event_type": string(event),
			"product_id": product.ID,
			"error":      err.Error(),
		})
		return
	}
	s.observer.Debug(ctx, "webhook trigger queued", map[string]any{
		"event_type": string(event),
		"product_id": product.ID,
		"queued":     queued,
	})
}
