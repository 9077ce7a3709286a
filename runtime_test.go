package ingest_test

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ingest "github.com/goliatone/go-ingest"
	"github.com/goliatone/go-ingest/core"
	ingestmigrations "github.com/goliatone/go-ingest/migrations"
	"github.com/goliatone/go-ingest/security"
	sqlstore "github.com/goliatone/go-ingest/store/sql"
	"github.com/goliatone/go-ingest/webhooks"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type runtimePersistenceConfig struct {
	dsn string
}

func (runtimePersistenceConfig) GetDebug() bool                { return false }
func (runtimePersistenceConfig) GetDriver() string             { return "sqlite3" }
func (c runtimePersistenceConfig) GetServer() string           { return c.dsn }
func (runtimePersistenceConfig) GetPingTimeout() time.Duration { return time.Second }
func (runtimePersistenceConfig) GetOtelIdentifier() string     { return "go-ingest-runtime-tests" }

type receivedWebhook struct {
	header http.Header
	body   []byte
}

func TestRuntime_UploadAndWebhookRoundTrip(t *testing.T) {
	const secret = "s3cret"
	received := make(chan receivedWebhook, 4)
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- receivedWebhook{header: r.Header.Clone(), body: body}
		w.WriteHeader(http.StatusOK)
	}))
	defer endpoint.Close()

	cfg := ingest.DefaultConfig()
	cfg.Worker.Concurrency = 2
	cfg.Streamer.Interval = 200 * time.Millisecond
	rt, err := ingest.NewRuntime(cfg, newRuntimeStores(t), ingest.WithHTTPClient(endpoint.Client()))
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	if rt.Config().Worker.Concurrency != 2 {
		t.Fatalf("expected runtime override kept, got %d", rt.Config().Worker.Concurrency)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = rt.Close()
	})

	svc := rt.Service()
	hook, err := svc.CreateWebhook(ctx, core.WebhookInput{
		URL:        endpoint.URL,
		EventTypes: []string{string(core.EventRecordCreated)},
		Secret:     secret,
	})
	if err != nil {
		t.Fatalf("create webhook: %v", err)
	}
	if _, err := svc.CreateProduct(ctx, core.ProductInput{SKU: "RT-1", Name: "Runtime"}); err != nil {
		t.Fatalf("create product: %v", err)
	}

	select {
	case got := <-received:
		if got.header.Get(webhooks.HeaderEvent) != string(core.EventRecordCreated) {
			t.Fatalf("unexpected event header %q", got.header.Get(webhooks.HeaderEvent))
		}
		if err := (webhooks.SignatureVerifier{Secret: secret}).Verify(got.header, got.body); err != nil {
			t.Fatalf("signature did not verify: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("webhook was not delivered")
	}

	waitUntil(t, func() bool {
		deliveries, err := svc.ListWebhookDeliveries(ctx, hook.ID, 10)
		return err == nil && len(deliveries) == 1 && deliveries[0].Status == core.DeliveryStatusSuccess
	})

	receipt, err := svc.SubmitUpload(ctx, core.UploadRequest{
		Filename:    "items.csv",
		ContentType: "text/csv",
		Payload:     []byte("sku,name,description\nrt-2,Second,\nrt-3,Third,hello\n"),
	})
	if err != nil {
		t.Fatalf("submit upload: %v", err)
	}
	if receipt.Status != core.JobStatusPending || receipt.TaskID == "" {
		t.Fatalf("unexpected receipt %+v", receipt)
	}

	var frames []core.StreamMessage
	streamCtx, stopStream := context.WithTimeout(ctx, 5*time.Second)
	defer stopStream()
	if err := rt.Streamer().Stream(streamCtx, receipt.TaskID, func(msg core.StreamMessage) error {
		frames = append(frames, msg)
		return nil
	}); err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(frames) < 2 || !frames[len(frames)-1].Done {
		t.Fatalf("expected stream to end with done marker, got %+v", frames)
	}
	last := frames[len(frames)-2].Snapshot
	if last == nil || last.Status != core.JobStatusCompleted || last.Progress != 100 || last.ProcessedRows != 2 {
		t.Fatalf("unexpected final snapshot %+v", last)
	}

	snapshot, err := svc.GetProgress(ctx, receipt.TaskID)
	if err != nil {
		t.Fatalf("get progress: %v", err)
	}
	if snapshot.TaskState != core.TaskStateSuccess {
		t.Fatalf("expected task success, got %+v", snapshot)
	}
	if len(rt.Queue().DeadLetters()) != 0 {
		t.Fatalf("expected no dead letters, got %+v", rt.Queue().DeadLetters())
	}
}

func TestRuntime_SealsWebhookSecretsWithKey(t *testing.T) {
	cfg := ingest.DefaultConfig()
	cfg.Webhooks.SecretKey = "runtime-sealing-key"
	stores := newRuntimeStores(t)
	rt, err := ingest.NewRuntime(cfg, stores)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	ctx := context.Background()
	hook, err := rt.Service().CreateWebhook(ctx, core.WebhookInput{
		URL:        "https://example.com/hooks",
		EventTypes: []string{string(core.EventRecordDeleted)},
		Secret:     "plain-secret",
	})
	if err != nil {
		t.Fatalf("create webhook: %v", err)
	}

	raw, err := stores.WebhookStore().Get(ctx, hook.ID)
	if err != nil {
		t.Fatalf("raw get: %v", err)
	}
	if !security.IsSealed(raw.Secret) || strings.Contains(raw.Secret, "plain-secret") {
		t.Fatalf("expected sealed secret at rest, got %q", raw.Secret)
	}
	got, err := rt.Service().GetWebhook(ctx, hook.ID)
	if err != nil {
		t.Fatalf("get webhook: %v", err)
	}
	if got.Secret != "plain-secret" {
		t.Fatalf("expected opened secret through the service, got %q", got.Secret)
	}
}

func TestNewRuntime_RequiresStores(t *testing.T) {
	if _, err := ingest.NewRuntime(ingest.DefaultConfig(), nil); err == nil {
		t.Fatalf("expected missing stores to fail")
	}
	var rt *ingest.Runtime
	if err := rt.Close(); err != nil {
		t.Fatalf("expected nil runtime close to be a no-op: %v", err)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func newRuntimeStores(t *testing.T) core.StoreProvider {
	t.Helper()
	dsn := fmt.Sprintf("file:ingest-runtime-%d?mode=memory&cache=shared&_foreign_keys=on", time.Now().UnixNano())
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	client, err := persistence.New(runtimePersistenceConfig{dsn: dsn}, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	if _, err := ingestmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect == ingestmigrations.DialectSQLite {
			client.RegisterSQLMigrations(fsys)
		}
		return nil
	}, ingestmigrations.WithValidationTargets(ingestmigrations.DialectSQLite)); err != nil {
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	stores, err := sqlstore.NewRepositoryFactory().BuildStores(client)
	if err != nil {
		t.Fatalf("build stores: %v", err)
	}
	return stores
}
