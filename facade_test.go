package ingest

import (
	"context"
	"testing"

	"github.com/goliatone/go-ingest/adapters/gocommand"
	ingestcommand "github.com/goliatone/go-ingest/command"
	"github.com/goliatone/go-ingest/core"
	ingestquery "github.com/goliatone/go-ingest/query"

	"github.com/goliatone/go-command"
)

func TestNewFacade_WiresCommandsAndQueries(t *testing.T) {
	facade, err := NewFacade(&stubFacadeService{})
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	commands := facade.Commands()
	if commands.SubmitUpload == nil || commands.CreateProduct == nil || commands.DeleteProducts == nil ||
		commands.CreateWebhook == nil || commands.DeleteWebhook == nil {
		t.Fatalf("expected command handlers to be wired")
	}
	queries := facade.Queries()
	if queries.GetProgress == nil || queries.GetProduct == nil || queries.ListWebhookDeliveries == nil {
		t.Fatalf("expected query handlers to be wired")
	}
	if facade.Service() == nil {
		t.Fatalf("expected service exposed")
	}
}

func TestFacade_CommandAndQueryDelegation(t *testing.T) {
	svc := &stubFacadeService{}
	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	if err := facade.Commands().DeleteProduct.Execute(context.Background(), ingestcommand.DeleteProductMessage{
		ProductID: "prod-1",
	}); err != nil {
		t.Fatalf("execute delete command: %v", err)
	}
	if svc.lastDeletedID != "prod-1" {
		t.Fatalf("unexpected delete delegation %q", svc.lastDeletedID)
	}

	snapshot, err := facade.Queries().GetProgress.Query(context.Background(), ingestquery.GetProgressMessage{TaskID: "task-1"})
	if err != nil {
		t.Fatalf("query progress: %v", err)
	}
	if snapshot.TaskID != "task-1" || snapshot.Status != core.JobStatusProcessing {
		t.Fatalf("unexpected progress snapshot %#v", snapshot)
	}
}

func TestFacade_RegisterSubscribesEveryHandler(t *testing.T) {
	svc := &stubFacadeService{}
	facade, err := NewFacade(svc)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	subs, err := facade.Register(gocommand.NewRegistryAdapter(command.NewRegistry()))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	t.Cleanup(func() { Unsubscribe(subs) })
	if len(subs) != 13 {
		t.Fatalf("expected 13 subscriptions, got %d", len(subs))
	}

	ctx := context.Background()
	if err := gocommand.Dispatch(ctx, ingestcommand.DeleteProductMessage{ProductID: "prod-9"}); err != nil {
		t.Fatalf("dispatch delete: %v", err)
	}
	if svc.lastDeletedID != "prod-9" {
		t.Fatalf("expected dispatched delete to reach service, got %q", svc.lastDeletedID)
	}

	product, err := gocommand.Query[ingestquery.GetProductMessage, core.Product](ctx, ingestquery.GetProductMessage{
		ProductID: "prod-2",
	})
	if err != nil {
		t.Fatalf("query product: %v", err)
	}
	if product.ID != "prod-2" || product.SKU != "sku-2" {
		t.Fatalf("unexpected product %#v", product)
	}
}

func TestNewFacade_RequiresService(t *testing.T) {
	facade, err := NewFacade(nil)
	if err == nil {
		t.Fatalf("expected nil service error")
	}
	if facade != nil {
		t.Fatalf("expected nil facade on error")
	}
	var empty *Facade
	if empty.Commands().SubmitUpload != nil || empty.Service() != nil {
		t.Fatalf("expected nil facade accessors to be safe")
	}
	if _, err := empty.Register(nil); err == nil {
		t.Fatalf("expected nil facade register to fail")
	}
}

type stubFacadeService struct {
	lastDeletedID string
}

func (s *stubFacadeService) SubmitUpload(_ context.Context, req core.UploadRequest) (core.UploadReceipt, error) {
	return core.UploadReceipt{Filename: req.Filename, TaskID: "task-1", Status: core.JobStatusPending}, nil
}

func (s *stubFacadeService) CreateProduct(_ context.Context, in core.ProductInput) (core.Product, error) {
	return core.Product{ID: "prod-1", SKU: in.SKU, Name: in.Name}, nil
}

func (s *stubFacadeService) UpdateProduct(_ context.Context, id string, _ core.ProductPatch) (core.Product, error) {
	return core.Product{ID: id}, nil
}

func (s *stubFacadeService) DeleteProduct(_ context.Context, id string) error {
	s.lastDeletedID = id
	return nil
}

func (s *stubFacadeService) DeleteProducts(context.Context, core.BulkDeleteRequest) (core.BulkDeleteResult, error) {
	return core.BulkDeleteResult{Deleted: 2}, nil
}

func (s *stubFacadeService) CreateWebhook(_ context.Context, in core.WebhookInput) (core.WebhookSubscription, error) {
	return core.WebhookSubscription{ID: "hook-1", URL: in.URL}, nil
}

func (s *stubFacadeService) UpdateWebhook(_ context.Context, id string, _ core.WebhookPatch) (core.WebhookSubscription, error) {
	return core.WebhookSubscription{ID: id}, nil
}

func (s *stubFacadeService) DeleteWebhook(context.Context, string) error {
	return nil
}

func (s *stubFacadeService) GetProgress(_ context.Context, taskID string) (core.ProgressSnapshot, error) {
	return core.ProgressSnapshot{TaskID: taskID, Status: core.JobStatusProcessing, Progress: 40}, nil
}

func (s *stubFacadeService) GetProduct(_ context.Context, id string) (core.Product, error) {
	return core.Product{ID: id, SKU: "sku-2"}, nil
}

func (s *stubFacadeService) GetWebhook(_ context.Context, id string) (core.WebhookSubscription, error) {
	return core.WebhookSubscription{ID: id}, nil
}

func (s *stubFacadeService) ListWebhooks(context.Context) ([]core.WebhookSubscription, error) {
	return []core.WebhookSubscription{{ID: "hook-1"}}, nil
}

func (s *stubFacadeService) ListWebhookDeliveries(context.Context, string, int) ([]core.WebhookDelivery, error) {
	return nil, nil
}

var _ CommandQueryService = (*stubFacadeService)(nil)
var _ CommandQueryService = (*core.Service)(nil)
