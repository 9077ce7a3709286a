package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-ingest/core"
)

type UploadService interface {
	SubmitUpload(ctx context.Context, req core.UploadRequest) (core.UploadReceipt, error)
}

type ProductMutatingService interface {
	CreateProduct(ctx context.Context, in core.ProductInput) (core.Product, error)
	UpdateProduct(ctx context.Context, id string, patch core.ProductPatch) (core.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	DeleteProducts(ctx context.Context, req core.BulkDeleteRequest) (core.BulkDeleteResult, error)
}

type WebhookMutatingService interface {
	CreateWebhook(ctx context.Context, in core.WebhookInput) (core.WebhookSubscription, error)
	UpdateWebhook(ctx context.Context, id string, patch core.WebhookPatch) (core.WebhookSubscription, error)
	DeleteWebhook(ctx context.Context, id string) error
}

type SubmitUploadCommand struct {
	service UploadService
}

func NewSubmitUploadCommand(service UploadService) *SubmitUploadCommand {
	return &SubmitUploadCommand{service: service}
}

func (c *SubmitUploadCommand) Execute(ctx context.Context, msg SubmitUploadMessage) error {
	if c == nil || c.service == nil {
		return core.NewInternalError("command: upload service is required")
	}
	out, err := c.service.SubmitUpload(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CreateProductCommand struct {
	service ProductMutatingService
}

func NewCreateProductCommand(service ProductMutatingService) *CreateProductCommand {
	return &CreateProductCommand{service: service}
}

func (c *CreateProductCommand) Execute(ctx context.Context, msg CreateProductMessage) error {
	if c == nil || c.service == nil {
		return core.NewInternalError("command: product service is required")
	}
	out, err := c.service.CreateProduct(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UpdateProductCommand struct {
	service ProductMutatingService
}

func NewUpdateProductCommand(service ProductMutatingService) *UpdateProductCommand {
	return &UpdateProductCommand{service: service}
}

func (c *UpdateProductCommand) Execute(ctx context.Context, msg UpdateProductMessage) error {
	if c == nil || c.service == nil {
		return core.NewInternalError("command: product service is required")
	}
	out, err := c.service.UpdateProduct(ctx, msg.ProductID, msg.Patch)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DeleteProductCommand struct {
	service ProductMutatingService
}

func NewDeleteProductCommand(service ProductMutatingService) *DeleteProductCommand {
	return &DeleteProductCommand{service: service}
}

func (c *DeleteProductCommand) Execute(ctx context.Context, msg DeleteProductMessage) error {
	if c == nil || c.service == nil {
		return core.NewInternalError("command: product service is required")
	}
	return c.service.DeleteProduct(ctx, msg.ProductID)
}

type DeleteProductsCommand struct {
	service ProductMutatingService
}

func NewDeleteProductsCommand(service ProductMutatingService) *DeleteProductsCommand {
	return &DeleteProductsCommand{service: service}
}

func (c *DeleteProductsCommand) Execute(ctx context.Context, msg DeleteProductsMessage) error {
	if c == nil || c.service == nil {
		return core.NewInternalError("command: product service is required")
	}
	out, err := c.service.DeleteProducts(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CreateWebhookCommand struct {
	service WebhookMutatingService
}

func NewCreateWebhookCommand(service WebhookMutatingService) *CreateWebhookCommand {
	return &CreateWebhookCommand{service: service}
}

func (c *CreateWebhookCommand) Execute(ctx context.Context, msg CreateWebhookMessage) error {
	if c == nil || c.service == nil {
		return core.NewInternalError("command: webhook service is required")
	}
	out, err := c.service.CreateWebhook(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UpdateWebhookCommand struct {
	service WebhookMutatingService
}

func NewUpdateWebhookCommand(service WebhookMutatingService) *UpdateWebhookCommand {
	return &UpdateWebhookCommand{service: service}
}

func (c *UpdateWebhookCommand) Execute(ctx context.Context, msg UpdateWebhookMessage) error {
	if c == nil || c.service == nil {
		return core.NewInternalError("command: webhook service is required")
	}
	out, err := c.service.UpdateWebhook(ctx, msg.WebhookID, msg.Patch)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DeleteWebhookCommand struct {
	service WebhookMutatingService
}

func NewDeleteWebhookCommand(service WebhookMutatingService) *DeleteWebhookCommand {
	return &DeleteWebhookCommand{service: service}
}

func (c *DeleteWebhookCommand) Execute(ctx context.Context, msg DeleteWebhookMessage) error {
	if c == nil || c.service == nil {
		return core.NewInternalError("command: webhook service is required")
	}
	return c.service.DeleteWebhook(ctx, msg.WebhookID)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
