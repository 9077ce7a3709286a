package query

import (
	"context"

	"github.com/goliatone/go-ingest/core"
)

type ProgressReader interface {
	GetProgress(ctx context.Context, taskID string) (core.ProgressSnapshot, error)
}

type ProductReader interface {
	GetProduct(ctx context.Context, id string) (core.Product, error)
}

type WebhookReader interface {
	GetWebhook(ctx context.Context, id string) (core.WebhookSubscription, error)
	ListWebhooks(ctx context.Context) ([]core.WebhookSubscription, error)
	ListWebhookDeliveries(ctx context.Context, id string, limit int) ([]core.WebhookDelivery, error)
}

type GetProgressQuery struct {
	reader ProgressReader
}

func NewGetProgressQuery(reader ProgressReader) *GetProgressQuery {
	return &GetProgressQuery{reader: reader}
}

func (q *GetProgressQuery) Query(ctx context.Context, msg GetProgressMessage) (core.ProgressSnapshot, error) {
	if q == nil || q.reader == nil {
		return core.ProgressSnapshot{}, core.NewInternalError("query: progress reader is required")
	}
	return q.reader.GetProgress(ctx, msg.TaskID)
}

type GetProductQuery struct {
	reader ProductReader
}

func NewGetProductQuery(reader ProductReader) *GetProductQuery {
	return &GetProductQuery{reader: reader}
}

func (q *GetProductQuery) Query(ctx context.Context, msg GetProductMessage) (core.Product, error) {
	if q == nil || q.reader == nil {
		return core.Product{}, core.NewInternalError("query: product reader is required")
	}
	return q.reader.GetProduct(ctx, msg.ProductID)
}

type GetWebhookQuery struct {
	reader WebhookReader
}

func NewGetWebhookQuery(reader WebhookReader) *GetWebhookQuery {
	return &GetWebhookQuery{reader: reader}
}

func (q *GetWebhookQuery) Query(ctx context.Context, msg GetWebhookMessage) (core.WebhookSubscription, error) {
	if q == nil || q.reader == nil {
		return core.WebhookSubscription{}, core.NewInternalError("query: webhook reader is required")
	}
	return q.reader.GetWebhook(ctx, msg.WebhookID)
}

type ListWebhooksQuery struct {
	reader WebhookReader
}

func NewListWebhooksQuery(reader WebhookReader) *ListWebhooksQuery {
	return &ListWebhooksQuery{reader: reader}
}

func (q *ListWebhooksQuery) Query(ctx context.Context, _ ListWebhooksMessage) ([]core.WebhookSubscription, error) {
	if q == nil || q.reader == nil {
		return nil, core.NewInternalError("query: webhook reader is required")
	}
	return q.reader.ListWebhooks(ctx)
}

type ListWebhookDeliveriesQuery struct {
	reader WebhookReader
}

func NewListWebhookDeliveriesQuery(reader WebhookReader) *ListWebhookDeliveriesQuery {
	return &ListWebhookDeliveriesQuery{reader: reader}
}

func (q *ListWebhookDeliveriesQuery) Query(
	ctx context.Context,
	msg ListWebhookDeliveriesMessage,
) ([]core.WebhookDelivery, error) {
	if q == nil || q.reader == nil {
		return nil, core.NewInternalError("query: webhook reader is required")
	}
	return q.reader.ListWebhookDeliveries(ctx, msg.WebhookID, msg.Limit)
}
