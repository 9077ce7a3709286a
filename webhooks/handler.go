package webhooks

import (
	"context"
	"fmt"

	"github.com/goliatone/go-ingest/core"
)

// DeliveryHandler runs delivery tasks pulled off the queue. Every attempt is
// appended to the ledger; a retry is scheduled as a fresh message with the
// policy delay and the current message is acknowledged.
type DeliveryHandler struct {
	sender    *Sender
	ledger    core.WebhookDeliveryLedger
	scheduler core.JobScheduler
	observer  *core.Observer
}

func NewDeliveryHandler(
	sender *Sender,
	ledger core.WebhookDeliveryLedger,
	scheduler core.JobScheduler,
	observer *core.Observer,
) (*DeliveryHandler, error) {
	switch {
	case sender == nil:
		return nil, fmt.Errorf("webhooks: sender is required")
	case scheduler == nil:
		return nil, fmt.Errorf("webhooks: retry scheduler is required")
	}
	return &DeliveryHandler{sender: sender, ledger: ledger, scheduler: scheduler, observer: observer}, nil
}

// HandleTask returns an error only for malformed messages or when a retry
// could not be scheduled.
func (h *DeliveryHandler) HandleTask(ctx context.Context, msg *core.JobExecutionMessage) error {
	task, err := TaskFromMessage(msg)
	if err != nil {
		return err
	}
	report := h.sender.Deliver(ctx, task)
	h.record(ctx, report)

	if report.Status != core.DeliveryStatusRetryScheduled {
		return nil
	}
	next := task.Next()
	if report.Deferred {
		next = task.Deferred()
	}
	if err := h.scheduler.Schedule(ctx, next.Message(), report.RetryIn); err != nil {
		h.observer.Error(ctx, "webhook retry could not be scheduled", map[string]any{
			"subscription_id": task.SubscriptionID,
			"delivery_id":     task.DeliveryID,
			"attempt":         task.Attempt,
			"error":           err.Error(),
		})
		return fmt.Errorf("webhooks: schedule retry: %w", err)
	}
	return nil
}

func (h *DeliveryHandler) record(ctx context.Context, report DeliveryReport) {
	if h.ledger == nil {
		return
	}
	if _, err := h.ledger.Record(ctx, report.Delivery()); err != nil {
		h.observer.Warn(ctx, "webhook delivery could not be recorded", map[string]any{
			"subscription_id": report.SubscriptionID,
			"delivery_id":     report.DeliveryID,
			"attempt":         report.Attempt,
			"error":           err.Error(),
		})
	}
}
