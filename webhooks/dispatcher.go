package webhooks

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-ingest/core"
	"github.com/google/uuid"
)

// Dispatcher fans a record event out to every enabled subscription.
type Dispatcher struct {
	subscriptions core.WebhookStore
	enqueuer      core.JobEnqueuer
	observer      *core.Observer
	newID         func() string
}

func NewDispatcher(subscriptions core.WebhookStore, enqueuer core.JobEnqueuer, observer *core.Observer) (*Dispatcher, error) {
	if subscriptions == nil {
		return nil, fmt.Errorf("webhooks: subscription store is required")
	}
	if enqueuer == nil {
		return nil, fmt.Errorf("webhooks: job enqueuer is required")
	}
	return &Dispatcher{
		subscriptions: subscriptions,
		enqueuer:      enqueuer,
		observer:      observer,
		newID:         uuid.NewString,
	}, nil
}

// Trigger enqueues one first-attempt delivery per matching subscription and
// returns how many were queued. A failed enqueue for one subscription is
// logged and does not stop the others; only the subscription lookup error
// is returned.
func (d *Dispatcher) Trigger(ctx context.Context, event core.EventType, payload map[string]any) (int, error) {
	startedAt := time.Now()
	if !event.Valid() {
		return 0, core.NewValidationError("event_type", fmt.Sprintf("invalid event type %q", event))
	}
	subs, err := d.subscriptions.ListEnabledForEvent(ctx, event)
	if err != nil {
		d.observer.Observe(ctx, startedAt, "webhook_trigger", err, map[string]any{"event_type": string(event)})
		return 0, err
	}

	queued := 0
	for _, sub := range subs {
		task := DeliveryTask{
			SubscriptionID: sub.ID,
			DeliveryID:     d.newID(),
			EventType:      event,
			Payload:        payload,
			Attempt:        1,
		}
		if err := d.enqueuer.Enqueue(ctx, task.Message()); err != nil {
			d.observer.Warn(ctx, "webhook delivery could not be queued", map[string]any{
				"event_type":      string(event),
				"subscription_id": sub.ID,
				"delivery_id":     task.DeliveryID,
				"error":           err.Error(),
			})
			d.observer.Count(ctx, "webhook_trigger.enqueue_failures", 1, map[string]string{
				"event_type": string(event),
			})
			continue
		}
		queued++
	}
	d.observer.Observe(ctx, startedAt, "webhook_trigger", nil, map[string]any{
		"event_type": string(event),
		"matched":    len(subs),
		"queued":     queued,
	})
	return queued, nil
}

var _ core.EventTrigger = (*Dispatcher)(nil)
