package webhooks

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goliatone/go-ingest/core"
)

const (
	ParamSubscriptionID = "subscription_id"
	ParamDeliveryID     = "delivery_id"
	ParamEventType      = "event_type"
	ParamPayload        = "payload"
	ParamAttempt        = "attempt"
	ParamDeferrals      = "deferrals"
)

// DeliveryTask is one attempt at delivering one event to one subscription.
// DeliveryID stays the same across every attempt of a delivery.
type DeliveryTask struct {
	SubscriptionID string
	DeliveryID     string
	EventType      core.EventType
	Payload        map[string]any
	Attempt        int
	// Deferrals counts how often this attempt was postponed by an endpoint
	// throttle window without being sent.
	Deferrals int
}

// Next returns the task for the following attempt.
func (t DeliveryTask) Next() DeliveryTask {
	next := t
	next.Attempt = t.Attempt + 1
	next.Deferrals = 0
	return next
}

// Deferred returns the same attempt postponed once more.
func (t DeliveryTask) Deferred() DeliveryTask {
	next := t
	next.Deferrals = t.Deferrals + 1
	return next
}

// IdempotencyKey is unique per attempt and per deferral, so a postponed
// attempt never collides with the message still being handled.
func (t DeliveryTask) IdempotencyKey() string {
	if t.Deferrals > 0 {
		return fmt.Sprintf("%s:%d:d%d", t.DeliveryID, t.Attempt, t.Deferrals)
	}
	return fmt.Sprintf("%s:%d", t.DeliveryID, t.Attempt)
}

func (t DeliveryTask) Message() *core.JobExecutionMessage {
	params := map[string]any{
		ParamSubscriptionID: t.SubscriptionID,
		ParamDeliveryID:     t.DeliveryID,
		ParamEventType:      string(t.EventType),
		ParamPayload:        t.Payload,
		ParamAttempt:        t.Attempt,
	}
	if t.Deferrals > 0 {
		params[ParamDeferrals] = t.Deferrals
	}
	return &core.JobExecutionMessage{
		JobID:          core.TaskDeliverWebhook,
		IdempotencyKey: t.IdempotencyKey(),
		Parameters:     params,
	}
}

// TaskFromMessage decodes a delivery task, accepting the loose numeric types
// a serializing queue may hand back.
func TaskFromMessage(msg *core.JobExecutionMessage) (DeliveryTask, error) {
	if msg == nil {
		return DeliveryTask{}, fmt.Errorf("webhooks: execution message is required")
	}
	params := msg.Parameters
	task := DeliveryTask{
		SubscriptionID: stringParam(params, ParamSubscriptionID),
		DeliveryID:     stringParam(params, ParamDeliveryID),
		EventType:      core.EventType(stringParam(params, ParamEventType)),
		Attempt:        1,
	}
	if task.SubscriptionID == "" || task.DeliveryID == "" {
		return DeliveryTask{}, fmt.Errorf("webhooks: delivery task requires subscription_id and delivery_id")
	}
	if !task.EventType.Valid() {
		return DeliveryTask{}, fmt.Errorf("webhooks: delivery task has invalid event type %q", task.EventType)
	}
	if payload, ok := params[ParamPayload].(map[string]any); ok {
		task.Payload = payload
	}
	attempt, err := intParam(params[ParamAttempt])
	if err != nil {
		return DeliveryTask{}, err
	}
	if attempt > 0 {
		task.Attempt = attempt
	}
	deferrals, err := intParam(params[ParamDeferrals])
	if err != nil {
		return DeliveryTask{}, err
	}
	if deferrals > 0 {
		task.Deferrals = deferrals
	}
	return task, nil
}

func stringParam(params map[string]any, key string) string {
	value, ok := params[key]
	if !ok || value == nil {
		return ""
	}
	if text, ok := value.(string); ok {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func intParam(value any) (int, error) {
	switch typed := value.(type) {
	case nil:
		return 0, nil
	case int:
		return typed, nil
	case int64:
		return int(typed), nil
	case float64:
		return int(typed), nil
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(typed))
		if err != nil {
			return 0, fmt.Errorf("webhooks: invalid counter %q", typed)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("webhooks: invalid counter type %T", value)
	}
}
