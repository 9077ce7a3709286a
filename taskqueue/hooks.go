package taskqueue

import (
	"context"

	"github.com/goliatone/go-ingest/core"
)

// ObserverHook reports worker lifecycle events through a core.Observer.
// Wrap it with gojob.NewWorkerHookAdapter to hand it to a Pool.
type ObserverHook struct {
	observer *core.Observer
}

func NewObserverHook(observer *core.Observer) *ObserverHook {
	return &ObserverHook{observer: observer}
}

func (h *ObserverHook) OnStart(ctx context.Context, event core.JobWorkerEvent) {
	h.observer.Debug(ctx, "task started", eventFields(event))
}

func (h *ObserverHook) OnSuccess(ctx context.Context, event core.JobWorkerEvent) {
	h.observer.Observe(ctx, event.StartedAt, "task."+jobIDOf(event.Message), nil, eventFields(event))
}

func (h *ObserverHook) OnFailure(ctx context.Context, event core.JobWorkerEvent) {
	h.observer.Observe(ctx, event.StartedAt, "task."+jobIDOf(event.Message), event.Err, eventFields(event))
}

func (h *ObserverHook) OnRetry(ctx context.Context, event core.JobWorkerEvent) {
	fields := eventFields(event)
	fields["retry_in_ms"] = event.Delay.Milliseconds()
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	h.observer.Warn(ctx, "task retry scheduled", fields)
	h.observer.Count(ctx, "task.retry", 1, map[string]string{"job_id": jobIDOf(event.Message)})
}

func eventFields(event core.JobWorkerEvent) map[string]any {
	fields := map[string]any{
		"job_id":  jobIDOf(event.Message),
		"attempt": event.Attempt,
	}
	if event.Message != nil {
		if jobID, ok := event.Message.Parameters[core.ParamUploadJobID]; ok {
			fields["upload_job_id"] = jobID
		}
		if event.Message.IdempotencyKey != "" {
			fields["idempotency_key"] = event.Message.IdempotencyKey
		}
	}
	return fields
}

var _ core.JobWorkerHook = (*ObserverHook)(nil)
