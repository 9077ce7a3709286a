package pipeline

import (
	"context"
	"testing"

	"github.com/goliatone/go-ingest/core"
)

func TestHandleTask_IngestsQueuedUpload(t *testing.T) {
	f := newFixture(t, core.PipelineConfig{})
	ctx := context.Background()
	job, err := f.jobs.Create(ctx, core.CreateJobInput{TaskID: "task-queued"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	msg := &core.JobExecutionMessage{
		JobID:          core.TaskProcessUpload,
		IdempotencyKey: "task-queued",
		Parameters: map[string]any{
			core.ParamUploadJobID: job.ID,
			core.ParamPayload:     []byte("sku,name,description\nq-1,Queued,\n"),
		},
	}
	if err := f.pipeline.HandleTask(ctx, msg); err != nil {
		t.Fatalf("handle task: %v", err)
	}

	final, _ := f.jobs.Get(ctx, job.ID)
	if final.Status != core.JobStatusCompleted || final.ProcessedRows != 1 {
		t.Fatalf("expected completed job with one row, got %+v", final)
	}
	if _, ok := f.products.snapshot()["q-1"]; !ok {
		t.Fatalf("expected queued product stored")
	}
}

func TestHandleTask_RejectsMalformedMessages(t *testing.T) {
	f := newFixture(t, core.PipelineConfig{})
	ctx := context.Background()

	if err := f.pipeline.HandleTask(ctx, &core.JobExecutionMessage{JobID: core.TaskDeliverWebhook}); err == nil {
		t.Fatalf("expected error for foreign job id")
	}
	missingJob := &core.JobExecutionMessage{JobID: core.TaskProcessUpload, Parameters: map[string]any{}}
	if err := f.pipeline.HandleTask(ctx, missingJob); err == nil {
		t.Fatalf("expected error without upload job id")
	}
	badPayload := &core.JobExecutionMessage{
		JobID:      core.TaskProcessUpload,
		Parameters: map[string]any{core.ParamUploadJobID: "x", core.ParamPayload: 42},
	}
	if err := f.pipeline.HandleTask(ctx, badPayload); err == nil {
		t.Fatalf("expected error for non-byte payload")
	}
	unknown := &core.JobExecutionMessage{
		JobID:      core.TaskProcessUpload,
		Parameters: map[string]any{core.ParamUploadJobID: "missing", core.ParamPayload: "sku\n"},
	}
	if err := f.pipeline.HandleTask(ctx, unknown); err == nil {
		t.Fatalf("expected error for unknown upload job")
	}
}

func TestHandleTask_FailsJobWhenPayloadUnreadable(t *testing.T) {
	cases := map[string]map[string]any{
		"wrong type": {core.ParamPayload: 42},
		"missing":    {},
	}
	for name, params := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, core.PipelineConfig{})
			ctx := context.Background()
			job, err := f.jobs.Create(ctx, core.CreateJobInput{TaskID: "task-" + name})
			if err != nil {
				t.Fatalf("create job: %v", err)
			}
			params[core.ParamUploadJobID] = job.ID

			msg := &core.JobExecutionMessage{JobID: core.TaskProcessUpload, Parameters: params}
			if err := f.pipeline.HandleTask(ctx, msg); err == nil {
				t.Fatalf("expected error for unreadable payload")
			}

			final, _ := f.jobs.Get(ctx, job.ID)
			if final.Status != core.JobStatusFailed || final.ErrorKind != core.JobErrorKindInternal {
				t.Fatalf("expected internal failure, got %+v", final)
			}
			if final.ErrorMessage == nil || *final.ErrorMessage != malformedTaskMessage {
				t.Fatalf("expected failure message recorded, got %v", final.ErrorMessage)
			}
			state, ok, err := f.backend.Get(ctx, job.TaskID)
			if err != nil || !ok || state.State != core.TaskStateFailure {
				t.Fatalf("expected failure state published, got %+v ok=%v err=%v", state, ok, err)
			}
		})
	}
}
