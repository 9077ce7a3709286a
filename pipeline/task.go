package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goliatone/go-ingest/core"
)

const malformedTaskMessage = "Upload task payload could not be read"

// HandleTask runs an ingest.process_upload message. Only a missing job or a
// failure to record the outcome is returned; parse and row faults end up on
// the job itself. A message that names its job but carries no usable payload
// fails that job as internal so it never stays pending.
func (p *Pipeline) HandleTask(ctx context.Context, msg *core.JobExecutionMessage) error {
	if msg == nil || strings.TrimSpace(msg.JobID) != core.TaskProcessUpload {
		return fmt.Errorf("pipeline: expected %s message", core.TaskProcessUpload)
	}
	jobID, _ := msg.Parameters[core.ParamUploadJobID].(string)
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("pipeline: message is missing %s", core.ParamUploadJobID)
	}
	raw, ok := msg.Parameters[core.ParamPayload]
	if !ok {
		return p.failMalformed(ctx, jobID, fmt.Errorf("pipeline: message is missing %s", core.ParamPayload))
	}
	payload, err := payloadParam(raw)
	if err != nil {
		return p.failMalformed(ctx, jobID, err)
	}
	_, err = p.Ingest(ctx, payload, jobID)
	return err
}

func (p *Pipeline) failMalformed(ctx context.Context, jobID string, cause error) error {
	job, err := p.jobs.Get(ctx, strings.TrimSpace(jobID))
	if err != nil {
		return errors.Join(cause, err)
	}
	if err := p.reporter.Fail(context.WithoutCancel(ctx), job, core.JobErrorKindInternal, malformedTaskMessage, ""); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func payloadParam(value any) ([]byte, error) {
	switch typed := value.(type) {
	case []byte:
		return typed, nil
	case string:
		return []byte(typed), nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("pipeline: unsupported payload type %T", value)
	}
}

var _ core.TaskHandler = (*Pipeline)(nil)
