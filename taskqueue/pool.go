package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-ingest/adapters/gojob"
	"github.com/goliatone/go-ingest/core"

	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency = 4
	dequeueErrorPause  = 100 * time.Millisecond
)

var ErrNoHandler = errors.New("taskqueue: no handler registered for job")

type PoolOption func(*Pool)

func WithConcurrency(concurrency int) PoolOption {
	return func(p *Pool) {
		if concurrency > 0 {
			p.concurrency = concurrency
		}
	}
}

// WithMaxAttempts must match the RetryPolicy given to the dequeuer so hook
// callbacks agree with what the queue does.
func WithMaxAttempts(maxAttempts int) PoolOption {
	return func(p *Pool) {
		p.maxAttempts = maxAttempts
	}
}

func WithRetryDelay(fn func(attempt int) time.Duration) PoolOption {
	return func(p *Pool) {
		if fn != nil {
			p.retryDelay = fn
		}
	}
}

func WithHooks(hooks ...worker.Hook) PoolOption {
	return func(p *Pool) {
		for _, hook := range hooks {
			if hook != nil {
				p.hooks = append(p.hooks, hook)
			}
		}
	}
}

func WithPoolLogger(logger core.Logger) PoolOption {
	return func(p *Pool) {
		p.logger = logger
	}
}

// Pool runs registered task handlers over a dequeuer with a fixed number
// of workers. A message is handled by exactly one worker.
type Pool struct {
	dequeuer    core.JobDequeuer
	concurrency int
	maxAttempts int
	retryDelay  func(attempt int) time.Duration
	hooks       []worker.Hook
	logger      core.Logger

	mu       sync.RWMutex
	handlers map[string]core.TaskHandler
}

func NewPool(dequeuer core.JobDequeuer, opts ...PoolOption) (*Pool, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("taskqueue: dequeuer is required")
	}
	pool := &Pool{
		dequeuer:    dequeuer,
		concurrency: DefaultConcurrency,
		maxAttempts: 1,
		retryDelay:  linearDelay,
		handlers:    map[string]core.TaskHandler{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(pool)
		}
	}
	pool.logger = glog.Ensure(pool.logger)
	return pool, nil
}

func (p *Pool) Register(jobID string, handler core.TaskHandler) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" || handler == nil {
		return fmt.Errorf("taskqueue: job id and handler are required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.handlers[jobID]; exists {
		return fmt.Errorf("taskqueue: handler for %q already registered", jobID)
	}
	p.handlers[jobID] = handler
	return nil
}

// Run blocks until ctx is cancelled or the queue closes. Every worker
// goroutine has returned when Run returns.
func (p *Pool) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		workerID := i + 1
		group.Go(func() error {
			return p.work(groupCtx, workerID)
		})
	}
	return group.Wait()
}

func (p *Pool) work(ctx context.Context, workerID int) error {
	for {
		delivery, err := p.dequeuer.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return nil
			}
			p.logger.Warn("dequeue failed", "worker", workerID, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(dequeueErrorPause):
			}
			continue
		}
		p.process(ctx, delivery)
	}
}

func (p *Pool) process(ctx context.Context, delivery core.JobDelivery) {
	msg := delivery.Message()
	attempt := delivery.Attempt()
	event := worker.Event{
		Message:   gojob.ToExecutionMessage(msg),
		Attempt:   attempt,
		StartedAt: time.Now(),
	}
	p.emit(func(hook worker.Hook) { hook.OnStart(ctx, event) })

	handler := p.handler(msg)
	if handler == nil {
		event.Err = fmt.Errorf("%w: %s", ErrNoHandler, jobIDOf(msg))
		event.Duration = time.Since(event.StartedAt)
		if err := delivery.Nack(ctx, core.JobNackOptions{DeadLetter: true, Reason: event.Err.Error()}); err != nil {
			p.logger.Error("nack failed", "job_id", jobIDOf(msg), "error", err)
		}
		p.emit(func(hook worker.Hook) { hook.OnFailure(ctx, event) })
		return
	}

	err := safeHandle(ctx, handler, msg)
	event.Duration = time.Since(event.StartedAt)
	if err == nil {
		if ackErr := delivery.Ack(ctx); ackErr != nil {
			p.logger.Error("ack failed", "job_id", jobIDOf(msg), "error", ackErr)
		}
		p.emit(func(hook worker.Hook) { hook.OnSuccess(ctx, event) })
		return
	}

	event.Err = err
	exhausted := p.maxAttempts > 0 && attempt >= p.maxAttempts
	opts := core.JobNackOptions{Requeue: true, Reason: err.Error()}
	if exhausted {
		opts = core.JobNackOptions{DeadLetter: true, Reason: err.Error()}
	} else {
		opts.Delay = p.retryDelay(attempt)
		event.Delay = opts.Delay
	}
	if nackErr := delivery.Nack(ctx, opts); nackErr != nil {
		p.logger.Error("nack failed", "job_id", jobIDOf(msg), "error", nackErr)
	}
	if exhausted {
		p.emit(func(hook worker.Hook) { hook.OnFailure(ctx, event) })
		return
	}
	p.emit(func(hook worker.Hook) { hook.OnRetry(ctx, event) })
}

func (p *Pool) handler(msg *core.JobExecutionMessage) core.TaskHandler {
	if msg == nil {
		return nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.handlers[strings.TrimSpace(msg.JobID)]
}

func (p *Pool) emit(call func(worker.Hook)) {
	for _, hook := range p.hooks {
		call(hook)
	}
}

func safeHandle(ctx context.Context, handler core.TaskHandler, msg *core.JobExecutionMessage) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("taskqueue: handler panic: %v\n%s", recovered, debug.Stack())
		}
	}()
	return handler.HandleTask(ctx, msg)
}

func jobIDOf(msg *core.JobExecutionMessage) string {
	if msg == nil {
		return ""
	}
	return msg.JobID
}

func linearDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return time.Duration(attempt) * time.Second
}
