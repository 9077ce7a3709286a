package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

var (
	ErrQueueClosed     = errors.New("taskqueue: queue is closed")
	ErrDeliverySettled = errors.New("taskqueue: delivery already acked or nacked")
	ErrMessageRequired = errors.New("taskqueue: execution message with job id is required")
	ErrNegativeDelay   = errors.New("taskqueue: delay must not be negative")
)

const DedupPolicyDrop = "drop"

// DeadLetter is a message parked after its final failed attempt.
type DeadLetter struct {
	Message *job.ExecutionMessage
	Attempt int
	Reason  string
	At      time.Time
}

type entry struct {
	msg     *job.ExecutionMessage
	attempt int
}

// Queue is an in-process FIFO with delayed enqueue and a dead-letter list.
// Messages carrying an idempotency key are dropped while another message
// with the same key is still pending, unless their dedup policy asks
// for something other than "drop".
type Queue struct {
	mu      sync.Mutex
	ready   []*entry
	timers  map[*time.Timer]struct{}
	pending map[string]int
	dead    []DeadLetter
	closed  bool
	notify  chan struct{}
	done    chan struct{}
	now     func() time.Time
	logger  job.Logger
}

type QueueOption func(*Queue)

// WithQueueLogger takes a go-job logger; bridge a glog logger with
// gologger.ToJobLogger.
func WithQueueLogger(logger job.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = logger
	}
}

func NewQueue(opts ...QueueOption) *Queue {
	q := &Queue{
		timers:  map[*time.Timer]struct{}{},
		pending: map[string]int{},
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q
}

func (q *Queue) Enqueue(ctx context.Context, msg *job.ExecutionMessage) error {
	return q.EnqueueAfter(ctx, msg, 0)
}

// EnqueueAfter makes msg visible to Dequeue once delay has elapsed.
func (q *Queue) EnqueueAfter(ctx context.Context, msg *job.ExecutionMessage, delay time.Duration) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if msg == nil || strings.TrimSpace(msg.JobID) == "" {
		return ErrMessageRequired
	}
	if delay < 0 {
		return ErrNegativeDelay
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	key := dedupKey(msg)
	if key != "" {
		if q.pending[key] > 0 {
			q.info("duplicate message dropped", "job_id", msg.JobID, "idempotency_key", msg.IdempotencyKey)
			return nil
		}
		q.pending[key]++
	}
	q.scheduleLocked(&entry{msg: msg, attempt: 1}, delay)
	return nil
}

// Dequeue blocks until a message is ready, ctx is done or the queue closes.
func (q *Queue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		if len(q.ready) > 0 {
			next := q.ready[0]
			q.ready[0] = nil
			q.ready = q.ready[1:]
			if len(q.ready) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return &Delivery{queue: q, entry: next}, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			return nil, ErrQueueClosed
		case <-q.notify:
		}
	}
}

// Len reports messages ready for dequeue.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

// Scheduled reports messages waiting on a delay.
func (q *Queue) Scheduled() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.timers)
}

func (q *Queue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}

// Close stops pending timers and wakes blocked consumers. Ready and
// delayed messages are discarded.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	q.ready = nil
	close(q.done)
	return nil
}

func (q *Queue) scheduleLocked(e *entry, delay time.Duration) {
	if delay <= 0 {
		q.ready = append(q.ready, e)
		q.signal()
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if _, ok := q.timers[timer]; !ok {
			return
		}
		delete(q.timers, timer)
		q.ready = append(q.ready, e)
		q.signal()
	})
	q.timers[timer] = struct{}{}
}

func (q *Queue) info(msg string, args ...any) {
	if q.logger != nil {
		q.logger.Info(msg, args...)
	}
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) release(msg *job.ExecutionMessage) {
	key := dedupKey(msg)
	if key == "" {
		return
	}
	if q.pending[key] <= 1 {
		delete(q.pending, key)
		return
	}
	q.pending[key]--
}

func dedupKey(msg *job.ExecutionMessage) string {
	if msg == nil {
		return ""
	}
	key := strings.TrimSpace(msg.IdempotencyKey)
	if key == "" {
		return ""
	}
	policy := strings.TrimSpace(string(msg.DedupPolicy))
	if policy != "" && policy != DedupPolicyDrop {
		return ""
	}
	return msg.JobID + "|" + key
}

// Delivery is one handed-out message. Exactly one of Ack or Nack settles it.
type Delivery struct {
	queue   *Queue
	entry   *entry
	mu      sync.Mutex
	settled bool
}

func (d *Delivery) Message() *job.ExecutionMessage {
	return d.entry.msg
}

func (d *Delivery) Attempt() int {
	return d.entry.attempt
}

func (d *Delivery) Ack(context.Context) error {
	if err := d.settle(); err != nil {
		return err
	}
	d.queue.mu.Lock()
	defer d.queue.mu.Unlock()
	d.queue.release(d.entry.msg)
	return nil
}

// Nack dead-letters, requeues with the next attempt number, or drops the
// message, in that order of precedence.
func (d *Delivery) Nack(_ context.Context, opts queue.NackOptions) error {
	if err := d.settle(); err != nil {
		return err
	}
	q := d.queue
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case opts.DeadLetter:
		q.release(d.entry.msg)
		q.dead = append(q.dead, DeadLetter{
			Message: d.entry.msg,
			Attempt: d.entry.attempt,
			Reason:  strings.TrimSpace(opts.Reason),
			At:      q.now().UTC(),
		})
		q.info("message dead-lettered", "job_id", d.entry.msg.JobID, "attempt", d.entry.attempt, "reason", opts.Reason)
	case opts.Requeue:
		if q.closed {
			q.release(d.entry.msg)
			return ErrQueueClosed
		}
		delay := opts.Delay
		if delay < 0 {
			delay = 0
		}
		q.scheduleLocked(&entry{msg: d.entry.msg, attempt: d.entry.attempt + 1}, delay)
	default:
		q.release(d.entry.msg)
	}
	return nil
}

func (d *Delivery) settle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return fmt.Errorf("%w: job %s", ErrDeliverySettled, d.entry.msg.JobID)
	}
	d.settled = true
	return nil
}

var (
	_ queue.Enqueuer = (*Queue)(nil)
	_ queue.Dequeuer = (*Queue)(nil)
	_ queue.Delivery = (*Delivery)(nil)
)
