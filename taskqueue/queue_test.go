package taskqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

func TestQueue_FIFOAndAck(t *testing.T) {
	q := NewQueue()
	defer q.Close()
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := q.Enqueue(ctx, &job.ExecutionMessage{JobID: "test", Parameters: map[string]any{"id": id}}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	first, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if first.Message().Parameters["id"] != "a" {
		t.Fatalf("expected fifo order, got %v", first.Message().Parameters["id"])
	}
	if err := first.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := first.Ack(ctx); !errors.Is(err, ErrDeliverySettled) {
		t.Fatalf("expected settled error on second ack, got %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected one ready message, got %d", q.Len())
	}
}

func TestQueue_DelayedEnqueueBecomesVisible(t *testing.T) {
	q := NewQueue()
	defer q.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := q.EnqueueAfter(ctx, &job.ExecutionMessage{JobID: "later"}, 30*time.Millisecond); err != nil {
		t.Fatalf("enqueue after: %v", err)
	}
	if q.Len() != 0 || q.Scheduled() != 1 {
		t.Fatalf("expected message held back, ready=%d scheduled=%d", q.Len(), q.Scheduled())
	}
	startedAt := time.Now()
	delivery, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if time.Since(startedAt) < 20*time.Millisecond {
		t.Fatalf("expected dequeue to wait for the delay")
	}
	if delivery.Message().JobID != "later" {
		t.Fatalf("unexpected message %+v", delivery.Message())
	}
}

func TestQueue_NackRequeuesWithNextAttemptThenDeadLetters(t *testing.T) {
	q := NewQueue()
	defer q.Close()
	ctx := context.Background()
	_ = q.Enqueue(ctx, &job.ExecutionMessage{JobID: "flaky"})

	first, _ := q.Dequeue(ctx)
	if first.(*Delivery).Attempt() != 1 {
		t.Fatalf("expected first attempt")
	}
	if err := first.Nack(ctx, queue.NackOptions{Requeue: true}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	second, _ := q.Dequeue(ctx)
	if second.(*Delivery).Attempt() != 2 {
		t.Fatalf("expected second attempt, got %d", second.(*Delivery).Attempt())
	}
	if err := second.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: " gave up "}); err != nil {
		t.Fatalf("dead letter: %v", err)
	}
	dead := q.DeadLetters()
	if len(dead) != 1 || dead[0].Attempt != 2 || dead[0].Reason != "gave up" {
		t.Fatalf("unexpected dead letters %+v", dead)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue")
	}
}

func TestQueue_DropsDuplicateIdempotencyKeyWhilePending(t *testing.T) {
	q := NewQueue()
	defer q.Close()
	ctx := context.Background()
	msg := func() *job.ExecutionMessage {
		return &job.ExecutionMessage{JobID: "upload", IdempotencyKey: "task-1"}
	}
	_ = q.Enqueue(ctx, msg())
	_ = q.Enqueue(ctx, msg())
	if q.Len() != 1 {
		t.Fatalf("expected duplicate dropped, got %d", q.Len())
	}
	delivery, _ := q.Dequeue(ctx)
	_ = q.Enqueue(ctx, msg())
	if q.Len() != 0 {
		t.Fatalf("expected duplicate dropped while in flight")
	}
	_ = delivery.Ack(ctx)
	_ = q.Enqueue(ctx, msg())
	if q.Len() != 1 {
		t.Fatalf("expected key released after ack")
	}

	merge := &job.ExecutionMessage{JobID: "upload", IdempotencyKey: "task-1", DedupPolicy: "merge"}
	_ = q.Enqueue(ctx, merge)
	if q.Len() != 2 {
		t.Fatalf("expected non-drop policy to bypass dedup")
	}
}

func TestQueue_CloseUnblocksAndRejects(t *testing.T) {
	q := NewQueue()
	_ = q.EnqueueAfter(context.Background(), &job.ExecutionMessage{JobID: "never"}, time.Hour)

	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrQueueClosed) {
			t.Fatalf("expected closed error, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("dequeue did not unblock on close")
	}
	if q.Scheduled() != 0 {
		t.Fatalf("expected timers cleared")
	}
	if err := q.Enqueue(context.Background(), &job.ExecutionMessage{JobID: "x"}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected enqueue after close to fail, got %v", err)
	}
}

func TestQueue_ValidatesInput(t *testing.T) {
	q := NewQueue()
	defer q.Close()
	if err := q.Enqueue(context.Background(), nil); !errors.Is(err, ErrMessageRequired) {
		t.Fatalf("expected message required, got %v", err)
	}
	if err := q.EnqueueAfter(context.Background(), &job.ExecutionMessage{JobID: "x"}, -time.Second); !errors.Is(err, ErrNegativeDelay) {
		t.Fatalf("expected negative delay error, got %v", err)
	}
}
