package webhooks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-ingest/adapters/gojob"
	"github.com/goliatone/go-ingest/core"
	"github.com/goliatone/go-ingest/ratelimit"
	"github.com/goliatone/go-ingest/taskqueue"
	"github.com/goliatone/go-ingest/transport"
)

type steppingClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *steppingClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestDeliveryHandler_DeferredAttemptIsResentThroughQueue(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	clock := &steppingClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	throttle := ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore())
	throttle.Now = clock.Now
	throttle.MaxBackoff = 40 * time.Millisecond

	sender, err := NewSender(newMemoryWebhookStore(subscription("sub-1", server.URL)),
		transport.NewJSONAdapter(server.Client()),
		WithRetryPolicy(ExponentialRetryPolicy{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond}),
		WithThrottle(throttle),
	)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}

	q := taskqueue.NewQueue()
	ledger := &memoryLedger{}
	handler, err := NewDeliveryHandler(sender, ledger, gojob.NewSchedulerAdapter(q), nil)
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	pool, err := taskqueue.NewPool(gojob.NewDequeuerAdapter(q, gojob.RetryPolicy{MaxAttempts: 1}), taskqueue.WithMaxAttempts(1))
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	if err := pool.Register(core.TaskDeliverWebhook, handler); err != nil {
		t.Fatalf("register handler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()
	defer func() {
		cancel()
		<-done
		_ = q.Close()
	}()

	task := DeliveryTask{SubscriptionID: "sub-1", DeliveryID: "d-1", EventType: core.EventRecordCreated, Attempt: 1}
	if err := gojob.NewEnqueuerAdapter(q).Enqueue(ctx, task.Message()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	waitFor(t, func() bool {
		return ledger.has(func(d core.WebhookDelivery) bool { return d.Error == throttledReason })
	})
	clock.Advance(time.Minute)

	waitFor(t, func() bool {
		return ledger.has(func(d core.WebhookDelivery) bool {
			return d.Status == core.DeliveryStatusSuccess && d.Attempt == 2
		})
	})
	if got := hits.Load(); got != 2 {
		t.Fatalf("expected the throttled and the resent request only, got %d", got)
	}
}

func (l *memoryLedger) has(match func(core.WebhookDelivery) bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range l.entries {
		if match(entry) {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
