package webhooks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goliatone/go-ingest/core"
)

type memoryWebhookStore struct {
	mu   sync.Mutex
	subs map[string]core.WebhookSubscription
	err  error
}

func newMemoryWebhookStore(subs ...core.WebhookSubscription) *memoryWebhookStore {
	store := &memoryWebhookStore{subs: map[string]core.WebhookSubscription{}}
	for _, sub := range subs {
		store.subs[sub.ID] = sub
	}
	return store
}

func (s *memoryWebhookStore) Create(_ context.Context, sub core.WebhookSubscription) (core.WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = sub
	return sub, nil
}

func (s *memoryWebhookStore) Get(_ context.Context, id string) (core.WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return core.WebhookSubscription{}, s.err
	}
	sub, ok := s.subs[id]
	if !ok {
		return core.WebhookSubscription{}, core.ErrWebhookNotFound
	}
	return sub, nil
}

func (s *memoryWebhookStore) List(context.Context) ([]core.WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.WebhookSubscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	return out, nil
}

func (s *memoryWebhookStore) Update(ctx context.Context, sub core.WebhookSubscription) (core.WebhookSubscription, error) {
	return s.Create(ctx, sub)
}

func (s *memoryWebhookStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
	return nil
}

func (s *memoryWebhookStore) ListEnabledForEvent(_ context.Context, event core.EventType) ([]core.WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	var out []core.WebhookSubscription
	for _, sub := range s.subs {
		if sub.Enabled && sub.Subscribes(event) {
			out = append(out, sub)
		}
	}
	return out, nil
}

type recordingEnqueuer struct {
	mu       sync.Mutex
	messages []*core.JobExecutionMessage
	failFor  map[string]bool
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, msg *core.JobExecutionMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failFor[msg.Parameters[ParamSubscriptionID].(string)] {
		return errors.New("queue unavailable")
	}
	e.messages = append(e.messages, msg)
	return nil
}

type scheduledMessage struct {
	msg   *core.JobExecutionMessage
	delay time.Duration
}

type recordingScheduler struct {
	mu        sync.Mutex
	scheduled []scheduledMessage
	err       error
}

func (s *recordingScheduler) Schedule(_ context.Context, msg *core.JobExecutionMessage, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.scheduled = append(s.scheduled, scheduledMessage{msg: msg, delay: delay})
	return nil
}

type memoryLedger struct {
	mu      sync.Mutex
	entries []core.WebhookDelivery
}

func (l *memoryLedger) Record(_ context.Context, delivery core.WebhookDelivery) (core.WebhookDelivery, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, delivery)
	return delivery, nil
}

func (l *memoryLedger) ListBySubscription(_ context.Context, subscriptionID string, _ int) ([]core.WebhookDelivery, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []core.WebhookDelivery
	for _, entry := range l.entries {
		if entry.SubscriptionID == subscriptionID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func subscription(id string, url string) core.WebhookSubscription {
	return core.WebhookSubscription{
		ID:             id,
		URL:            url,
		EventTypes:     []core.EventType{core.EventRecordCreated},
		Enabled:        true,
		TimeoutSeconds: 5,
		RetryCount:     3,
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
