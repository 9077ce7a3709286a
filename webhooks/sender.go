package webhooks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-ingest/core"
	"github.com/goliatone/go-ingest/ratelimit"
	"github.com/goliatone/go-ingest/transport"
)

const (
	DefaultUserAgent          = "go-ingest-webhook/1.0"
	defaultResponseBodyLimit  = 64 << 10
	responseExcerptLength     = 200
	timeoutErrorMessage       = "Request timeout"
	missingSubscriptionReason = "Webhook not found"
	disabledReason            = "Webhook is disabled"
	throttledReason           = "Endpoint is rate limited"
)

// DeliveryReport is the outcome of one attempt. It is data: delivery
// failures are never returned as errors.
type DeliveryReport struct {
	SubscriptionID string
	DeliveryID     string
	EventType      core.EventType
	Attempt        int
	Status         core.DeliveryStatus
	ResponseCode   int
	ResponseTime   time.Duration
	Error          string
	RetryIn        time.Duration
	NextAttemptAt  *time.Time
	// Deferred marks an attempt that was not sent because the endpoint is
	// inside a throttle window. It does not consume the attempt budget.
	Deferred bool
	At       time.Time
}

// Delivery converts the report into its ledger row.
func (r DeliveryReport) Delivery() core.WebhookDelivery {
	return core.WebhookDelivery{
		SubscriptionID: r.SubscriptionID,
		DeliveryID:     r.DeliveryID,
		EventType:      r.EventType,
		Attempt:        r.Attempt,
		Status:         r.Status,
		ResponseCode:   r.ResponseCode,
		ResponseTimeMS: r.ResponseTime.Milliseconds(),
		Error:          core.Truncate(r.Error, core.MaxDeliveryErrorLength),
		NextAttemptAt:  r.NextAttemptAt,
		CreatedAt:      r.At,
	}
}

type SenderOption func(*Sender)

func WithRetryPolicy(policy RetryPolicy) SenderOption {
	return func(s *Sender) {
		if policy != nil {
			s.retry = policy
		}
	}
}

func WithUserAgent(agent string) SenderOption {
	return func(s *Sender) {
		if agent = strings.TrimSpace(agent); agent != "" {
			s.userAgent = agent
		}
	}
}

func WithResponseBodyLimit(limit int64) SenderOption {
	return func(s *Sender) {
		if limit > 0 {
			s.bodyLimit = limit
		}
	}
}

func WithSenderObserver(observer *core.Observer) SenderOption {
	return func(s *Sender) {
		s.observer = observer
	}
}

// Throttle gates sends per subscription on rate limit signals returned by
// the endpoint.
type Throttle interface {
	BeforeCall(ctx context.Context, key string) error
	AfterCall(ctx context.Context, key string, res ratelimit.Response) (time.Duration, error)
}

func WithThrottle(throttle Throttle) SenderOption {
	return func(s *Sender) {
		s.throttle = throttle
	}
}

func WithSenderClock(now func() time.Time) SenderOption {
	return func(s *Sender) {
		if now != nil {
			s.now = now
		}
	}
}

// Sender performs single delivery attempts.
type Sender struct {
	subscriptions core.WebhookStore
	adapter       transport.Adapter
	retry         RetryPolicy
	throttle      Throttle
	userAgent     string
	bodyLimit     int64
	observer      *core.Observer
	now           func() time.Time
}

func NewSender(subscriptions core.WebhookStore, adapter transport.Adapter, opts ...SenderOption) (*Sender, error) {
	if subscriptions == nil {
		return nil, fmt.Errorf("webhooks: subscription store is required")
	}
	if adapter == nil {
		adapter = transport.NewJSONAdapter(nil)
	}
	sender := &Sender{
		subscriptions: subscriptions,
		adapter:       adapter,
		retry:         ExponentialRetryPolicy{},
		userAgent:     DefaultUserAgent,
		bodyLimit:     defaultResponseBodyLimit,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sender)
		}
	}
	return sender, nil
}

// Deliver runs one attempt of task and reports what happened.
func (s *Sender) Deliver(ctx context.Context, task DeliveryTask) (report DeliveryReport) {
	if task.Attempt < 1 {
		task.Attempt = 1
	}
	report = DeliveryReport{
		SubscriptionID: task.SubscriptionID,
		DeliveryID:     task.DeliveryID,
		EventType:      task.EventType,
		Attempt:        task.Attempt,
	}
	startedAt := time.Now()
	defer func() {
		report.At = s.now()
		s.observe(ctx, startedAt, report)
	}()

	sub, err := s.subscriptions.Get(ctx, task.SubscriptionID)
	switch {
	case errors.Is(err, core.ErrWebhookNotFound):
		report.Status = core.DeliveryStatusSkipped
		report.Error = missingSubscriptionReason
		return report
	case err != nil:
		s.fail(&report, maxAttemptsUnknown, core.Truncate("Webhook lookup failed: "+err.Error(), core.MaxDeliveryErrorLength), 0)
		return report
	case !sub.Enabled:
		report.Status = core.DeliveryStatusSkipped
		report.Error = disabledReason
		return report
	}
	if wait, throttled := s.throttled(ctx, sub.ID); throttled {
		report.Status = core.DeliveryStatusRetryScheduled
		report.Error = throttledReason
		report.Deferred = true
		report.RetryIn = wait
		next := s.now().Add(wait)
		report.NextAttemptAt = &next
		return report
	}

	envelope := map[string]any{
		"event":     string(task.EventType),
		"timestamp": unixSeconds(s.now()),
		"data":      task.Payload,
	}
	body, err := CanonicalJSON(envelope)
	if err != nil {
		report.Status = core.DeliveryStatusFailed
		report.Error = err.Error()
		return report
	}

	res, err := s.adapter.Do(ctx, transport.Request{
		Method:               http.MethodPost,
		URL:                  sub.URL,
		Headers:              s.headers(sub, task, body),
		Body:                 body,
		Timeout:              sub.Timeout(),
		MaxResponseBodyBytes: s.bodyLimit,
		TruncateResponseBody: true,
	})
	report.ResponseCode = res.StatusCode
	report.ResponseTime = res.Duration
	if err != nil {
		message := err.Error()
		if res.TimedOut {
			message = timeoutErrorMessage
		}
		s.fail(&report, sub.MaxAttempts(), message, 0)
		return report
	}
	hint := s.recordResponse(ctx, sub.ID, res)
	if res.Success() {
		report.Status = core.DeliveryStatusSuccess
		return report
	}
	s.fail(&report, sub.MaxAttempts(), fmt.Sprintf("HTTP %d: %s", res.StatusCode,
		core.Truncate(string(res.Body), responseExcerptLength)), hint)
	return report
}

// throttled reports whether key is inside a throttle window. Store errors
// are logged and the send goes ahead.
func (s *Sender) throttled(ctx context.Context, key string) (time.Duration, bool) {
	if s.throttle == nil {
		return 0, false
	}
	err := s.throttle.BeforeCall(ctx, key)
	if err == nil {
		return 0, false
	}
	var throttled ratelimit.ThrottledError
	if errors.As(err, &throttled) {
		return throttled.RetryAfter, true
	}
	s.observer.Warn(ctx, "webhook throttle state unavailable", map[string]any{
		"subscription_id": key,
		"error":           err.Error(),
	})
	return 0, false
}

func (s *Sender) recordResponse(ctx context.Context, key string, res transport.Response) time.Duration {
	if s.throttle == nil {
		return 0
	}
	wait, err := s.throttle.AfterCall(ctx, key, ratelimit.Response{StatusCode: res.StatusCode, Headers: res.Headers})
	if err != nil {
		s.observer.Warn(ctx, "webhook throttle state not recorded", map[string]any{
			"subscription_id": key,
			"error":           err.Error(),
		})
		return 0
	}
	return wait
}

// maxAttemptsUnknown lets a lookup failure retry under the default budget.
const maxAttemptsUnknown = core.DefaultWebhookRetryCount

// fail schedules the next attempt when budget remains. floor raises the
// policy delay to an endpoint supplied wait.
func (s *Sender) fail(report *DeliveryReport, maxAttempts int, message string, floor time.Duration) {
	report.Error = core.Truncate(message, core.MaxDeliveryErrorLength)
	if report.Attempt < max(1, maxAttempts) {
		report.Status = core.DeliveryStatusRetryScheduled
		report.RetryIn = max(s.retry.NextDelay(report.Attempt), floor)
		next := s.now().Add(report.RetryIn)
		report.NextAttemptAt = &next
		return
	}
	report.Status = core.DeliveryStatusFailed
}

// headers builds the outbound header set. Custom headers overlay the
// defaults; the signature header is always computed here.
func (s *Sender) headers(sub core.WebhookSubscription, task DeliveryTask, body []byte) map[string]string {
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	headers.Set("User-Agent", s.userAgent)
	headers.Set(HeaderEvent, string(task.EventType))
	headers.Set(HeaderID, sub.ID)
	headers.Set(HeaderDelivery, task.DeliveryID)
	headers.Set(HeaderAttempt, strconv.Itoa(task.Attempt))
	for key, value := range sub.Headers {
		key = strings.TrimSpace(key)
		if key == "" || http.CanonicalHeaderKey(key) == http.CanonicalHeaderKey(HeaderSignature) {
			continue
		}
		headers.Set(key, value)
	}
	if sub.Secret != "" {
		headers.Set(HeaderSignature, Sign(sub.Secret, body))
	}
	out := make(map[string]string, len(headers))
	for key := range headers {
		out[key] = headers.Get(key)
	}
	return out
}

func (s *Sender) observe(ctx context.Context, startedAt time.Time, report DeliveryReport) {
	fields := map[string]any{
		"subscription_id": report.SubscriptionID,
		"delivery_id":     report.DeliveryID,
		"event_type":      string(report.EventType),
		"attempt":         report.Attempt,
		"status":          string(report.Status),
		"response_code":   report.ResponseCode,
	}
	var err error
	if report.Status == core.DeliveryStatusFailed || report.Status == core.DeliveryStatusRetryScheduled {
		err = errors.New(report.Error)
		fields["retry_in"] = report.RetryIn.String()
	}
	s.observer.Observe(ctx, startedAt, "webhook_delivery", err, fields)
	s.observer.Count(ctx, "webhook_delivery."+string(report.Status), 1, map[string]string{
		"event_type": string(report.EventType),
	})
}

func unixSeconds(at time.Time) float64 {
	return float64(at.UnixNano()) / float64(time.Second)
}
