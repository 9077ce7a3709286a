package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-ingest/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
)

const webhooksEnabledCacheKeyPrefix = "go-ingest::webhooks_enabled::v1"

// CachedWebhookStore memoizes the enabled-by-event lookup that runs on every
// record mutation. Any write drops every event key.
type CachedWebhookStore struct {
	base  core.WebhookStore
	cache repositorycache.CacheService
}

func NewCachedWebhookStore(
	base core.WebhookStore,
	cacheService repositorycache.CacheService,
) (*CachedWebhookStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base webhook store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: webhook cache service is required")
	}
	return &CachedWebhookStore{base: base, cache: cacheService}, nil
}

// NewWebhookCacheService builds the cache used by CachedWebhookStore.
func NewWebhookCacheService(ttl time.Duration) (repositorycache.CacheService, error) {
	config := repositorycache.DefaultConfig()
	if ttl > 0 {
		config.TTL = ttl
	}
	return repositorycache.NewCacheService(config)
}

// WebhooksEnabledCacheKey returns go-ingest::webhooks_enabled::v1::<event>.
func WebhooksEnabledCacheKey(event core.EventType) string {
	segment := url.PathEscape(strings.ToLower(strings.TrimSpace(string(event))))
	return webhooksEnabledCacheKeyPrefix + "::" + segment
}

func (s *CachedWebhookStore) Create(ctx context.Context, sub core.WebhookSubscription) (core.WebhookSubscription, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.WebhookSubscription{}, fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	created, err := s.base.Create(ctx, sub)
	if err != nil {
		return core.WebhookSubscription{}, err
	}
	return created, s.invalidate(ctx)
}

func (s *CachedWebhookStore) Get(ctx context.Context, id string) (core.WebhookSubscription, error) {
	if s == nil || s.base == nil {
		return core.WebhookSubscription{}, fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	return s.base.Get(ctx, id)
}

func (s *CachedWebhookStore) List(ctx context.Context) ([]core.WebhookSubscription, error) {
	if s == nil || s.base == nil {
		return nil, fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	return s.base.List(ctx)
}

func (s *CachedWebhookStore) Update(ctx context.Context, sub core.WebhookSubscription) (core.WebhookSubscription, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.WebhookSubscription{}, fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	updated, err := s.base.Update(ctx, sub)
	if err != nil {
		return core.WebhookSubscription{}, err
	}
	return updated, s.invalidate(ctx)
}

func (s *CachedWebhookStore) Delete(ctx context.Context, id string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	if err := s.base.Delete(ctx, id); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

func (s *CachedWebhookStore) ListEnabledForEvent(ctx context.Context, event core.EventType) ([]core.WebhookSubscription, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached webhook store is not configured")
	}
	subs, err := repositorycache.GetOrFetch(ctx, s.cache, WebhooksEnabledCacheKey(event),
		func(ctx context.Context) ([]core.WebhookSubscription, error) {
			fetched, fetchErr := s.base.ListEnabledForEvent(ctx, event)
			if fetchErr != nil {
				return nil, fetchErr
			}
			return cloneSubscriptions(fetched), nil
		})
	if err != nil {
		return nil, err
	}
	return cloneSubscriptions(subs), nil
}

func (s *CachedWebhookStore) invalidate(ctx context.Context) error {
	for _, event := range core.EventTypes() {
		if err := s.cache.Delete(ctx, WebhooksEnabledCacheKey(event)); err != nil {
			return err
		}
	}
	return nil
}

func cloneSubscriptions(subs []core.WebhookSubscription) []core.WebhookSubscription {
	out := make([]core.WebhookSubscription, 0, len(subs))
	for _, sub := range subs {
		cloned := sub
		cloned.EventTypes = append([]core.EventType(nil), sub.EventTypes...)
		if sub.Headers != nil {
			cloned.Headers = make(map[string]string, len(sub.Headers))
			for key, value := range sub.Headers {
				cloned.Headers[key] = value
			}
		}
		out = append(out, cloned)
	}
	return out
}
