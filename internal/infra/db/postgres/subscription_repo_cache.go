package postgres

import (
	"context"
	"encoding/json"
	"time"

	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/repository"
	"crypto-payment-gate/internal/infra/metrics"
	red "crypto-payment-gate/internal/infra/redis"
)

var _ repository.SubscriptionRepository = (*subscriptionRepoCacheDecorator)(nil)

// subscriptionRepoCacheDecorator caches the subscriber lookup that every gated request
// makes. Expiry is evaluated by the caller at read time, so a cached row never grants
// access past its ExpiresAt.
type subscriptionRepoCacheDecorator struct {
	inner repository.SubscriptionRepository
	cache red.RedisClient
	ttl   time.Duration
}

func NewSubscriptionRepoCacheDecorator(inner repository.SubscriptionRepository, cache red.RedisClient, ttl time.Duration) repository.SubscriptionRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &subscriptionRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl}
}

func subscriberKey(subscriberID string) string { return "subscription:subscriber:" + subscriberID }

func (d *subscriptionRepoCacheDecorator) FindBySubscriber(ctx context.Context, tx repository.Tx, subscriberID string) (*model.Subscription, error) {
	if tx != nil {
		return d.inner.FindBySubscriber(ctx, tx, subscriberID)
	}
	key := subscriberKey(subscriberID)
	if val, err := d.cache.Get(ctx, key); err == nil {
		var s model.Subscription
		if json.Unmarshal([]byte(val), &s) == nil {
			metrics.IncCacheRequest("subscription", "hit")
			return &s, nil
		}
	}

	metrics.IncCacheRequest("subscription", "miss")
	s, err := d.inner.FindBySubscriber(ctx, tx, subscriberID)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(s); err == nil {
		_ = d.cache.Set(ctx, key, b, d.ttl)
	}
	return s, nil
}

func (d *subscriptionRepoCacheDecorator) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	if err := d.inner.Save(ctx, tx, s); err != nil {
		return err
	}
	_ = d.cache.Del(ctx, subscriberKey(s.SubscriberID))
	return nil
}

func (d *subscriptionRepoCacheDecorator) Update(ctx context.Context, tx repository.Tx, id string, patch model.SubscriptionPatch) (*model.Subscription, error) {
	s, err := d.inner.Update(ctx, tx, id, patch)
	if err != nil {
		return nil, err
	}
	_ = d.cache.Del(ctx, subscriberKey(s.SubscriberID))
	return s, nil
}

func (d *subscriptionRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	return d.inner.FindByID(ctx, tx, id)
}

func (d *subscriptionRepoCacheDecorator) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	return d.inner.CountByStatus(ctx, tx)
}
