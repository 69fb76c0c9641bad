//go:build !integration

package postgres

import (
	"context"
	"time"

	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/repository"
	red "crypto-payment-gate/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

// mockInnerSubscriptionRepo mocks the database repository that the decorator wraps.
type mockInnerSubscriptionRepo struct {
	SaveFunc             func(ctx context.Context, tx repository.Tx, s *model.Subscription) error
	FindByIDFunc         func(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error)
	FindBySubscriberFunc func(ctx context.Context, tx repository.Tx, subscriberID string) (*model.Subscription, error)
	UpdateFunc           func(ctx context.Context, tx repository.Tx, id string, patch model.SubscriptionPatch) (*model.Subscription, error)
	CountByStatusFunc    func(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error)
}

func (m *mockInnerSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	return m.SaveFunc(ctx, tx, s)
}
func (m *mockInnerSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	return m.FindByIDFunc(ctx, tx, id)
}
func (m *mockInnerSubscriptionRepo) FindBySubscriber(ctx context.Context, tx repository.Tx, subscriberID string) (*model.Subscription, error) {
	return m.FindBySubscriberFunc(ctx, tx, subscriberID)
}
func (m *mockInnerSubscriptionRepo) Update(ctx context.Context, tx repository.Tx, id string, patch model.SubscriptionPatch) (*model.Subscription, error) {
	return m.UpdateFunc(ctx, tx, id, patch)
}
func (m *mockInnerSubscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	return m.CountByStatusFunc(ctx, tx)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc   func(ctx context.Context, key string) (string, error)
	SetFunc   func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc   func(ctx context.Context, keys ...string) error
	PingFunc  func(ctx context.Context) error
	CloseFunc func() error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return m.PingFunc(ctx) }
func (m *mockRedisClient) Close() error                   { return m.CloseFunc() }
