package memory

import (
	"context"
	"sync"
	"time"

	"crypto-payment-gate/internal/domain"
	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/repository"
)

var _ repository.SubscriptionRepository = (*SubscriptionRepo)(nil)

// SubscriptionRepo keeps one subscription per subscriber.
type SubscriptionRepo struct {
	mu           sync.RWMutex
	byID         map[string]*model.Subscription
	bySubscriber map[string]string
	now          func() time.Time
}

func NewSubscriptionRepo() *SubscriptionRepo {
	return &SubscriptionRepo{
		byID:         make(map[string]*model.Subscription),
		bySubscriber: make(map[string]string),
		now:          time.Now,
	}
}

func cloneSubscription(s *model.Subscription) *model.Subscription {
	cp := *s
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		cp.ExpiresAt = &t
	}
	if s.NextBillingDate != nil {
		t := *s.NextBillingDate
		cp.NextBillingDate = &t
	}
	return &cp
}

func (r *SubscriptionRepo) Save(_ context.Context, _ any, s *model.Subscription) error {
	if s == nil || s.ID == "" || s.SubscriberID == "" {
		return domain.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.bySubscriber[s.SubscriberID]; ok && prev != s.ID {
		delete(r.byID, prev)
	}
	r.byID[s.ID] = cloneSubscription(s)
	r.bySubscriber[s.SubscriberID] = s.ID
	return nil
}

func (r *SubscriptionRepo) FindByID(_ context.Context, _ any, id string) (*model.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneSubscription(s), nil
}

func (r *SubscriptionRepo) FindBySubscriber(_ context.Context, _ any, subscriberID string) (*model.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bySubscriber[subscriberID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneSubscription(r.byID[id]), nil
}

func (r *SubscriptionRepo) Update(_ context.Context, _ any, id string, patch model.SubscriptionPatch) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	patch.Apply(s, r.now().UTC())
	return cloneSubscription(s), nil
}

func (r *SubscriptionRepo) CountByStatus(_ context.Context, _ any) (map[model.SubscriptionStatus]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[model.SubscriptionStatus]int)
	for _, s := range r.byID {
		out[s.Status]++
	}
	return out, nil
}
