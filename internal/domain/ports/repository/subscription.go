package repository

import (
	"context"

	"crypto-payment-gate/internal/domain/model"
)

// -----------------------------
// Subscriptions
// -----------------------------

type SubscriptionRepository interface {
	// Save upserts the single subscription of a subscriber; an existing one is overwritten.
	Save(ctx context.Context, qx any, s *model.Subscription) error
	FindByID(ctx context.Context, qx any, id string) (*model.Subscription, error)
	FindBySubscriber(ctx context.Context, qx any, subscriberID string) (*model.Subscription, error)
	Update(ctx context.Context, qx any, id string, patch model.SubscriptionPatch) (*model.Subscription, error)
	CountByStatus(ctx context.Context, qx any) (map[model.SubscriptionStatus]int, error)
}
