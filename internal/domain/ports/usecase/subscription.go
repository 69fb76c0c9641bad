package usecase

import (
	"context"

	"crypto-payment-gate/internal/domain/model"
)

// SubscriptionManager defines the subscription lifecycle operations exposed over HTTP.
type SubscriptionManager interface {
	Tiers() []*model.TierPricing
	CreateSubscriptionPayment(ctx context.Context, req model.SubscriptionRequest) (*model.SubscriptionPaymentResponse, error)
	ActivateSubscription(ctx context.Context, subscriberID string, req model.SubscriptionRequest, v *model.PaymentVerification) (*model.Subscription, error)
	IsSubscriptionActive(ctx context.Context, subscriberID string) (bool, error)
	GetSubscription(ctx context.Context, subscriberID string) (*model.Subscription, error)
	SubscriptionByID(ctx context.Context, id string) (*model.Subscription, error)
	CancelSubscription(ctx context.Context, id string) (*model.Subscription, error)
	CancelSubscriptionNow(ctx context.Context, id string) (*model.Subscription, error)
	UpgradeSubscription(ctx context.Context, id, newTier, paymentID string) (*model.Subscription, error)
	RenewSubscription(ctx context.Context, id string, v *model.PaymentVerification) (*model.Subscription, error)
}
