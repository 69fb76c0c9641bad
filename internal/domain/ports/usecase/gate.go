package usecase

import (
	"context"

	"crypto-payment-gate/internal/domain/model"
)

// PaymentGate is what the HTTP surface needs from the gate.
type PaymentGate interface {
	RequiresPayment(endpoint string) bool
	Pricing(endpoint string) (model.EndpointPricing, bool)
	GeneratePaymentRequired(ctx context.Context, endpoint string, meta model.RequestMetadata) (*model.Http402Response, error)
	VerifyPayment(ctx context.Context, paymentID string, chain model.Chain, settlementID string) (*model.PaymentVerification, error)
	AwaitPayment(ctx context.Context, paymentID string, chain model.Chain, settlementID string) (*model.PaymentVerification, error)
	CheckRateLimit(ctx context.Context, key, endpoint string, isPaid bool) (model.RateLimitResult, error)
	Payment(ctx context.Context, id string) (*model.PaymentState, error)
}
