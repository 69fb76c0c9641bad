package model

import (
	"time"

	"crypto-payment-gate/internal/domain"

	"github.com/shopspring/decimal"
)

type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusPending   SubscriptionStatus = "pending"
)

// Subscription is the single entitlement record of a subscriber.
// Lifetime subscriptions carry no ExpiresAt and no NextBillingDate.
type Subscription struct {
	ID                string             `json:"id"` // UUID
	SubscriberID      string             `json:"subscriberId"`
	Tier              string             `json:"tier"`
	Interval          BillingInterval    `json:"interval"`
	Status            SubscriptionStatus `json:"status"`
	Chain             Chain              `json:"chain"`
	Amount            decimal.Decimal    `json:"amount"`
	Currency          string             `json:"currency"`
	StartDate         time.Time          `json:"startDate"`
	ExpiresAt         *time.Time         `json:"expiresAt,omitempty"`
	NextBillingDate   *time.Time         `json:"nextBillingDate,omitempty"`
	CancelAtPeriodEnd bool               `json:"cancelAtPeriodEnd"`
	PaymentID         string             `json:"paymentId"`
	CreatedAt         time.Time          `json:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

// PeriodEnd adds one billing interval to start using calendar arithmetic.
// Month overflow normalises forward, so Jan 31 + 1 month is Mar 2 (or Mar 3 outside leap years).
// Lifetime returns nil.
func PeriodEnd(start time.Time, interval BillingInterval) (*time.Time, error) {
	var end time.Time
	switch interval {
	case IntervalMonthly:
		end = start.AddDate(0, 1, 0)
	case IntervalYearly:
		end = start.AddDate(1, 0, 0)
	case IntervalLifetime:
		return nil, nil
	default:
		return nil, domain.ErrInvalidInterval
	}
	return &end, nil
}

// NewSubscription creates an active subscription starting at now.
func NewSubscription(id, subscriberID, tier string, interval BillingInterval, v *PaymentVerification, now time.Time) (*Subscription, error) {
	if id == "" || subscriberID == "" || tier == "" || v == nil {
		return nil, domain.ErrInvalidArgument
	}
	end, err := PeriodEnd(now, interval)
	if err != nil {
		return nil, err
	}
	var next *time.Time
	if end != nil {
		n := *end
		next = &n
	}
	return &Subscription{
		ID:              id,
		SubscriberID:    subscriberID,
		Tier:            tier,
		Interval:        interval,
		Status:          SubscriptionStatusActive,
		Chain:           v.Chain,
		Amount:          v.Amount,
		Currency:        v.Currency,
		StartDate:       now,
		ExpiresAt:       end,
		NextBillingDate: next,
		PaymentID:       v.PaymentID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// IsActiveAt evaluates expiry lazily; the stored status is not rewritten.
func (s *Subscription) IsActiveAt(now time.Time) bool {
	if s == nil || s.Status != SubscriptionStatusActive {
		return false
	}
	return s.ExpiresAt == nil || !now.After(*s.ExpiresAt)
}

// SubscriptionPatch is a partial update; nil fields are left untouched.
type SubscriptionPatch struct {
	Tier              *string
	Status            *SubscriptionStatus
	PaymentID         *string
	CancelAtPeriodEnd *bool
	ExpiresAt         *time.Time
	NextBillingDate   *time.Time
	ClearBillingDate  bool // clears NextBillingDate when set
}

// Apply copies non-nil patch fields onto s.
func (p SubscriptionPatch) Apply(s *Subscription, now time.Time) {
	if p.Tier != nil {
		s.Tier = *p.Tier
	}
	if p.Status != nil {
		s.Status = *p.Status
	}
	if p.PaymentID != nil {
		s.PaymentID = *p.PaymentID
	}
	if p.CancelAtPeriodEnd != nil {
		s.CancelAtPeriodEnd = *p.CancelAtPeriodEnd
	}
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		s.ExpiresAt = &t
	}
	if p.NextBillingDate != nil {
		t := *p.NextBillingDate
		s.NextBillingDate = &t
	}
	if p.ClearBillingDate {
		s.NextBillingDate = nil
	}
	s.UpdatedAt = now
}

// SubscriptionEndpoint is the pseudo endpoint recorded on subscription payment states.
func SubscriptionEndpoint(tier string, interval BillingInterval) string {
	return "subscription:" + tier + ":" + string(interval)
}

// PaysFor reports whether p was issued for subscriberID's tier at interval.
func (p *PaymentState) PaysFor(subscriberID, tier string, interval BillingInterval) bool {
	return p.Reference == subscriberID && p.Endpoint == SubscriptionEndpoint(tier, interval)
}

// SubscriptionRequest asks for a payment for tier at interval on chain.
type SubscriptionRequest struct {
	SubscriberID string          `json:"subscriberId" validate:"required"`
	Tier         string          `json:"tier" validate:"required"`
	Interval     BillingInterval `json:"interval" validate:"required,oneof=monthly yearly lifetime"`
	Chain        Chain           `json:"chain" validate:"required,oneof=solana lightning base"`
	Currency     string          `json:"currency,omitempty"`
}

// SubscriptionPaymentResponse is handed back to the subscriber so they can pay.
type SubscriptionPaymentResponse struct {
	PaymentID    string        `json:"paymentId"`
	Option       PaymentOption `json:"paymentOption"`
	Tier         string        `json:"tier"`
	Interval     string        `json:"interval"`
	AmountUSD    string        `json:"amountUsd"`
	SubscriberID string        `json:"subscriberId"`
	ExpiresAt    time.Time     `json:"expiresAt"`
}
