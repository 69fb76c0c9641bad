package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"crypto-payment-gate/internal/domain"
	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/adapter"
	"crypto-payment-gate/internal/domain/ports/repository"
	ucport "crypto-payment-gate/internal/domain/ports/usecase"
	"crypto-payment-gate/internal/infra/logging"
	"crypto-payment-gate/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
)

// SubscriptionManager turns verified payments into subscriptions and manages their lifecycle.
// Expiry is evaluated lazily on read; nothing here rewrites an expired subscription.
type SubscriptionManager struct {
	tiers    map[string]*model.TierPricing
	adapters map[model.Chain]adapter.ChainAdapter
	payments repository.PaymentStateRepository
	subs     repository.SubscriptionRepository
	txm      repository.TransactionManager
	ttl      time.Duration
	log      *zerolog.Logger

	now func() time.Time
}

var _ ucport.SubscriptionManager = (*SubscriptionManager)(nil)

func NewSubscriptionManager(
	tiers map[string]*model.TierPricing,
	adapters []adapter.ChainAdapter,
	payments repository.PaymentStateRepository,
	subs repository.SubscriptionRepository,
	txm repository.TransactionManager,
	ttl time.Duration,
	logger *zerolog.Logger,
) *SubscriptionManager {
	m := &SubscriptionManager{
		tiers:    tiers,
		adapters: make(map[model.Chain]adapter.ChainAdapter, len(adapters)),
		payments: payments,
		subs:     subs,
		txm:      txm,
		ttl:      ttl,
		log:      logging.Component(logger, "subscriptions"),
		now:      time.Now,
	}
	for _, a := range adapters {
		m.adapters[a.Chain()] = a
	}
	return m
}

// Tiers lists the catalog ordered by id.
func (m *SubscriptionManager) Tiers() []*model.TierPricing {
	out := make([]*model.TierPricing, 0, len(m.tiers))
	for _, t := range m.tiers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *SubscriptionManager) price(tier string, interval model.BillingInterval) (model.IntervalPrice, error) {
	if !interval.Valid() {
		return model.IntervalPrice{}, domain.ErrInvalidInterval
	}
	t, ok := m.tiers[tier]
	if !ok {
		return model.IntervalPrice{}, fmt.Errorf("%w: %s", domain.ErrInvalidTier, tier)
	}
	p, ok := t.Price(interval)
	if !ok {
		return model.IntervalPrice{}, fmt.Errorf("%w: tier %s has no %s price", domain.ErrPricingNotFound, tier, interval)
	}
	return p, nil
}

// CreateSubscriptionPayment mints a single-chain option for the tier's price at req.Interval.
// The pricing lookup happens before any chain call. A precomputed native amount for the
// chain's primary currency bypasses the oracle.
func (m *SubscriptionManager) CreateSubscriptionPayment(ctx context.Context, req model.SubscriptionRequest) (*model.SubscriptionPaymentResponse, error) {
	ctx = logging.WithSubscriberID(ctx, req.SubscriberID)
	if req.SubscriberID == "" {
		return nil, fmt.Errorf("%w: subscriber id is required", domain.ErrInvalidArgument)
	}
	p, err := m.price(req.Tier, req.Interval)
	if err != nil {
		return nil, err
	}
	a, ok := m.adapters[req.Chain]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrChainNotConfigured, req.Chain)
	}
	currency := req.Currency
	if currency == "" {
		currency = a.Currencies()[0]
	}

	amount, native := p.Native[req.Chain]
	if !native || currency != a.Currencies()[0] {
		if amount, err = a.ConvertUSDToNative(ctx, p.USD, currency); err != nil {
			return nil, fmt.Errorf("convert %s USD to %s: %w", p.USD, currency, err)
		}
	}

	ps, err := model.NewPaymentState(ulid.Make().String(), model.SubscriptionEndpoint(req.Tier, req.Interval), p.USD, m.now().UTC(), m.ttl)
	if err != nil {
		return nil, err
	}
	ps.Chain = req.Chain
	ps.Reference = req.SubscriberID
	opt, err := a.CreatePayment(ctx, adapter.PaymentRequest{
		PaymentID: ps.ID,
		Label:     m.tiers[req.Tier].Name,
		Message:   fmt.Sprintf("%s subscription (%s)", req.Tier, req.Interval),
		ExpiresAt: ps.ExpiresAt,
	}, amount, currency)
	if err != nil {
		return nil, err
	}
	ps.Options = []model.PaymentOption{*opt}
	if err := m.payments.Create(ctx, repository.NoTX, ps); err != nil {
		return nil, fmt.Errorf("persist payment state: %w", err)
	}

	logging.With(ctx, m.log).Info().Str("tier", req.Tier).Str("interval", string(req.Interval)).
		Str("chain", string(req.Chain)).Str("payment_id", ps.ID).Msg("subscription payment created")
	return &model.SubscriptionPaymentResponse{
		PaymentID:    ps.ID,
		Option:       *opt,
		Tier:         req.Tier,
		Interval:     string(req.Interval),
		AmountUSD:    p.USD.StringFixed(2),
		SubscriberID: req.SubscriberID,
		ExpiresAt:    ps.ExpiresAt,
	}, nil
}

// ActivateSubscription stores a fresh active subscription for subscriberID.
// v must be verified and its payment issued for subscriberID at req's tier and interval.
// The payment is spent by the activation; an existing subscription of the subscriber is replaced.
func (m *SubscriptionManager) ActivateSubscription(ctx context.Context, subscriberID string, req model.SubscriptionRequest, v *model.PaymentVerification) (*model.Subscription, error) {
	if v == nil || !v.Verified {
		return nil, domain.ErrPaymentNotVerified
	}
	if _, err := m.price(req.Tier, req.Interval); err != nil {
		return nil, err
	}
	s, err := model.NewSubscription(uuid.NewString(), subscriberID, req.Tier, req.Interval, v, m.now().UTC())
	if err != nil {
		return nil, err
	}
	err = m.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := m.spend(ctx, tx, v.PaymentID, subscriberID, req.Tier, req.Interval, s.ID); err != nil {
			return err
		}
		if err := m.subs.Save(ctx, tx, s); err != nil {
			return fmt.Errorf("save subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.IncSubscriptionEvent("activated", req.Tier)
	logging.With(logging.WithSubscriberID(ctx, subscriberID), m.log).Info().
		Str("subscription_id", s.ID).Str("tier", s.Tier).Str("interval", string(s.Interval)).Msg("subscription activated")
	return s, nil
}

// spend checks that paymentID is a confirmed payment issued for subscriberID's tier at
// interval, then marks it consumed by subscriptionID.
func (m *SubscriptionManager) spend(ctx context.Context, tx repository.Tx, paymentID, subscriberID, tier string, interval model.BillingInterval, subscriptionID string) error {
	ps, err := m.payments.FindByID(ctx, tx, paymentID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrPaymentNotFound
	}
	if err != nil {
		return err
	}
	if ps.Status != model.PaymentStatusConfirmed {
		return domain.ErrPaymentNotVerified
	}
	if !ps.PaysFor(subscriberID, tier, interval) {
		return fmt.Errorf("%w: payment %s", domain.ErrPaymentMismatch, paymentID)
	}
	ok, err := m.payments.MarkConsumed(ctx, tx, paymentID, subscriptionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: payment %s", domain.ErrPaymentConsumed, paymentID)
	}
	return nil
}

// IsSubscriptionActive is a read-only check; a lapsed subscription keeps its stored status.
func (m *SubscriptionManager) IsSubscriptionActive(ctx context.Context, subscriberID string) (bool, error) {
	s, err := m.subs.FindBySubscriber(ctx, repository.NoTX, subscriberID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return s.IsActiveAt(m.now()), nil
}

func (m *SubscriptionManager) GetSubscription(ctx context.Context, subscriberID string) (*model.Subscription, error) {
	s, err := m.subs.FindBySubscriber(ctx, repository.NoTX, subscriberID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrSubscriptionNotFound
	}
	return s, err
}

// CancelSubscription keeps access until the period ends.
func (m *SubscriptionManager) CancelSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	yes := true
	return m.update(ctx, repository.NoTX, id, "cancel_scheduled", model.SubscriptionPatch{CancelAtPeriodEnd: &yes})
}

// CancelSubscriptionNow revokes access immediately.
func (m *SubscriptionManager) CancelSubscriptionNow(ctx context.Context, id string) (*model.Subscription, error) {
	yes, cancelled := true, model.SubscriptionStatusCancelled
	return m.update(ctx, repository.NoTX, id, "cancelled", model.SubscriptionPatch{
		CancelAtPeriodEnd: &yes,
		Status:            &cancelled,
		ClearBillingDate:  true,
	})
}

// SubscriptionByID returns the subscription with id.
func (m *SubscriptionManager) SubscriptionByID(ctx context.Context, id string) (*model.Subscription, error) {
	s, err := m.subs.FindByID(ctx, repository.NoTX, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrSubscriptionNotFound
	}
	return s, err
}

// UpgradeSubscription swaps tier and payment in place. The billing period is unchanged.
// paymentID must be a confirmed payment for the subscriber at the new tier and the current interval.
func (m *SubscriptionManager) UpgradeSubscription(ctx context.Context, id, newTier, paymentID string) (*model.Subscription, error) {
	if _, ok := m.tiers[newTier]; !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidTier, newTier)
	}
	if paymentID == "" {
		return nil, fmt.Errorf("%w: payment id is required", domain.ErrInvalidArgument)
	}
	var out *model.Subscription
	err := m.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		s, err := m.subs.FindByID(ctx, tx, id)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrSubscriptionNotFound
		}
		if err != nil {
			return err
		}
		if err := m.spend(ctx, tx, paymentID, s.SubscriberID, newTier, s.Interval, s.ID); err != nil {
			return err
		}
		out, err = m.update(ctx, tx, id, "upgraded", model.SubscriptionPatch{Tier: &newTier, PaymentID: &paymentID})
		return err
	})
	return out, err
}

// RenewSubscription extends by one interval from the later of now and the current expiry,
// reactivating the subscription and clearing a scheduled cancellation. v's payment must be
// issued for the subscriber at the current tier and interval, and is spent by the renewal.
// The read and the write share one transaction so concurrent renewals cannot both extend from the same expiry.
func (m *SubscriptionManager) RenewSubscription(ctx context.Context, id string, v *model.PaymentVerification) (*model.Subscription, error) {
	if v == nil || !v.Verified {
		return nil, domain.ErrPaymentNotVerified
	}
	var out *model.Subscription
	err := m.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		s, err := m.subs.FindByID(ctx, tx, id)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrSubscriptionNotFound
		}
		if err != nil {
			return err
		}

		from := m.now().UTC()
		if s.ExpiresAt != nil && s.ExpiresAt.After(from) {
			from = *s.ExpiresAt
		}
		end, err := model.PeriodEnd(from, s.Interval)
		if err != nil {
			return err
		}
		if end == nil {
			return fmt.Errorf("%w: lifetime subscriptions do not renew", domain.ErrInvalidInterval)
		}
		if err := m.spend(ctx, tx, v.PaymentID, s.SubscriberID, s.Tier, s.Interval, s.ID); err != nil {
			return err
		}
		no, active := false, model.SubscriptionStatusActive
		out, err = m.update(ctx, tx, id, "renewed", model.SubscriptionPatch{
			Status:            &active,
			PaymentID:         &v.PaymentID,
			CancelAtPeriodEnd: &no,
			ExpiresAt:         end,
			NextBillingDate:   end,
		})
		return err
	})
	return out, err
}

func (m *SubscriptionManager) update(ctx context.Context, tx repository.Tx, id, event string, patch model.SubscriptionPatch) (*model.Subscription, error) {
	s, err := m.subs.Update(ctx, tx, id, patch)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	metrics.IncSubscriptionEvent(event, s.Tier)
	logging.With(logging.WithSubscriberID(ctx, s.SubscriberID), m.log).Info().
		Str("subscription_id", id).Str("event", event).Msg("subscription updated")
	return s, nil
}

// RefreshGauges publishes subscription counts by stored status.
func (m *SubscriptionManager) RefreshGauges(ctx context.Context) error {
	counts, err := m.subs.CountByStatus(ctx, repository.NoTX)
	if err != nil {
		return err
	}
	metrics.SetSubscriptionsTotal(counts)
	return nil
}
