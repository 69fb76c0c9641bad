package api

import (
	"context"
	"net/http"

	"crypto-payment-gate/internal/domain"
	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/usecase"

	"github.com/go-chi/chi/v5"
)

func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// pricingHandler publishes the endpoint price list and the subscription catalog.
func pricingHandler(endpoints []model.EndpointPricing, subs usecase.SubscriptionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Endpoints []model.EndpointPricing `json:"endpoints"`
			Tiers     []*model.TierPricing    `json:"tiers"`
		}{Endpoints: endpoints, Tiers: subs.Tiers()})
	}
}

func paymentHandler(gate usecase.PaymentGate) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ps, err := gate.Payment(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ps)
	}
}

type settlementRequest struct {
	Chain        model.Chain `json:"chain,omitempty" validate:"omitempty,oneof=solana lightning base"`
	SettlementID string      `json:"settlementId,omitempty"`
}

type verifyResponse struct {
	Verification *model.PaymentVerification `json:"verification"`
	AccessToken  string                     `json:"accessToken,omitempty"`
}

// verifyPaymentHandler checks one payment explicitly. A confirmed payment for a priced endpoint
// comes back with an access token for that endpoint's pattern.
func verifyPaymentHandler(gate usecase.PaymentGate, tokens *TokenIssuer, await bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req settlementRequest
		if !decodeBody(w, r, &req) {
			return
		}
		id := chi.URLParam(r, "id")
		v, ok := verifyFor(r.Context(), w, gate, await, id, req, func(*model.PaymentState) error { return nil })
		if !ok {
			return
		}
		resp := verifyResponse{Verification: v}
		ps, err := gate.Payment(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if pricing, priced := gate.Pricing(ps.Endpoint); priced {
			if resp.AccessToken, err = tokens.Mint(pricing.Pattern, id); err != nil {
				writeError(w, err)
				return
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// verifyFor verifies paymentID after check accepted its stored state. With await set the
// chain is polled as the paywall does. It writes the failure response itself and reports
// whether the caller may go on.
func verifyFor(ctx context.Context, w http.ResponseWriter, gate usecase.PaymentGate, await bool, paymentID string, req settlementRequest, check func(*model.PaymentState) error) (*model.PaymentVerification, bool) {
	ps, err := gate.Payment(ctx, paymentID)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if err := check(ps); err != nil {
		writeError(w, err)
		return nil, false
	}
	verify := gate.VerifyPayment
	if await {
		verify = gate.AwaitPayment
	}
	v, err := verify(ctx, paymentID, req.Chain, req.SettlementID)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if !v.Verified {
		writeJSON(w, statusFor(v.Err()), struct {
			errorBody
			Verification *model.PaymentVerification `json:"verification"`
		}{errorBody{Error: v.Err().Error(), Reason: v.Reason}, v})
		return nil, false
	}
	return v, true
}

// paysFor accepts an unspent payment issued for subscriberID's tier at interval.
func paysFor(subscriberID, tier string, interval model.BillingInterval) func(*model.PaymentState) error {
	return func(ps *model.PaymentState) error {
		if !ps.PaysFor(subscriberID, tier, interval) {
			return domain.ErrPaymentMismatch
		}
		if ps.ConsumedBy != "" {
			return domain.ErrPaymentConsumed
		}
		return nil
	}
}

func createSubscriptionPaymentHandler(subs usecase.SubscriptionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req model.SubscriptionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		resp, err := subs.CreateSubscriptionPayment(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

type activateRequest struct {
	model.SubscriptionRequest
	PaymentID    string `json:"paymentId" validate:"required"`
	SettlementID string `json:"settlementId,omitempty"`
}

// activateSubscriptionHandler verifies a subscription payment and activates the subscription.
// The payment must have been created for the same subscriber, tier and interval.
func activateSubscriptionHandler(gate usecase.PaymentGate, subs usecase.SubscriptionManager, await bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req activateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		v, ok := verifyFor(r.Context(), w, gate, await, req.PaymentID,
			settlementRequest{Chain: req.Chain, SettlementID: req.SettlementID},
			paysFor(req.SubscriberID, req.Tier, req.Interval))
		if !ok {
			return
		}
		s, err := subs.ActivateSubscription(r.Context(), req.SubscriberID, req.SubscriptionRequest, v)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, s)
	}
}

func getSubscriptionHandler(subs usecase.SubscriptionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		subscriberID := chi.URLParam(r, "subscriberId")
		s, err := subs.GetSubscription(ctx, subscriberID)
		if err != nil {
			writeError(w, err)
			return
		}
		active, err := subs.IsSubscriptionActive(ctx, subscriberID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Subscription *model.Subscription `json:"subscription"`
			Active       bool                `json:"active"`
		}{s, active})
	}
}

// cancelSubscriptionHandler schedules cancellation at period end, or revokes at once with ?immediate=true.
func cancelSubscriptionHandler(subs usecase.SubscriptionManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		cancel := subs.CancelSubscription
		if r.URL.Query().Get("immediate") == "true" {
			cancel = subs.CancelSubscriptionNow
		}
		s, err := cancel(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

type upgradeRequest struct {
	Tier         string      `json:"tier" validate:"required"`
	PaymentID    string      `json:"paymentId" validate:"required"`
	Chain        model.Chain `json:"chain,omitempty" validate:"omitempty,oneof=solana lightning base"`
	SettlementID string      `json:"settlementId,omitempty"`
}

// upgradeSubscriptionHandler moves a subscription to req.Tier. The payment must be issued for
// the subscriber at the new tier and the subscription's interval.
func upgradeSubscriptionHandler(gate usecase.PaymentGate, subs usecase.SubscriptionManager, await bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req upgradeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		sub, err := subs.SubscriptionByID(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		_, ok := verifyFor(r.Context(), w, gate, await, req.PaymentID,
			settlementRequest{Chain: req.Chain, SettlementID: req.SettlementID},
			paysFor(sub.SubscriberID, req.Tier, sub.Interval))
		if !ok {
			return
		}
		s, err := subs.UpgradeSubscription(r.Context(), sub.ID, req.Tier, req.PaymentID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

type renewRequest struct {
	PaymentID    string      `json:"paymentId" validate:"required"`
	Chain        model.Chain `json:"chain,omitempty" validate:"omitempty,oneof=solana lightning base"`
	SettlementID string      `json:"settlementId,omitempty"`
}

// renewSubscriptionHandler extends a subscription by one interval with an unspent payment
// issued for its subscriber, tier and interval.
func renewSubscriptionHandler(gate usecase.PaymentGate, subs usecase.SubscriptionManager, await bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req renewRequest
		if !decodeBody(w, r, &req) {
			return
		}
		sub, err := subs.SubscriptionByID(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		v, ok := verifyFor(r.Context(), w, gate, await, req.PaymentID,
			settlementRequest{Chain: req.Chain, SettlementID: req.SettlementID},
			paysFor(sub.SubscriberID, sub.Tier, sub.Interval))
		if !ok {
			return
		}
		s, err := subs.RenewSubscription(r.Context(), sub.ID, v)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}
