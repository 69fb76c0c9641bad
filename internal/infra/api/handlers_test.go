//go:build !integration

package api

import (
	"net/http"
	"testing"

	"crypto-payment-gate/internal/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlers_Health(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodGet, "/health", nil, nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-Id"))
}

func TestHandlers_Pricing(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodGet, "/api/v1/pricing", nil, nil)

	require.Equal(t, http.StatusOK, rr.Code)
	body := decode[struct {
		Endpoints []model.EndpointPricing `json:"endpoints"`
		Tiers     []model.TierPricing     `json:"tiers"`
	}](t, rr)
	assert.Len(t, body.Endpoints, 2)
	require.Len(t, body.Tiers, 2)
	assert.Equal(t, "premium", body.Tiers[0].ID)
}

func TestHandlers_VerifyPayment(t *testing.T) {
	t.Run("should confirm a settled payment and return an access token", func(t *testing.T) {
		// Arrange
		env := newTestEnv(t)
		envelope := env.exhaust(t, "/paid/report")
		env.chain.settled.Store(true)

		// Act
		rr := env.do(http.MethodPost, "/api/v1/payments/"+envelope.PaymentID+"/verify", map[string]string{"chain": "solana"}, nil)

		// Assert
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		body := decode[verifyResponse](t, rr)
		assert.True(t, body.Verification.Verified)
		assert.Equal(t, "sig-"+envelope.PaymentID, body.Verification.TxID)
		_, err := env.tokens.Parse(body.AccessToken, "/paid/report")
		assert.NoError(t, err)

		state := env.do(http.MethodGet, "/api/v1/payments/"+envelope.PaymentID, nil, nil)
		assert.Equal(t, model.PaymentStatusConfirmed, decode[model.PaymentState](t, state).Status)
	})

	t.Run("should accept an empty body", func(t *testing.T) {
		env := newTestEnv(t)
		envelope := env.exhaust(t, "/paid/report")
		env.chain.settled.Store(true)

		rr := env.do(http.MethodPost, "/api/v1/payments/"+envelope.PaymentID+"/verify", nil, nil)

		assert.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	})

	t.Run("should answer 404 for an unknown payment", func(t *testing.T) {
		env := newTestEnv(t)

		rr := env.do(http.MethodPost, "/api/v1/payments/nope/verify", map[string]string{}, nil)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("should reject an unknown chain", func(t *testing.T) {
		env := newTestEnv(t)

		rr := env.do(http.MethodPost, "/api/v1/payments/p1/verify", map[string]string{"chain": "dogecoin"}, nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decode[errorBody](t, rr).Error, "chain must be one of")
	})
}

func subscriptionRequest(subscriber string) map[string]string {
	return map[string]string{"subscriberId": subscriber, "tier": "premium", "interval": "monthly", "chain": "solana"}
}

// createSubscriptionPayment returns the new payment id.
func (e *testEnv) createSubscriptionPayment(t *testing.T, subscriber string) string {
	t.Helper()
	rr := e.do(http.MethodPost, "/api/v1/subscriptions/payments", subscriptionRequest(subscriber), nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[model.SubscriptionPaymentResponse](t, rr).PaymentID
}

func (e *testEnv) activate(subscriber, paymentID string) map[string]string {
	body := subscriptionRequest(subscriber)
	body["paymentId"] = paymentID
	return body
}

func TestHandlers_Subscriptions(t *testing.T) {
	t.Run("should create a subscription payment", func(t *testing.T) {
		env := newTestEnv(t)

		rr := env.do(http.MethodPost, "/api/v1/subscriptions/payments", subscriptionRequest("alice"), nil)

		require.Equal(t, http.StatusCreated, rr.Code)
		resp := decode[model.SubscriptionPaymentResponse](t, rr)
		assert.Equal(t, "9.99", resp.AmountUSD)
		assert.Equal(t, model.ChainSolana, resp.Option.Chain)
	})

	t.Run("should validate the request body", func(t *testing.T) {
		env := newTestEnv(t)
		body := subscriptionRequest("alice")
		delete(body, "tier")

		rr := env.do(http.MethodPost, "/api/v1/subscriptions/payments", body, nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decode[errorBody](t, rr).Error, "tier is required")
	})

	t.Run("should answer 400 for an unknown tier", func(t *testing.T) {
		env := newTestEnv(t)
		body := subscriptionRequest("alice")
		body["tier"] = "gold"

		rr := env.do(http.MethodPost, "/api/v1/subscriptions/payments", body, nil)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("should activate after settlement and report the subscription", func(t *testing.T) {
		// Arrange
		env := newTestEnv(t)
		id := env.createSubscriptionPayment(t, "alice")
		env.chain.settled.Store(true)

		// Act
		rr := env.do(http.MethodPost, "/api/v1/subscriptions/activate", env.activate("alice", id), nil)
		got := env.do(http.MethodGet, "/api/v1/subscriptions/alice", nil, nil)

		// Assert
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		sub := decode[model.Subscription](t, rr)
		assert.Equal(t, id, sub.PaymentID)
		assert.NotNil(t, sub.ExpiresAt)

		require.Equal(t, http.StatusOK, got.Code)
		body := decode[struct {
			Subscription model.Subscription `json:"subscription"`
			Active       bool               `json:"active"`
		}](t, got)
		assert.True(t, body.Active)
		assert.Equal(t, sub.ID, body.Subscription.ID)
	})

	t.Run("should refuse a payment created for another subscriber", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createSubscriptionPayment(t, "alice")
		env.chain.settled.Store(true)

		rr := env.do(http.MethodPost, "/api/v1/subscriptions/activate", env.activate("mallory", id), nil)

		assert.Equal(t, http.StatusForbidden, rr.Code)
		assert.Zero(t, env.chain.calls.Load())
	})

	t.Run("should answer 402 while the payment is unsettled", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createSubscriptionPayment(t, "bob")

		rr := env.do(http.MethodPost, "/api/v1/subscriptions/activate", env.activate("bob", id), nil)

		assert.Equal(t, http.StatusPaymentRequired, rr.Code)
		missing := env.do(http.MethodGet, "/api/v1/subscriptions/bob", nil, nil)
		assert.Equal(t, http.StatusNotFound, missing.Code)
	})

	t.Run("should cancel at period end and then immediately", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createSubscriptionPayment(t, "carol")
		env.chain.settled.Store(true)
		sub := decode[model.Subscription](t, env.do(http.MethodPost, "/api/v1/subscriptions/activate", env.activate("carol", id), nil))

		soft := env.do(http.MethodPost, "/api/v1/subscriptions/"+sub.ID+"/cancel", nil, nil)
		hard := env.do(http.MethodPost, "/api/v1/subscriptions/"+sub.ID+"/cancel?immediate=true", nil, nil)

		require.Equal(t, http.StatusOK, soft.Code)
		assert.True(t, decode[model.Subscription](t, soft).CancelAtPeriodEnd)
		require.Equal(t, http.StatusOK, hard.Code)
		assert.Equal(t, model.SubscriptionStatusCancelled, decode[model.Subscription](t, hard).Status)
	})

	t.Run("should upgrade with a payment for the new tier", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createSubscriptionPayment(t, "dave")
		env.chain.settled.Store(true)
		sub := decode[model.Subscription](t, env.do(http.MethodPost, "/api/v1/subscriptions/activate", env.activate("dave", id), nil))
		req := subscriptionRequest("dave")
		req["tier"] = "pro"
		pro := decode[model.SubscriptionPaymentResponse](t, env.do(http.MethodPost, "/api/v1/subscriptions/payments", req, nil))

		rr := env.do(http.MethodPost, "/api/v1/subscriptions/"+sub.ID+"/upgrade", map[string]string{"tier": "pro", "paymentId": pro.PaymentID}, nil)

		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		up := decode[model.Subscription](t, rr)
		assert.Equal(t, "pro", up.Tier)
		assert.Equal(t, pro.PaymentID, up.PaymentID)
	})

	t.Run("should refuse an upgrade paid with the old tier's payment", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createSubscriptionPayment(t, "erin")
		env.chain.settled.Store(true)
		sub := decode[model.Subscription](t, env.do(http.MethodPost, "/api/v1/subscriptions/activate", env.activate("erin", id), nil))

		rr := env.do(http.MethodPost, "/api/v1/subscriptions/"+sub.ID+"/upgrade", map[string]string{"tier": "pro", "paymentId": id}, nil)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("should answer 404 for an unknown subscriber", func(t *testing.T) {
		env := newTestEnv(t)

		rr := env.do(http.MethodGet, "/api/v1/subscriptions/nobody", nil, nil)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestHandlers_SubscriptionPayments(t *testing.T) {
	t.Run("should renew once per payment", func(t *testing.T) {
		// --- Arrange ---
		env := newTestEnv(t)
		env.chain.settled.Store(true)
		sub := decode[model.Subscription](t, env.do(http.MethodPost, "/api/v1/subscriptions/activate",
			env.activate("frank", env.createSubscriptionPayment(t, "frank")), nil))
		renewal := env.createSubscriptionPayment(t, "frank")
		path := "/api/v1/subscriptions/" + sub.ID + "/renew"

		// --- Act ---
		first := env.do(http.MethodPost, path, map[string]string{"paymentId": renewal}, nil)
		again := env.do(http.MethodPost, path, map[string]string{"paymentId": renewal}, nil)

		// --- Assert ---
		require.Equal(t, http.StatusOK, first.Code, first.Body.String())
		assert.True(t, decode[model.Subscription](t, first).ExpiresAt.After(*sub.ExpiresAt))
		assert.Equal(t, http.StatusConflict, again.Code, again.Body.String())
	})

	t.Run("should refuse to renew with the activation payment", func(t *testing.T) {
		env := newTestEnv(t)
		env.chain.settled.Store(true)
		id := env.createSubscriptionPayment(t, "gina")
		sub := decode[model.Subscription](t, env.do(http.MethodPost, "/api/v1/subscriptions/activate", env.activate("gina", id), nil))

		rr := env.do(http.MethodPost, "/api/v1/subscriptions/"+sub.ID+"/renew", map[string]string{"paymentId": id}, nil)

		assert.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())
	})

	t.Run("should refuse to renew with another subscriber's payment", func(t *testing.T) {
		env := newTestEnv(t)
		env.chain.settled.Store(true)
		sub := decode[model.Subscription](t, env.do(http.MethodPost, "/api/v1/subscriptions/activate",
			env.activate("hank", env.createSubscriptionPayment(t, "hank")), nil))
		foreign := env.createSubscriptionPayment(t, "ivy")

		rr := env.do(http.MethodPost, "/api/v1/subscriptions/"+sub.ID+"/renew", map[string]string{"paymentId": foreign}, nil)

		assert.Equal(t, http.StatusForbidden, rr.Code, rr.Body.String())
		activated := env.do(http.MethodPost, "/api/v1/subscriptions/activate", env.activate("ivy", foreign), nil)
		assert.Equal(t, http.StatusCreated, activated.Code, activated.Body.String())
	})

	t.Run("should refuse to activate twice with one payment", func(t *testing.T) {
		env := newTestEnv(t)
		env.chain.settled.Store(true)
		id := env.createSubscriptionPayment(t, "jack")

		first := env.do(http.MethodPost, "/api/v1/subscriptions/activate", env.activate("jack", id), nil)
		again := env.do(http.MethodPost, "/api/v1/subscriptions/activate", env.activate("jack", id), nil)

		require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
		assert.Equal(t, http.StatusConflict, again.Code, again.Body.String())
	})

	t.Run("should refuse to reuse an upgrade payment", func(t *testing.T) {
		// --- Arrange ---
		env := newTestEnv(t)
		env.chain.settled.Store(true)
		sub := decode[model.Subscription](t, env.do(http.MethodPost, "/api/v1/subscriptions/activate",
			env.activate("kate", env.createSubscriptionPayment(t, "kate")), nil))
		req := subscriptionRequest("kate")
		req["tier"] = "pro"
		pro := decode[model.SubscriptionPaymentResponse](t, env.do(http.MethodPost, "/api/v1/subscriptions/payments", req, nil))
		path := "/api/v1/subscriptions/" + sub.ID + "/upgrade"

		// --- Act ---
		first := env.do(http.MethodPost, path, map[string]string{"tier": "pro", "paymentId": pro.PaymentID}, nil)
		again := env.do(http.MethodPost, path, map[string]string{"tier": "pro", "paymentId": pro.PaymentID}, nil)

		// --- Assert ---
		require.Equal(t, http.StatusOK, first.Code, first.Body.String())
		assert.Equal(t, http.StatusConflict, again.Code, again.Body.String())
	})

	t.Run("should answer 404 when renewing an unknown subscription", func(t *testing.T) {
		env := newTestEnv(t)
		env.chain.settled.Store(true)
		id := env.createSubscriptionPayment(t, "liam")

		rr := env.do(http.MethodPost, "/api/v1/subscriptions/missing/renew", map[string]string{"paymentId": id}, nil)

		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Zero(t, env.chain.calls.Load())
	})
}

func TestHandlers_AwaitPayments(t *testing.T) {
	t.Run("should poll the chain before activating", func(t *testing.T) {
		env := newTestEnvWith(t, true)
		id := env.createSubscriptionPayment(t, "mia")

		rr := env.do(http.MethodPost, "/api/v1/subscriptions/activate", env.activate("mia", id), nil)

		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		assert.Equal(t, int32(1), env.polls.Load())
	})

	t.Run("should check once without await", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createSubscriptionPayment(t, "noah")

		rr := env.do(http.MethodPost, "/api/v1/subscriptions/activate", env.activate("noah", id), nil)

		assert.Equal(t, http.StatusPaymentRequired, rr.Code)
		assert.Zero(t, env.polls.Load())
	})
}
