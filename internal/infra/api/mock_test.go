//go:build !integration

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/adapter"
	"crypto-payment-gate/internal/infra/db/memory"
	"crypto-payment-gate/internal/infra/ratelimit"
	"crypto-payment-gate/internal/usecase"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

// fakeChain quotes 1 SOL = 100 USD and settles every payment once settled is set.
type fakeChain struct {
	settled atomic.Bool
	calls   atomic.Int32
}

var _ adapter.ChainAdapter = (*fakeChain)(nil)

func (f *fakeChain) Chain() model.Chain   { return model.ChainSolana }
func (f *fakeChain) Currencies() []string { return []string{model.CurrencySOL} }

func (f *fakeChain) ConvertUSDToNative(_ context.Context, usd decimal.Decimal, _ string) (decimal.Decimal, error) {
	return usd.Div(decimal.NewFromInt(100)), nil
}

func (f *fakeChain) CreatePayment(_ context.Context, req adapter.PaymentRequest, amount decimal.Decimal, currency string) (*model.PaymentOption, error) {
	return &model.PaymentOption{
		Chain:      model.ChainSolana,
		Amount:     amount,
		Currency:   currency,
		PaymentURI: "solana:merchant?reference=" + req.PaymentID,
		Recipient:  "merchant",
		Reference:  "ref-" + req.PaymentID,
		ExpiresAt:  req.ExpiresAt,
	}, nil
}

func (f *fakeChain) VerifyPayment(_ context.Context, q adapter.VerifyQuery) (*model.PaymentVerification, error) {
	f.calls.Add(1)
	if !f.settled.Load() {
		return model.FailedVerification(q.PaymentID, model.ChainSolana, model.ReasonNotSettled, "no matching transfer"), nil
	}
	o := q.Options[0]
	return &model.PaymentVerification{
		Verified:  true,
		PaymentID: q.PaymentID,
		Chain:     model.ChainSolana,
		Amount:    o.Amount,
		Currency:  o.Currency,
		TxID:      "sig-" + q.PaymentID,
		Recipient: o.Recipient,
		Timestamp: time.Now().UTC(),
	}, nil
}

var testEndpoints = []model.EndpointPricing{
	{Pattern: "/paid/report", USD: decimal.RequireFromString("0.50")},
	{Pattern: "/paid/premium/*", USD: decimal.RequireFromString("2.00")},
}

var testTiers = map[string]*model.TierPricing{
	"premium": {
		ID:   "premium",
		Name: "Premium",
		Prices: map[model.BillingInterval]model.IntervalPrice{
			model.IntervalMonthly: {USD: decimal.RequireFromString("9.99")},
		},
	},
	"pro": {
		ID:   "pro",
		Name: "Pro",
		Prices: map[model.BillingInterval]model.IntervalPrice{
			model.IntervalMonthly: {USD: decimal.RequireFromString("19.99")},
		},
	},
}

type testEnv struct {
	chain   *fakeChain
	tokens  *TokenIssuer
	handler http.Handler
	polls   atomic.Int32
}

// newTestEnv wires the real gate and subscription manager over memory storage.
// Unpaid callers get one free request per endpoint.
func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, false)
}

// newTestEnvWith builds the env with AwaitPayments set to await. Polling settles the chain
// and verifies once, so tests can tell a poll from a single check.
func newTestEnvWith(t *testing.T, await bool) *testEnv {
	t.Helper()
	log := newTestLogger()
	chain := &fakeChain{}
	adapters := []adapter.ChainAdapter{chain}
	payments := memory.NewPaymentStateRepo()

	responder := usecase.NewResponder(adapters, payments, time.Minute, "Test", log)
	env := &testEnv{chain: chain}
	poll := func(ctx context.Context, a adapter.ChainAdapter, q adapter.VerifyQuery, _, _ time.Duration) (*model.PaymentVerification, error) {
		env.polls.Add(1)
		chain.settled.Store(true)
		return a.VerifyPayment(ctx, q)
	}
	gate, err := usecase.NewPaymentGate(testEndpoints, responder, adapters, payments,
		ratelimit.NewMemory(1, 10, time.Minute), usecase.NewNotifier(log), nil, poll,
		usecase.GateOptions{VerifyTimeout: time.Second, PollInterval: 10 * time.Millisecond, PollTimeout: time.Second}, log)
	require.NoError(t, err)
	subs := usecase.NewSubscriptionManager(testTiers, adapters, payments, memory.NewSubscriptionRepo(), memory.NewTxManager(), time.Minute, log)

	env.tokens = NewTokenIssuer("0123456789abcdef0123456789abcdef", time.Hour)
	srv := NewServer(gate, subs, env.tokens, Options{PublicURL: "https://gate.example", Endpoints: testEndpoints, AwaitPayments: await}, log)
	env.handler = srv.Routes()
	return env
}

func (e *testEnv) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}
