//go:build !integration

package usecase_test

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/adapter"
)

// =============================
// Adapters
// =============================

// ---- Mock ChainAdapter ----

type MockChainAdapter struct {
	ChainName model.Chain
	Curr      []string

	ConvertFunc func(ctx context.Context, usd decimal.Decimal, currency string) (decimal.Decimal, error)
	CreateFunc  func(ctx context.Context, req adapter.PaymentRequest, amount decimal.Decimal, currency string) (*model.PaymentOption, error)
	VerifyFunc  func(ctx context.Context, q adapter.VerifyQuery) (*model.PaymentVerification, error)

	verifyCalls int32
}

var _ adapter.ChainAdapter = (*MockChainAdapter)(nil)

// NewMockChainAdapter quotes 1 native unit = 100 USD and never settles.
func NewMockChainAdapter(chain model.Chain, currencies ...string) *MockChainAdapter {
	return &MockChainAdapter{ChainName: chain, Curr: currencies}
}

func (m *MockChainAdapter) Chain() model.Chain   { return m.ChainName }
func (m *MockChainAdapter) Currencies() []string { return m.Curr }

func (m *MockChainAdapter) ConvertUSDToNative(ctx context.Context, usd decimal.Decimal, currency string) (decimal.Decimal, error) {
	if m.ConvertFunc != nil {
		return m.ConvertFunc(ctx, usd, currency)
	}
	return usd.Div(decimal.NewFromInt(100)), nil
}

func (m *MockChainAdapter) CreatePayment(ctx context.Context, req adapter.PaymentRequest, amount decimal.Decimal, currency string) (*model.PaymentOption, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, req, amount, currency)
	}
	return &model.PaymentOption{
		Chain:      m.ChainName,
		Amount:     amount,
		Currency:   currency,
		PaymentURI: string(m.ChainName) + ":" + req.PaymentID,
		Recipient:  "merchant",
		Reference:  "ref-" + req.PaymentID + "-" + currency,
		ExpiresAt:  req.ExpiresAt,
	}, nil
}

func (m *MockChainAdapter) VerifyPayment(ctx context.Context, q adapter.VerifyQuery) (*model.PaymentVerification, error) {
	atomic.AddInt32(&m.verifyCalls, 1)
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, q)
	}
	return model.FailedVerification(q.PaymentID, m.ChainName, model.ReasonNotSettled, "not settled"), nil
}

func (m *MockChainAdapter) VerifyCalls() int { return int(atomic.LoadInt32(&m.verifyCalls)) }

// settledWith makes the adapter report a settled payment for tx.
func settledWith(tx string) func(ctx context.Context, q adapter.VerifyQuery) (*model.PaymentVerification, error) {
	return func(ctx context.Context, q adapter.VerifyQuery) (*model.PaymentVerification, error) {
		o := q.Options[0]
		return &model.PaymentVerification{
			Verified:  true,
			PaymentID: q.PaymentID,
			Chain:     o.Chain,
			Amount:    o.Amount,
			Currency:  o.Currency,
			TxID:      tx,
			Recipient: o.Recipient,
		}, nil
	}
}

// ---- Mock PaymentNotifier ----

type MockNotifier struct {
	mu       sync.Mutex
	Verified []string
	Failed   []string

	PaymentVerifiedFunc func(ctx context.Context, ps *model.PaymentState, v *model.PaymentVerification) error
}

var _ adapter.PaymentNotifier = (*MockNotifier)(nil)

func (m *MockNotifier) PaymentVerified(ctx context.Context, ps *model.PaymentState, v *model.PaymentVerification) error {
	m.mu.Lock()
	m.Verified = append(m.Verified, ps.ID)
	m.mu.Unlock()
	if m.PaymentVerifiedFunc != nil {
		return m.PaymentVerifiedFunc(ctx, ps, v)
	}
	return nil
}

func (m *MockNotifier) PaymentFailed(ctx context.Context, ps *model.PaymentState, v *model.PaymentVerification) error {
	m.mu.Lock()
	m.Failed = append(m.Failed, ps.ID)
	m.mu.Unlock()
	return nil
}

func (m *MockNotifier) Counts() (verified, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Verified), len(m.Failed)
}

// ---- Mock RateLimiter ----

type MockRateLimiter struct {
	CheckFunc func(ctx context.Context, key, endpoint string, isPaid bool) (model.RateLimitResult, error)
}

var _ adapter.RateLimiter = (*MockRateLimiter)(nil)

func (m *MockRateLimiter) Check(ctx context.Context, key, endpoint string, isPaid bool) (model.RateLimitResult, error) {
	if m.CheckFunc != nil {
		return m.CheckFunc(ctx, key, endpoint, isPaid)
	}
	return model.RateLimitResult{Allowed: true}, nil
}

// ---- Inline submitter ----

// syncSubmitter runs tasks on the calling goroutine so tests can assert right after.
type syncSubmitter struct{}

func (syncSubmitter) Submit(task func(ctx context.Context) error) error {
	return task(context.Background())
}

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}
