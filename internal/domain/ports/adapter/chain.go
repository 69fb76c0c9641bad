package adapter

import (
	"context"
	"time"

	"crypto-payment-gate/internal/domain/model"

	"github.com/shopspring/decimal"
)

// PaymentRequest carries what a chain needs to mint a payment option.
type PaymentRequest struct {
	PaymentID string
	Label     string
	Message   string
	ExpiresAt time.Time
}

// VerifyQuery identifies what to look for on chain.
// Options are the options minted for the adapter's chain; SettlementID is the
// caller supplied proof (a tx hash on EVM chains) and may be empty elsewhere.
// Settlements older than CreatedAt are not accepted where the chain exposes a timestamp.
type VerifyQuery struct {
	PaymentID    string
	Options      []model.PaymentOption
	SettlementID string
	CreatedAt    time.Time
}

// ChainAdapter is the hex port for one settlement network.
type ChainAdapter interface {
	Chain() model.Chain
	// Currencies lists the currencies this adapter can mint options for, primary first.
	Currencies() []string

	// ConvertUSDToNative converts a USD amount into the currency's native unit.
	ConvertUSDToNative(ctx context.Context, usd decimal.Decimal, currency string) (decimal.Decimal, error)
	// CreatePayment mints a payment option with a unique reference.
	CreatePayment(ctx context.Context, req PaymentRequest, amount decimal.Decimal, currency string) (*model.PaymentOption, error)
	// VerifyPayment checks the chain once. "Not paid yet" is a non-nil verification with Verified=false;
	// errors are reserved for malformed queries and provider failures.
	VerifyPayment(ctx context.Context, q VerifyQuery) (*model.PaymentVerification, error)
}

// PriceOracle returns USD spot prices.
type PriceOracle interface {
	// PriceUSD returns the USD price of one unit of currency (SOL, BTC, ETH, USDC).
	PriceUSD(ctx context.Context, currency string) (decimal.Decimal, error)
}

// RateLimiter counts requests per key and endpoint in fixed windows.
type RateLimiter interface {
	Check(ctx context.Context, key, endpoint string, isPaid bool) (model.RateLimitResult, error)
}

// PaymentNotifier is told about terminal verification outcomes.
type PaymentNotifier interface {
	PaymentVerified(ctx context.Context, ps *model.PaymentState, v *model.PaymentVerification) error
	PaymentFailed(ctx context.Context, ps *model.PaymentState, v *model.PaymentVerification) error
}
