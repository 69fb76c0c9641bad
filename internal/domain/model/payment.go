package model

import (
	"time"

	"crypto-payment-gate/internal/domain"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"   // options issued; awaiting settlement
	PaymentStatusVerifying PaymentStatus = "verifying" // one caller is querying the chain
	PaymentStatusConfirmed PaymentStatus = "confirmed" // settlement observed on chain
	PaymentStatusFailed    PaymentStatus = "failed"    // chain reported a mismatch or provider failed
	PaymentStatusExpired   PaymentStatus = "expired"   // window closed before settlement
)

// DefaultPaymentTTL is how long a PaymentState accepts settlement.
const DefaultPaymentTTL = 15 * time.Minute

// IsTerminal reports whether no further transitions are allowed.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusConfirmed, PaymentStatusFailed, PaymentStatusExpired:
		return true
	}
	return false
}

// CanTransition encodes the PaymentState lifecycle.
// Expiry wins over any non-terminal status. A verifier that gave up without an answer
// from the chain hands the state back to pending.
func CanTransition(from, to PaymentStatus) bool {
	switch from {
	case PaymentStatusPending:
		return to == PaymentStatusVerifying || to == PaymentStatusExpired
	case PaymentStatusVerifying:
		return to == PaymentStatusConfirmed || to == PaymentStatusFailed || to == PaymentStatusExpired || to == PaymentStatusPending
	}
	return false
}

// Verification failure reasons. Bounded so they can be used as metric labels.
const (
	ReasonNotFound          = "not_found"
	ReasonExpired           = "expired"
	ReasonTimeout           = "timeout"
	ReasonAmountMismatch    = "amount_mismatch"
	ReasonRecipientMismatch = "recipient_mismatch"
	ReasonTxFailed          = "tx_failed"
	ReasonProviderError     = "provider_error"
	ReasonUnconfiguredChain = "unconfigured_chain"
	ReasonAlreadyFailed     = "already_failed"
	ReasonSettlementReused  = "settlement_reused"
	ReasonSettlementMissing = "settlement_required"
	ReasonNotSettled        = "not_settled"
)

// PaymentOption is one concrete way to pay a PaymentState on one chain.
type PaymentOption struct {
	Chain      Chain           `json:"chain"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	PaymentURI string          `json:"paymentUri"`
	Recipient  string          `json:"recipient"`
	Reference  string          `json:"reference"`
	ExpiresAt  time.Time       `json:"expiresAt"`
	Label      string          `json:"label,omitempty"`
}

// PaymentVerification is the outcome of checking a chain for settlement.
type PaymentVerification struct {
	Verified  bool            `json:"verified"`
	PaymentID string          `json:"paymentId"`
	Chain     Chain           `json:"chain"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	TxID      string          `json:"txId,omitempty"`
	Payer     string          `json:"payer,omitempty"`
	Recipient string          `json:"recipient,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Error     string          `json:"error,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// FailedVerification builds an unverified result with a bounded reason and a readable message.
func FailedVerification(paymentID string, chain Chain, reason, msg string) *PaymentVerification {
	return &PaymentVerification{
		PaymentID: paymentID,
		Chain:     chain,
		Timestamp: time.Now().UTC(),
		Reason:    reason,
		Error:     msg,
	}
}

// Err maps an unverified outcome onto the domain error a caller should surface.
// A verified outcome returns nil.
func (v *PaymentVerification) Err() error {
	if v == nil {
		return domain.ErrPaymentNotVerified
	}
	if v.Verified {
		return nil
	}
	switch v.Reason {
	case ReasonNotFound:
		// no chain means the payment state itself is unknown
		if v.Chain == "" {
			return domain.ErrPaymentNotFound
		}
	case ReasonExpired:
		return domain.ErrPaymentExpired
	case ReasonAlreadyFailed:
		return domain.ErrPaymentAlreadyFailed
	case ReasonProviderError:
		return domain.ErrProviderFailure
	case ReasonUnconfiguredChain:
		return domain.ErrChainNotConfigured
	case ReasonTimeout:
		return domain.ErrVerificationTimeout
	}
	return domain.ErrPaymentNotVerified
}

// PaymentState tracks one outstanding payment request across chains.
type PaymentState struct {
	ID           string               `json:"id"` // ULID
	Status       PaymentStatus        `json:"status"`
	Endpoint     string               `json:"endpoint"`
	AmountUSD    decimal.Decimal      `json:"amountUsd"`
	Chain        Chain                `json:"chain,omitempty"` // set once a chain was chosen for verification
	Reference    string               `json:"reference,omitempty"`
	Options      []PaymentOption      `json:"options"`
	CreatedAt    time.Time            `json:"createdAt"`
	ExpiresAt    time.Time            `json:"expiresAt"`
	UpdatedAt    time.Time            `json:"updatedAt"`
	Verification *PaymentVerification `json:"verification,omitempty"`
	// ConsumedBy is the subscription a confirmed subscription payment was spent on.
	ConsumedBy string `json:"consumedBy,omitempty"`
}

// NewPaymentState creates a pending state valid for ttl from now.
func NewPaymentState(id, endpoint string, amountUSD decimal.Decimal, now time.Time, ttl time.Duration) (*PaymentState, error) {
	if id == "" || endpoint == "" || !amountUSD.IsPositive() {
		return nil, domain.ErrInvalidArgument
	}
	if ttl <= 0 {
		ttl = DefaultPaymentTTL
	}
	return &PaymentState{
		ID:        id,
		Status:    PaymentStatusPending,
		Endpoint:  endpoint,
		AmountUSD: amountUSD,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		UpdatedAt: now,
	}, nil
}

// IsExpiredAt reports whether the settlement window has closed.
func (p *PaymentState) IsExpiredAt(now time.Time) bool {
	return p.Status == PaymentStatusExpired || !now.Before(p.ExpiresAt)
}

// Option returns the option minted for chain. An empty currency matches the first one.
func (p *PaymentState) Option(chain Chain, currency string) (PaymentOption, bool) {
	for _, o := range p.Options {
		if o.Chain == chain && (currency == "" || o.Currency == currency) {
			return o, true
		}
	}
	return PaymentOption{}, false
}

// OptionsFor returns every option minted for chain.
func (p *PaymentState) OptionsFor(chain Chain) []PaymentOption {
	var out []PaymentOption
	for _, o := range p.Options {
		if o.Chain == chain {
			out = append(out, o)
		}
	}
	return out
}
