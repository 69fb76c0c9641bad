package model

import (
	"strings"

	"github.com/shopspring/decimal"
)

// EndpointPricing prices one endpoint pattern. A trailing "*" makes the pattern a wildcard.
type EndpointPricing struct {
	Pattern     string          `json:"pattern"`
	USD         decimal.Decimal `json:"usd"`
	Description string          `json:"description,omitempty"`
}

// IsWildcard reports whether the pattern contains a "*" segment.
func (e EndpointPricing) IsWildcard() bool { return strings.Contains(e.Pattern, "*") }

type BillingInterval string

const (
	IntervalMonthly  BillingInterval = "monthly"
	IntervalYearly   BillingInterval = "yearly"
	IntervalLifetime BillingInterval = "lifetime"
)

func (i BillingInterval) Valid() bool {
	switch i {
	case IntervalMonthly, IntervalYearly, IntervalLifetime:
		return true
	}
	return false
}

// IntervalPrice is the price of one tier for one billing interval.
// Native holds precomputed per-chain amounts that bypass the oracle.
type IntervalPrice struct {
	USD    decimal.Decimal           `json:"usd"`
	Native map[Chain]decimal.Decimal `json:"native,omitempty"`
}

// TierPricing describes a subscription tier.
type TierPricing struct {
	ID          string                            `json:"id"`
	Name        string                            `json:"name"`
	Description string                            `json:"description,omitempty"`
	Features    []string                          `json:"features,omitempty"`
	Prices      map[BillingInterval]IntervalPrice `json:"prices"`
}

// Price returns the price for interval, if the tier offers it.
func (t *TierPricing) Price(interval BillingInterval) (IntervalPrice, bool) {
	if t == nil || t.Prices == nil {
		return IntervalPrice{}, false
	}
	p, ok := t.Prices[interval]
	return p, ok
}
