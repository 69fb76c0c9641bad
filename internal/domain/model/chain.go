package model

import "strings"

// Chain identifies a settlement network.
type Chain string

const (
	ChainSolana    Chain = "solana"    // ledger-account network, Solana Pay references
	ChainLightning Chain = "lightning" // payment-channel network, BOLT11 invoices
	ChainBase      Chain = "base"      // EVM rollup, native ETH or USDC
)

// Currencies settled on each chain.
const (
	CurrencySOL  = "SOL"
	CurrencyBTC  = "BTC"
	CurrencyETH  = "ETH"
	CurrencyUSDC = "USDC"
)

// ParseChain maps a user supplied chain name onto a known Chain.
func ParseChain(s string) (Chain, bool) {
	switch Chain(strings.ToLower(strings.TrimSpace(s))) {
	case ChainSolana:
		return ChainSolana, true
	case ChainLightning:
		return ChainLightning, true
	case ChainBase:
		return ChainBase, true
	}
	return "", false
}

func (c Chain) String() string { return string(c) }
