package chain

import (
	"context"
	"fmt"
	"math/big"

	"crypto-payment-gate/internal/domain"
	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/adapter"

	"github.com/shopspring/decimal"
)

// decimals of the smallest on-chain unit per currency.
var decimalsByCurrency = map[string]int32{
	model.CurrencySOL:  9,  // lamports
	model.CurrencyBTC:  8,  // sats
	model.CurrencyETH:  18, // wei
	model.CurrencyUSDC: 6,
}

// convertUSD divides usd by the oracle price and rounds up to the currency's smallest unit,
// so a payer never ends up sending less than the USD price. USDC is pegged 1:1.
func convertUSD(ctx context.Context, oracle adapter.PriceOracle, usd decimal.Decimal, currency string) (decimal.Decimal, error) {
	if !usd.IsPositive() {
		return decimal.Zero, domain.ErrInvalidArgument
	}
	places, ok := decimalsByCurrency[currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrUnsupportedCurrency, currency)
	}
	if currency == model.CurrencyUSDC {
		return usd.RoundUp(places), nil
	}
	if oracle == nil {
		return decimal.Zero, fmt.Errorf("%w: no price oracle for %s", domain.ErrProviderFailure, currency)
	}
	price, err := oracle.PriceUSD(ctx, currency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: price %s: %w", domain.ErrProviderFailure, currency, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive %s price %s", domain.ErrProviderFailure, currency, price)
	}
	return usd.DivRound(price, places+4).RoundUp(places), nil
}

// toBaseUnits returns amount expressed in the currency's smallest unit, rounded up.
func toBaseUnits(amount decimal.Decimal, currency string) *big.Int {
	return amount.Shift(decimalsByCurrency[currency]).Ceil().BigInt()
}

// fromBaseUnits is the inverse of toBaseUnits.
func fromBaseUnits(units *big.Int, currency string) decimal.Decimal {
	return decimal.NewFromBigInt(units, -decimalsByCurrency[currency])
}

func supports(currencies []string, currency string) bool {
	for _, c := range currencies {
		if c == currency {
			return true
		}
	}
	return false
}

// optionFor picks the option minted for currency, or the first one when currency is empty.
func optionFor(opts []model.PaymentOption, currency string) (model.PaymentOption, bool) {
	for _, o := range opts {
		if currency == "" || o.Currency == currency {
			return o, true
		}
	}
	return model.PaymentOption{}, false
}
