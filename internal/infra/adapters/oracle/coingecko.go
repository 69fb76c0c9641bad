package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crypto-payment-gate/internal/domain"
	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/adapter"
	"crypto-payment-gate/internal/infra/metrics"

	"github.com/shopspring/decimal"
)

// coin ids on the CoinGecko simple price API.
var coinIDs = map[string]string{
	model.CurrencySOL:  "solana",
	model.CurrencyBTC:  "bitcoin",
	model.CurrencyETH:  "ethereum",
	model.CurrencyUSDC: "usd-coin",
}

// CoinGecko queries /simple/price. Any CoinGecko compatible endpoint works.
type CoinGecko struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

var _ adapter.PriceOracle = (*CoinGecko)(nil)

func NewCoinGecko(baseURL, apiKey string, timeout time.Duration) *CoinGecko {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CoinGecko{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *CoinGecko) PriceUSD(ctx context.Context, currency string) (decimal.Decimal, error) {
	id, ok := coinIDs[strings.ToUpper(currency)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no price feed for %s", domain.ErrUnsupportedCurrency, currency)
	}

	q := url.Values{}
	q.Set("ids", id)
	q.Set("vs_currencies", "usd")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.IncOracleRequest("error")
		return decimal.Zero, fmt.Errorf("price request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		metrics.IncOracleRequest("error")
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Zero, fmt.Errorf("price request: http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var body map[string]map[string]json.Number
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		metrics.IncOracleRequest("error")
		return decimal.Zero, fmt.Errorf("price decode: %w", err)
	}
	raw, ok := body[id]["usd"]
	if !ok {
		metrics.IncOracleRequest("error")
		return decimal.Zero, fmt.Errorf("price response has no usd quote for %s", id)
	}
	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		metrics.IncOracleRequest("error")
		return decimal.Zero, fmt.Errorf("price decode %q: %w", raw, err)
	}
	metrics.IncOracleRequest("ok")
	return price, nil
}
