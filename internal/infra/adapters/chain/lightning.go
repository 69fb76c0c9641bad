package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"crypto-payment-gate/internal/domain"
	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const lndStateSettled = "SETTLED"

// LightningAdapter issues BOLT11 invoices on the merchant's own LND node through its REST API.
// The invoice payment hash is the reference; settlement must match the invoiced sats exactly.
type LightningAdapter struct {
	baseURL  string
	macaroon string
	expiry   time.Duration
	oracle   adapter.PriceOracle
	client   *http.Client
	log      *zerolog.Logger
}

var _ adapter.ChainAdapter = (*LightningAdapter)(nil)

func NewLightningAdapter(baseURL, macaroonHex string, expiry time.Duration, oracle adapter.PriceOracle, logger *zerolog.Logger) (*LightningAdapter, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: lnd url is empty", domain.ErrInvalidArgument)
	}
	if expiry <= 0 {
		expiry = model.DefaultPaymentTTL
	}
	l := logger.With().Str("chain", string(model.ChainLightning)).Logger()
	return &LightningAdapter{
		baseURL:  strings.TrimRight(baseURL, "/"),
		macaroon: macaroonHex,
		expiry:   expiry,
		oracle:   oracle,
		client:   &http.Client{Timeout: 15 * time.Second},
		log:      &l,
	}, nil
}

func (l *LightningAdapter) Chain() model.Chain { return model.ChainLightning }
func (l *LightningAdapter) Currencies() []string {
	return []string{model.CurrencyBTC}
}

func (l *LightningAdapter) ConvertUSDToNative(ctx context.Context, usd decimal.Decimal, currency string) (decimal.Decimal, error) {
	if !supports(l.Currencies(), currency) {
		return decimal.Zero, fmt.Errorf("%w: lightning/%s", domain.ErrUnsupportedCurrency, currency)
	}
	return convertUSD(ctx, l.oracle, usd, currency)
}

type lndAddInvoiceReq struct {
	Value  string `json:"value"`
	Memo   string `json:"memo,omitempty"`
	Expiry string `json:"expiry"`
}

type lndAddInvoiceResp struct {
	RHash          string `json:"r_hash"` // base64
	PaymentRequest string `json:"payment_request"`
}

type lndInvoice struct {
	Memo           string `json:"memo"`
	RHash          string `json:"r_hash"`
	Value          lndInt `json:"value"`
	State          string `json:"state"`
	Settled        bool   `json:"settled"`
	AmtPaidSat     lndInt `json:"amt_paid_sat"`
	SettleDate     lndInt `json:"settle_date"`
	PaymentRequest string `json:"payment_request"`
}

// lndInt accepts int64 values encoded either as JSON numbers or as strings.
type lndInt int64

func (n *lndInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*n = lndInt(v)
	return nil
}

func (l *LightningAdapter) CreatePayment(ctx context.Context, req adapter.PaymentRequest, amount decimal.Decimal, currency string) (*model.PaymentOption, error) {
	if !supports(l.Currencies(), currency) {
		return nil, fmt.Errorf("%w: lightning/%s", domain.ErrUnsupportedCurrency, currency)
	}
	sats := toBaseUnits(amount, model.CurrencyBTC)
	if sats.Sign() <= 0 {
		return nil, domain.ErrInvalidArgument
	}

	memo := req.PaymentID
	if req.Message != "" {
		memo = req.Message + " (" + req.PaymentID + ")"
	}
	body := lndAddInvoiceReq{
		Value:  sats.String(),
		Memo:   memo,
		Expiry: strconv.FormatInt(int64(l.expiry/time.Second), 10),
	}
	var out lndAddInvoiceResp
	if err := l.do(ctx, http.MethodPost, "/v1/invoices", body, &out); err != nil {
		return nil, err
	}
	hash, err := base64.StdEncoding.DecodeString(out.RHash)
	if err != nil || len(hash) != 32 {
		return nil, fmt.Errorf("%w: lnd returned malformed r_hash", domain.ErrProviderFailure)
	}
	if out.PaymentRequest == "" {
		return nil, fmt.Errorf("%w: lnd returned empty payment_request", domain.ErrProviderFailure)
	}

	return &model.PaymentOption{
		Chain:      model.ChainLightning,
		Amount:     fromBaseUnits(sats, model.CurrencyBTC),
		Currency:   model.CurrencyBTC,
		PaymentURI: "lightning:" + out.PaymentRequest,
		Recipient:  out.PaymentRequest,
		Reference:  hex.EncodeToString(hash),
		ExpiresAt:  req.ExpiresAt,
		Label:      req.Label,
	}, nil
}

// VerifyPayment looks the invoice up by payment hash. Only a SETTLED invoice whose paid
// amount equals the invoiced sats is accepted.
func (l *LightningAdapter) VerifyPayment(ctx context.Context, q adapter.VerifyQuery) (*model.PaymentVerification, error) {
	opt, ok := optionFor(q.Options, model.CurrencyBTC)
	if !ok {
		return nil, fmt.Errorf("%w: no lightning option for payment %s", domain.ErrInvalidArgument, q.PaymentID)
	}
	if _, err := hex.DecodeString(opt.Reference); err != nil || len(opt.Reference) != 64 {
		return nil, fmt.Errorf("%w: payment hash %q", domain.ErrInvalidArgument, opt.Reference)
	}

	var inv lndInvoice
	if err := l.do(ctx, http.MethodGet, "/v1/invoice/"+opt.Reference, nil, &inv); err != nil {
		return nil, err
	}

	expected := toBaseUnits(opt.Amount, model.CurrencyBTC).Int64()
	if inv.State != lndStateSettled && !inv.Settled {
		v := model.FailedVerification(q.PaymentID, model.ChainLightning, model.ReasonNotSettled, "invoice state "+strings.ToLower(inv.State))
		v.TxID = opt.Reference
		return v, nil
	}
	if int64(inv.AmtPaidSat) != expected {
		v := model.FailedVerification(q.PaymentID, model.ChainLightning, model.ReasonAmountMismatch,
			fmt.Sprintf("paid %d sats, expected %d", inv.AmtPaidSat, expected))
		v.TxID = opt.Reference
		return v, nil
	}

	ts := time.Now().UTC()
	if inv.SettleDate > 0 {
		ts = time.Unix(int64(inv.SettleDate), 0).UTC()
	}
	l.log.Debug().Str("r_hash", opt.Reference).Int64("sats", expected).Msg("lightning invoice settled")
	return &model.PaymentVerification{
		Verified:  true,
		PaymentID: q.PaymentID,
		Chain:     model.ChainLightning,
		Amount:    fromBaseUnits(big.NewInt(int64(inv.AmtPaidSat)), model.CurrencyBTC),
		Currency:  model.CurrencyBTC,
		TxID:      opt.Reference,
		Recipient: opt.Recipient,
		Timestamp: ts,
	}, nil
}

func (l *LightningAdapter) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, l.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if l.macaroon != "" {
		req.Header.Set("Grpc-Metadata-macaroon", l.macaroon)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: lnd %s %s: %w", domain.ErrProviderFailure, method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: lnd read body: %w", domain.ErrProviderFailure, err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: lnd %s %s: http %d: %s", domain.ErrProviderFailure, method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: lnd decode: %w", domain.ErrProviderFailure, err)
	}
	return nil
}
