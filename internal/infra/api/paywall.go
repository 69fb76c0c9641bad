package api

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"crypto-payment-gate/internal/domain"
	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/usecase"
	"crypto-payment-gate/internal/infra/logging"

	"github.com/rs/zerolog"
)

// Paywall gates chi routes behind the 402 flow.
//
// A request passes when it carries a valid access token for the route's pricing pattern,
// when its X-Payment-Id verifies, or while the caller is within the free quota.
// Otherwise a fresh multi-chain 402 envelope is returned.
type Paywall struct {
	gate      usecase.PaymentGate
	tokens    *TokenIssuer
	publicURL string
	await     bool
	log       *zerolog.Logger
}

// NewPaywall builds the middleware. With await set, X-Payment-Id retries poll the chain
// instead of checking it once.
func NewPaywall(gate usecase.PaymentGate, tokens *TokenIssuer, publicURL string, await bool, logger *zerolog.Logger) *Paywall {
	return &Paywall{gate: gate, tokens: tokens, publicURL: publicURL, await: await, log: logging.Component(logger, "paywall")}
}

func (p *Paywall) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		endpoint := r.URL.Path
		client := clientKey(r)
		ctx = logging.WithClientKey(ctx, client)
		r = r.WithContext(ctx)

		pricing, priced := p.gate.Pricing(endpoint)
		if !priced || !p.gate.RequiresPayment(endpoint) {
			res, err := p.gate.CheckRateLimit(ctx, client, endpoint, false)
			if err != nil {
				writeError(w, err)
				return
			}
			setRateHeaders(w, res)
			if !res.Allowed {
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: domain.ErrRateLimited.Error()})
				return
			}
			next.ServeHTTP(w, r)
			return
		}

		if claims, err := p.tokens.ParseFromRequest(r, pricing.Pattern); err == nil {
			res, err := p.gate.CheckRateLimit(ctx, client, endpoint, true)
			if err != nil {
				writeError(w, err)
				return
			}
			setRateHeaders(w, res)
			if res.Allowed {
				w.Header().Set(model.HeaderPaymentVerified, "true")
				w.Header().Set(model.HeaderPaymentID, claims.Subject)
				next.ServeHTTP(w, r)
				return
			}
			p.paymentRequired(w, r, endpoint)
			return
		}

		if id := r.Header.Get(model.HeaderPaymentID); id != "" {
			p.verifyAndServe(w, r, next, pricing, id)
			return
		}

		res, err := p.gate.CheckRateLimit(ctx, client, endpoint, false)
		if err != nil {
			writeError(w, err)
			return
		}
		setRateHeaders(w, res)
		if res.Allowed {
			next.ServeHTTP(w, r)
			return
		}
		p.paymentRequired(w, r, endpoint)
	})
}

func (p *Paywall) verifyAndServe(w http.ResponseWriter, r *http.Request, next http.Handler, pricing model.EndpointPricing, id string) {
	ctx := logging.WithPaymentID(r.Context(), id)
	log := logging.With(ctx, p.log)

	chain := model.Chain("")
	if raw := r.Header.Get(model.HeaderPaymentChain); raw != "" {
		c, ok := model.ParseChain(raw)
		if !ok {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown chain " + raw})
			return
		}
		chain = c
	}

	// A payment only unlocks routes priced by the pattern it was issued for.
	ps, err := p.gate.Payment(ctx, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if issued, ok := p.gate.Pricing(ps.Endpoint); !ok || issued.Pattern != pricing.Pattern {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "payment was issued for another resource"})
		return
	}

	verify := p.gate.VerifyPayment
	if p.await {
		verify = p.gate.AwaitPayment
	}
	v, err := verify(ctx, id, chain, r.Header.Get(model.HeaderPaymentSettlement))
	if err != nil {
		writeError(w, err)
		return
	}
	if !v.Verified {
		log.Info().Str("reason", v.Reason).Msg("payment not verified")
		writeJSON(w, statusFor(v.Err()), errorBody{Error: v.Err().Error(), Reason: v.Reason})
		return
	}

	tok, err := p.tokens.Mint(pricing.Pattern, id)
	if err != nil {
		log.Error().Err(err).Msg("mint access token")
		writeError(w, err)
		return
	}
	w.Header().Set(model.HeaderPaymentVerified, "true")
	w.Header().Set(model.HeaderPaymentID, id)
	w.Header().Set(model.HeaderAccessToken, tok)
	next.ServeHTTP(w, r.WithContext(ctx))
}

func (p *Paywall) paymentRequired(w http.ResponseWriter, r *http.Request, endpoint string) {
	meta := model.RequestMetadata{
		Method:    r.Method,
		URL:       p.publicURL + r.URL.RequestURI(),
		ClientKey: clientKey(r),
	}
	resp, err := p.gate.GeneratePaymentRequired(r.Context(), endpoint, meta)
	if err != nil {
		logging.With(r.Context(), p.log).Error().Err(err).Str("endpoint", endpoint).Msg("generate payment required")
		writeError(w, err)
		return
	}
	w.Header().Set(model.HeaderPaymentID, resp.PaymentID)
	writeJSON(w, http.StatusPaymentRequired, resp)
}

func setRateHeaders(w http.ResponseWriter, res model.RateLimitResult) {
	if res.Remaining >= 0 {
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	}
	if !res.ResetAt.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
		if !res.Allowed {
			secs := int(time.Until(res.ResetAt).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
	}
}

// clientKey is the caller's IP; chi's RealIP middleware has already applied proxy headers.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
