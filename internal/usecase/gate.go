package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"crypto-payment-gate/internal/domain"
	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/adapter"
	"crypto-payment-gate/internal/domain/ports/repository"
	ucport "crypto-payment-gate/internal/domain/ports/usecase"
	"crypto-payment-gate/internal/infra/logging"
	"crypto-payment-gate/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// PollFunc repeatedly verifies until settled, a definitive failure, or timeout.
type PollFunc func(ctx context.Context, a adapter.ChainAdapter, q adapter.VerifyQuery, timeout, interval time.Duration) (*model.PaymentVerification, error)

// Submitter runs fire-and-forget tasks off the request path.
type Submitter interface {
	Submit(task func(ctx context.Context) error) error
}

const (
	// stateWriteTimeout bounds the closing writes of a verification, which run detached
	// from the caller's context.
	stateWriteTimeout = 5 * time.Second
	// pollHeadroom is kept free of the caller's deadline to answer after polling.
	pollHeadroom = time.Second
)

type GateOptions struct {
	VerifyTimeout time.Duration
	PollInterval  time.Duration
	PollTimeout   time.Duration
	// LoserWait bounds how long a concurrent verifier waits for the winner.
	LoserWait time.Duration
}

type pricedPattern struct {
	pricing model.EndpointPricing
	re      *regexp.Regexp
	literal int // non-wildcard characters, used to rank matches
}

// PaymentGate decides whether an endpoint must be paid for and drives verification.
type PaymentGate struct {
	exact     map[string]model.EndpointPricing
	wildcards []pricedPattern

	responder *Responder
	adapters  map[model.Chain]adapter.ChainAdapter
	payments  repository.PaymentStateRepository
	limiter   adapter.RateLimiter
	notifier  adapter.PaymentNotifier
	submitter Submitter
	poll      PollFunc
	opts      GateOptions
	log       *zerolog.Logger

	now func() time.Time
}

var _ ucport.PaymentGate = (*PaymentGate)(nil)

// NewPaymentGate compiles the pricing table. limiter, notifier, submitter and poll may be nil.
func NewPaymentGate(
	pricing []model.EndpointPricing,
	responder *Responder,
	adapters []adapter.ChainAdapter,
	payments repository.PaymentStateRepository,
	limiter adapter.RateLimiter,
	notifier adapter.PaymentNotifier,
	submitter Submitter,
	poll PollFunc,
	opts GateOptions,
	logger *zerolog.Logger,
) (*PaymentGate, error) {
	if opts.VerifyTimeout <= 0 {
		opts.VerifyTimeout = 15 * time.Second
	}
	if opts.LoserWait <= 0 {
		opts.LoserWait = opts.VerifyTimeout
	}
	g := &PaymentGate{
		exact:     make(map[string]model.EndpointPricing),
		responder: responder,
		adapters:  make(map[model.Chain]adapter.ChainAdapter, len(adapters)),
		payments:  payments,
		limiter:   limiter,
		notifier:  notifier,
		submitter: submitter,
		poll:      poll,
		opts:      opts,
		log:       logging.Component(logger, "gate"),
		now:       time.Now,
	}
	for _, a := range adapters {
		g.adapters[a.Chain()] = a
	}
	for _, p := range pricing {
		if !p.IsWildcard() {
			g.exact[p.Pattern] = p
			continue
		}
		re, err := compilePattern(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: pricing pattern %q: %v", domain.ErrInvalidArgument, p.Pattern, err)
		}
		g.wildcards = append(g.wildcards, pricedPattern{pricing: p, re: re, literal: len(strings.ReplaceAll(p.Pattern, "*", ""))})
	}
	sort.SliceStable(g.wildcards, func(i, j int) bool { return g.wildcards[i].literal > g.wildcards[j].literal })
	return g, nil
}

// compilePattern turns "/api/*" into ^/api/.+$; "*" spans one or more path segments.
func compilePattern(p string) (*regexp.Regexp, error) {
	parts := strings.Split(p, "*")
	for i := range parts {
		parts[i] = regexp.QuoteMeta(parts[i])
	}
	return regexp.Compile("^" + strings.Join(parts, ".+") + "$")
}

// Pricing resolves endpoint: exact match first, then the most specific wildcard.
func (g *PaymentGate) Pricing(endpoint string) (model.EndpointPricing, bool) {
	if p, ok := g.exact[endpoint]; ok {
		return p, true
	}
	for _, w := range g.wildcards {
		if w.re.MatchString(endpoint) {
			return w.pricing, true
		}
	}
	return model.EndpointPricing{}, false
}

// RequiresPayment is true when endpoint resolves to a non-zero price.
func (g *PaymentGate) RequiresPayment(endpoint string) bool {
	p, ok := g.Pricing(endpoint)
	return ok && p.USD.IsPositive()
}

func (g *PaymentGate) GeneratePaymentRequired(ctx context.Context, endpoint string, meta model.RequestMetadata) (*model.Http402Response, error) {
	p, ok := g.Pricing(endpoint)
	if !ok || !p.USD.IsPositive() {
		return nil, fmt.Errorf("%w: %s", domain.ErrPricingNotFound, endpoint)
	}
	resp, err := g.responder.GeneratePaymentRequired(ctx, endpoint, p, meta)
	if err != nil {
		return nil, err
	}
	metrics.IncPaymentRequired(p.Pattern)
	return resp, nil
}

// CheckRateLimit always allows when no limiter is configured.
func (g *PaymentGate) CheckRateLimit(ctx context.Context, key, endpoint string, isPaid bool) (model.RateLimitResult, error) {
	if g.limiter == nil {
		return model.RateLimitResult{Allowed: true, Remaining: -1}, nil
	}
	return g.limiter.Check(ctx, key, endpoint, isPaid)
}

// Payment returns the stored state.
func (g *PaymentGate) Payment(ctx context.Context, id string) (*model.PaymentState, error) {
	ps, err := g.payments.FindByID(ctx, repository.NoTX, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrPaymentNotFound
	}
	return ps, err
}

// VerifyPayment checks chain once for settlement of paymentID. chain may be empty when the
// state's options cover a single chain. settlementID is the caller's proof of payment
// (a transaction hash on EVM chains).
//
// State outcomes (unknown, expired, failed, not yet paid) come back as an unverified
// PaymentVerification with a Reason and a nil error; use PaymentVerification.Err to
// map them. Errors are returned only for bad input and storage failures.
func (g *PaymentGate) VerifyPayment(ctx context.Context, paymentID string, chain model.Chain, settlementID string) (*model.PaymentVerification, error) {
	return g.verify(ctx, paymentID, chain, settlementID, false)
}

// AwaitPayment is VerifyPayment with polling: the chain is re-checked every PollInterval
// until it settles or PollTimeout passes.
func (g *PaymentGate) AwaitPayment(ctx context.Context, paymentID string, chain model.Chain, settlementID string) (*model.PaymentVerification, error) {
	return g.verify(ctx, paymentID, chain, settlementID, g.poll != nil && g.opts.PollTimeout > 0)
}

func (g *PaymentGate) verify(ctx context.Context, paymentID string, chain model.Chain, settlementID string, poll bool) (*model.PaymentVerification, error) {
	ctx = logging.WithPaymentID(ctx, paymentID)
	log := logging.With(ctx, g.log)

	ps, err := g.payments.FindByID(ctx, repository.NoTX, paymentID)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.IncVerification("", "rejected", model.ReasonNotFound)
		return model.FailedVerification(paymentID, "", model.ReasonNotFound, "not found"), nil
	}
	if err != nil {
		return nil, err
	}

	if v, done, err := g.settled(ctx, ps); done || err != nil {
		return v, err
	}

	if chain == "" {
		chain = ps.Chain
	}
	if chain == "" {
		if chain, err = singleChain(ps); err != nil {
			return nil, err
		}
	}
	a, ok := g.adapters[chain]
	opts := ps.OptionsFor(chain)
	if !ok || len(opts) == 0 {
		metrics.IncVerification(string(chain), "rejected", model.ReasonUnconfiguredChain)
		return model.FailedVerification(paymentID, chain, model.ReasonUnconfiguredChain,
			fmt.Sprintf("chain %s is not available for this payment", chain)), nil
	}

	won, err := g.payments.UpdateStatus(ctx, repository.NoTX, paymentID,
		[]model.PaymentStatus{model.PaymentStatusPending}, model.PaymentStatusVerifying, chain, nil)
	if err != nil {
		return nil, err
	}
	if !won {
		return g.awaitWinner(ctx, paymentID)
	}

	q := adapter.VerifyQuery{PaymentID: paymentID, Options: opts, SettlementID: settlementID, CreatedAt: ps.CreatedAt}
	start := time.Now()
	v := g.callAdapter(ctx, a, q, poll)
	metrics.ObserveVerify(string(chain), v.Verified, time.Since(start))

	// From here on the outcome is written even if the caller went away.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stateWriteTimeout)
	defer cancel()

	if ctx.Err() != nil && !v.Verified {
		// No answer from the chain: hand the state back so a retry can verify it.
		if _, err := g.payments.UpdateStatus(wctx, repository.NoTX, paymentID,
			[]model.PaymentStatus{model.PaymentStatusVerifying}, model.PaymentStatusPending, "", nil); err != nil {
			log.Error().Err(err).Msg("release verifying state")
		}
		metrics.IncVerification(string(chain), "released", v.Reason)
		return nil, ctx.Err()
	}

	if v.Verified {
		if other, err := g.payments.FindConfirmedBySettlement(wctx, repository.NoTX, chain, v.TxID); err == nil && other.ID != paymentID {
			log.Warn().Str("tx", v.TxID).Str("claimed_by", other.ID).Msg("settlement already claimed")
			v = model.FailedVerification(paymentID, chain, model.ReasonSettlementReused, "settlement already used by another payment")
		}
	}

	// Expiry wins over a late settlement.
	if g.now().After(ps.ExpiresAt) {
		v = model.FailedVerification(paymentID, chain, model.ReasonExpired, "expired")
		if _, err := g.payments.UpdateStatus(wctx, repository.NoTX, paymentID,
			[]model.PaymentStatus{model.PaymentStatusVerifying}, model.PaymentStatusExpired, "", v); err != nil {
			return nil, err
		}
		metrics.IncVerification(string(chain), "expired", v.Reason)
		return v, nil
	}

	to := model.PaymentStatusFailed
	if v.Verified {
		to = model.PaymentStatusConfirmed
	}
	won, err = g.payments.UpdateStatus(wctx, repository.NoTX, paymentID,
		[]model.PaymentStatus{model.PaymentStatusVerifying}, to, chain, v)
	if errors.Is(err, domain.ErrAlreadyExists) {
		v = model.FailedVerification(paymentID, chain, model.ReasonSettlementReused, "settlement already used by another payment")
		to = model.PaymentStatusFailed
		won, err = g.payments.UpdateStatus(wctx, repository.NoTX, paymentID,
			[]model.PaymentStatus{model.PaymentStatusVerifying}, to, chain, v)
	}
	if err != nil {
		return nil, err
	}
	if !won {
		// the expiry sweep got there first
		return g.reload(wctx, paymentID)
	}

	result := "failed"
	if v.Verified {
		result = "confirmed"
	}
	metrics.IncVerification(string(chain), result, v.Reason)
	log.Info().Str("chain", string(chain)).Str("result", result).Str("reason", v.Reason).Str("tx", v.TxID).Msg("payment verified")

	ps.Status, ps.Chain, ps.Verification = to, chain, v
	g.emit(ps, v)
	return v, nil
}

// settled handles states that must not reach the chain again.
func (g *PaymentGate) settled(ctx context.Context, ps *model.PaymentState) (*model.PaymentVerification, bool, error) {
	if ps.IsExpiredAt(g.now()) {
		v := model.FailedVerification(ps.ID, ps.Chain, model.ReasonExpired, "expired")
		if ps.Status == model.PaymentStatusPending || ps.Status == model.PaymentStatusVerifying {
			if _, err := g.payments.UpdateStatus(ctx, repository.NoTX, ps.ID,
				[]model.PaymentStatus{model.PaymentStatusPending, model.PaymentStatusVerifying}, model.PaymentStatusExpired, "", nil); err != nil {
				return nil, true, err
			}
		}
		metrics.IncVerification(string(ps.Chain), "expired", model.ReasonExpired)
		return v, true, nil
	}
	switch ps.Status {
	case model.PaymentStatusConfirmed:
		if ps.Verification != nil {
			cp := *ps.Verification
			return &cp, true, nil
		}
		return &model.PaymentVerification{Verified: true, PaymentID: ps.ID, Chain: ps.Chain, Timestamp: ps.UpdatedAt}, true, nil
	case model.PaymentStatusFailed:
		if ps.Verification != nil {
			cp := *ps.Verification
			return &cp, true, nil
		}
		return model.FailedVerification(ps.ID, ps.Chain, model.ReasonAlreadyFailed, "payment already failed"), true, nil
	}
	return nil, false, nil
}

func (g *PaymentGate) callAdapter(ctx context.Context, a adapter.ChainAdapter, q adapter.VerifyQuery, poll bool) *model.PaymentVerification {
	var (
		v   *model.PaymentVerification
		err error
	)
	if budget := g.pollBudget(ctx); poll && budget > 0 {
		pctx, cancel := context.WithTimeout(ctx, budget+g.opts.VerifyTimeout)
		v, err = g.poll(pctx, a, q, budget, g.opts.PollInterval)
		cancel()
	} else {
		vctx, cancel := context.WithTimeout(ctx, g.opts.VerifyTimeout)
		v, err = a.VerifyPayment(vctx, q)
		cancel()
	}
	if err != nil {
		logging.With(ctx, g.log).Warn().Err(err).Str("chain", string(a.Chain())).Msg("verification provider failed")
		reason := model.ReasonProviderError
		if errors.Is(err, context.DeadlineExceeded) {
			reason = model.ReasonTimeout
		}
		return model.FailedVerification(q.PaymentID, a.Chain(), reason, err.Error())
	}
	if v == nil {
		return model.FailedVerification(q.PaymentID, a.Chain(), model.ReasonProviderError, "empty verification result")
	}
	v.PaymentID = q.PaymentID
	v.Chain = a.Chain()
	return v
}

// pollBudget is PollTimeout cut to what is left of the caller's deadline. Zero means
// there is no room for more than one query.
func (g *PaymentGate) pollBudget(ctx context.Context) time.Duration {
	budget := g.opts.PollTimeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl) - pollHeadroom; left < budget {
			budget = left
		}
	}
	if budget < g.opts.PollInterval {
		return 0
	}
	return budget
}

// awaitWinner waits for the concurrent verifier that won the pending->verifying race.
func (g *PaymentGate) awaitWinner(ctx context.Context, paymentID string) (*model.PaymentVerification, error) {
	wctx, cancel := context.WithTimeout(ctx, g.opts.LoserWait)
	defer cancel()
	t := time.NewTicker(50 * time.Millisecond)
	defer t.Stop()
	for {
		ps, err := g.payments.FindByID(wctx, repository.NoTX, paymentID)
		if err != nil {
			return nil, err
		}
		if ps.Status != model.PaymentStatusVerifying && ps.Status != model.PaymentStatusPending {
			v, _, err := g.settled(wctx, ps)
			if v == nil && err == nil {
				v = model.FailedVerification(paymentID, ps.Chain, model.ReasonExpired, "expired")
			}
			return v, err
		}
		select {
		case <-wctx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return model.FailedVerification(paymentID, ps.Chain, model.ReasonTimeout, "timeout"), nil
		case <-t.C:
		}
	}
}

func (g *PaymentGate) reload(ctx context.Context, paymentID string) (*model.PaymentVerification, error) {
	ps, err := g.payments.FindByID(ctx, repository.NoTX, paymentID)
	if err != nil {
		return nil, err
	}
	if ps.Status == model.PaymentStatusExpired {
		return model.FailedVerification(paymentID, ps.Chain, model.ReasonExpired, "expired"), nil
	}
	v, _, err := g.settled(ctx, ps)
	return v, err
}

// emit hands the outcome to the notifier without blocking the caller.
// Notifier failures are logged and never change the verification result.
func (g *PaymentGate) emit(ps *model.PaymentState, v *model.PaymentVerification) {
	if g.notifier == nil {
		return
	}
	psCopy, vCopy := *ps, *v
	task := func(ctx context.Context) error {
		if vCopy.Verified {
			return g.notifier.PaymentVerified(ctx, &psCopy, &vCopy)
		}
		return g.notifier.PaymentFailed(ctx, &psCopy, &vCopy)
	}
	if g.submitter != nil {
		if err := g.submitter.Submit(task); err != nil {
			g.log.Warn().Err(err).Str("payment_id", ps.ID).Msg("notification dropped")
		}
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := task(ctx); err != nil {
			g.log.Warn().Err(err).Str("payment_id", ps.ID).Msg("notification failed")
		}
	}()
}

// ExpireStale moves every open state whose window closed to expired.
func (g *PaymentGate) ExpireStale(ctx context.Context) (int64, error) {
	n, err := g.payments.ExpireBefore(ctx, repository.NoTX, g.now())
	if err != nil {
		return 0, err
	}
	metrics.AddPaymentsExpired(n)
	return n, nil
}

// Reconcile looks for settlements of pending states older than staleAfter whose payer never
// came back. Only a settled chain triggers the regular verification; unpaid states stay pending.
// Chains that need a caller supplied settlement are skipped by their adapter.
//
// Verifying states held longer than any verifier can run are first handed back to pending,
// which covers a process that died mid verification.
func (g *PaymentGate) Reconcile(ctx context.Context, staleAfter time.Duration, limit int) (int, error) {
	held := g.opts.VerifyTimeout + g.opts.PollTimeout + g.opts.LoserWait + stateWriteTimeout
	released, err := g.payments.ReleaseVerifying(ctx, repository.NoTX, g.now().Add(-held))
	if err != nil {
		return 0, err
	}
	if released > 0 {
		g.log.Warn().Int64("count", released).Msg("released stale verifying payments")
	}

	pending, err := g.payments.ListPendingOlderThan(ctx, repository.NoTX, g.now().Add(-staleAfter), limit)
	if err != nil {
		return 0, err
	}
	confirmed := 0
	for _, ps := range pending {
		if ps.IsExpiredAt(g.now()) {
			continue
		}
		for _, chain := range offeredChains(ps) {
			a, ok := g.adapters[chain]
			if !ok {
				continue
			}
			vctx, cancel := context.WithTimeout(ctx, g.opts.VerifyTimeout)
			peek, err := a.VerifyPayment(vctx, adapter.VerifyQuery{PaymentID: ps.ID, Options: ps.OptionsFor(chain), CreatedAt: ps.CreatedAt})
			cancel()
			if err != nil || peek == nil || !peek.Verified {
				continue
			}
			v, err := g.VerifyPayment(ctx, ps.ID, chain, "")
			if err != nil {
				g.log.Warn().Err(err).Str("payment_id", ps.ID).Msg("reconcile verification failed")
				break
			}
			if v.Verified {
				confirmed++
			}
			break
		}
	}
	return confirmed, nil
}

func offeredChains(ps *model.PaymentState) []model.Chain {
	var out []model.Chain
	seen := map[model.Chain]bool{}
	for _, o := range ps.Options {
		if !seen[o.Chain] {
			seen[o.Chain] = true
			out = append(out, o.Chain)
		}
	}
	return out
}

func singleChain(ps *model.PaymentState) (model.Chain, error) {
	var chain model.Chain
	for _, o := range ps.Options {
		if chain != "" && o.Chain != chain {
			return "", fmt.Errorf("%w: chain is required, payment %s offers several", domain.ErrInvalidArgument, ps.ID)
		}
		chain = o.Chain
	}
	if chain == "" {
		return "", fmt.Errorf("%w: payment %s has no options", domain.ErrInvalidArgument, ps.ID)
	}
	return chain, nil
}
