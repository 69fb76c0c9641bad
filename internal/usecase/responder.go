package usecase

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"crypto-payment-gate/internal/domain"
	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/adapter"
	"crypto-payment-gate/internal/domain/ports/repository"
	"crypto-payment-gate/internal/infra/logging"
	"crypto-payment-gate/internal/infra/metrics"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Responder builds the multi-chain 402 envelope for a priced endpoint.
type Responder struct {
	adapters []adapter.ChainAdapter
	payments repository.PaymentStateRepository
	ttl      time.Duration
	label    string
	log      *zerolog.Logger

	now   func() time.Time
	newID func() string
}

func NewResponder(adapters []adapter.ChainAdapter, payments repository.PaymentStateRepository, ttl time.Duration, label string, logger *zerolog.Logger) *Responder {
	if ttl <= 0 {
		ttl = model.DefaultPaymentTTL
	}
	return &Responder{
		adapters: adapters,
		payments: payments,
		ttl:      ttl,
		label:    label,
		log:      logging.Component(logger, "responder"),
		now:      time.Now,
		newID:    func() string { return ulid.Make().String() },
	}
}

// GeneratePaymentRequired persists a fresh pending PaymentState carrying one option per
// configured chain and currency, then returns the envelope describing it. A chain that
// fails to quote or mint is skipped; ErrNoPaymentOptions is returned only when none succeed.
func (r *Responder) GeneratePaymentRequired(ctx context.Context, endpoint string, pricing model.EndpointPricing, meta model.RequestMetadata) (*model.Http402Response, error) {
	defer logging.TraceDuration(r.log, "Responder.GeneratePaymentRequired")()

	ps, err := model.NewPaymentState(r.newID(), endpoint, pricing.USD, r.now().UTC(), r.ttl)
	if err != nil {
		return nil, err
	}
	log := logging.With(logging.WithPaymentID(ctx, ps.ID), r.log)

	req := adapter.PaymentRequest{
		PaymentID: ps.ID,
		Label:     r.label,
		Message:   describe(pricing, endpoint),
		ExpiresAt: ps.ExpiresAt,
	}
	ps.Options = r.mintOptions(ctx, log, req, pricing.USD, "")
	if len(ps.Options) == 0 {
		return nil, fmt.Errorf("%w: endpoint %s", domain.ErrNoPaymentOptions, endpoint)
	}

	if err := r.payments.Create(ctx, repository.NoTX, ps); err != nil {
		return nil, fmt.Errorf("persist payment state: %w", err)
	}
	log.Info().Str("endpoint", endpoint).Str("usd", pricing.USD.String()).Int("options", len(ps.Options)).Msg("payment required")

	return &model.Http402Response{
		Status:            http.StatusPaymentRequired,
		Message:           fmt.Sprintf("Payment of %s USD required to access %s", pricing.USD.StringFixed(2), endpoint),
		PaymentOptions:    ps.Options,
		PaymentID:         ps.ID,
		ExpiresAt:         ps.ExpiresAt,
		RetryAfterPayment: RetryInstructionsFor(ps, meta),
	}, nil
}

// mintOptions asks every adapter (or only the one for chain, when set) for options.
func (r *Responder) mintOptions(ctx context.Context, log *zerolog.Logger, req adapter.PaymentRequest, usd decimal.Decimal, chain model.Chain) []model.PaymentOption {
	var out []model.PaymentOption
	for _, a := range r.adapters {
		if chain != "" && a.Chain() != chain {
			continue
		}
		for _, cur := range a.Currencies() {
			amount, err := a.ConvertUSDToNative(ctx, usd, cur)
			if err != nil {
				metrics.IncOptionSkipped(string(a.Chain()), cur)
				log.Warn().Err(err).Str("chain", string(a.Chain())).Str("currency", cur).Msg("skipping option: conversion failed")
				continue
			}
			opt, err := a.CreatePayment(ctx, req, amount, cur)
			if err != nil {
				metrics.IncOptionSkipped(string(a.Chain()), cur)
				log.Warn().Err(err).Str("chain", string(a.Chain())).Str("currency", cur).Msg("skipping option: create failed")
				continue
			}
			out = append(out, *opt)
		}
	}
	return out
}

// RetryInstructionsFor tells the client to replay meta's request with the payment headers.
// Settlement is only demanded when some option needs a transaction hash to verify.
func RetryInstructionsFor(ps *model.PaymentState, meta model.RequestMetadata) model.RetryInstructions {
	method := meta.Method
	if method == "" {
		method = http.MethodGet
	}
	chains := make([]string, 0, len(ps.Options))
	seen := map[model.Chain]bool{}
	needsSettlement := false
	for _, o := range ps.Options {
		if !seen[o.Chain] {
			seen[o.Chain] = true
			chains = append(chains, string(o.Chain))
		}
		if o.Chain == model.ChainBase {
			needsSettlement = true
		}
	}
	headers := map[string]string{
		model.HeaderPaymentID:    ps.ID,
		model.HeaderPaymentChain: "<" + strings.Join(chains, "|") + ">",
	}
	if needsSettlement {
		headers[model.HeaderPaymentSettlement] = "<transaction hash, required for " + string(model.ChainBase) + ">"
	}
	return model.RetryInstructions{Method: method, URL: meta.URL, Headers: headers}
}

func describe(p model.EndpointPricing, endpoint string) string {
	if p.Description != "" {
		return p.Description
	}
	return "Access to " + endpoint
}
