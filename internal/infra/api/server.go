package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/usecase"
	"crypto-payment-gate/internal/infra/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Options configure the HTTP surface.
type Options struct {
	Port           int
	PublicURL      string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	// AwaitPayments makes X-Payment-Id retries and the verify, activate, upgrade and renew
	// calls poll the chain instead of checking it once.
	AwaitPayments bool
	// Endpoints is the published price list.
	Endpoints []model.EndpointPricing
	// Paid is mounted behind the paywall under /paid. Nil mounts an echo handler.
	Paid http.Handler
}

type Server struct {
	gate   usecase.PaymentGate
	subs   usecase.SubscriptionManager
	tokens *TokenIssuer
	opts   Options
	log    *zerolog.Logger
	srv    *http.Server
}

func NewServer(gate usecase.PaymentGate, subs usecase.SubscriptionManager, tokens *TokenIssuer, opts Options, logger *zerolog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 20 * time.Second
	}
	if opts.Paid == nil {
		opts.Paid = echoHandler()
	}
	s := &Server{
		gate:   gate,
		subs:   subs,
		tokens: tokens,
		opts:   opts,
		log:    logging.Component(logger, "http"),
	}
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      s.Routes(),
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return s
}

// Routes builds the router. Paid content lives under /paid; everything there passes the paywall.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(TraceID())
	r.Use(RequestLog(s.log))
	r.Use(Recover(s.log))
	r.Use(Timeout(s.opts.RequestTimeout))

	r.Get("/health", healthHandler())
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/pricing", pricingHandler(s.opts.Endpoints, s.subs))
		r.Get("/payments/{id}", paymentHandler(s.gate))
		r.Post("/payments/{id}/verify", verifyPaymentHandler(s.gate, s.tokens, s.opts.AwaitPayments))

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/payments", createSubscriptionPaymentHandler(s.subs))
			r.Post("/activate", activateSubscriptionHandler(s.gate, s.subs, s.opts.AwaitPayments))
			r.Get("/{subscriberId}", getSubscriptionHandler(s.subs))
			r.Post("/{id}/cancel", cancelSubscriptionHandler(s.subs))
			r.Post("/{id}/upgrade", upgradeSubscriptionHandler(s.gate, s.subs, s.opts.AwaitPayments))
			r.Post("/{id}/renew", renewSubscriptionHandler(s.gate, s.subs, s.opts.AwaitPayments))
		})
	})

	paywall := NewPaywall(s.gate, s.tokens, s.opts.PublicURL, s.opts.AwaitPayments, s.log)
	r.With(paywall.Handler).Handle("/paid/*", s.opts.Paid)
	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// echoHandler stands in for real paid content: it reports what was unlocked.
func echoHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"path":      r.URL.Path,
			"paymentId": w.Header().Get(model.HeaderPaymentID),
			"verified":  w.Header().Get(model.HeaderPaymentVerified) == "true",
		})
	}
}
