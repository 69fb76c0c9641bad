package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		paymentRequiredTotal,
		paymentOptionsSkipped,
		verificationsTotal,
		verifyDuration,
		paymentsExpiredTotal,
		rateLimitDecisions,
	)
}

var (
	// 402 envelopes issued, by matched pricing pattern.
	paymentRequiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_required_total",
			Help: "Payment required responses generated, by endpoint pattern.",
		},
		[]string{"pattern"},
	)

	// Chains skipped while building options because conversion or creation failed.
	paymentOptionsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_options_skipped_total",
			Help: "Payment options that could not be minted, by chain and currency.",
		},
		[]string{"chain", "currency"},
	)

	// result: confirmed|failed|expired|pending|cached
	// reason: bounded model.Reason* codes, empty on success
	verificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_verifications_total",
			Help: "Payment verifications by chain, result and reason.",
		},
		[]string{"chain", "result", "reason"},
	)

	verifyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_verify_duration_seconds",
			Help:    "Duration of one chain verification call in seconds.",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"chain", "verified"},
	)

	paymentsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "payments_expired_total",
			Help: "Payment states moved to expired by the sweeper.",
		},
	)

	// decision: allowed|denied ; tier: free|paid
	rateLimitDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Rate limit decisions by tier and outcome.",
		},
		[]string{"tier", "decision"},
	)
)

func IncPaymentRequired(pattern string) {
	paymentRequiredTotal.WithLabelValues(pattern).Inc()
}

func IncOptionSkipped(chain, currency string) {
	paymentOptionsSkipped.WithLabelValues(norm(chain), norm(currency)).Inc()
}

func IncVerification(chain, result, reason string) {
	if reason == "" {
		reason = "none"
	}
	verificationsTotal.WithLabelValues(norm(chain), norm(result), norm(reason)).Inc()
}

func ObserveVerify(chain string, verified bool, d time.Duration) {
	verifyDuration.WithLabelValues(norm(chain), strconv.FormatBool(verified)).Observe(d.Seconds())
}

func AddPaymentsExpired(n int64) {
	paymentsExpiredTotal.Add(float64(n))
}

func IncRateLimit(paid, allowed bool) {
	tier, decision := "free", "denied"
	if paid {
		tier = "paid"
	}
	if allowed {
		decision = "allowed"
	}
	rateLimitDecisions.WithLabelValues(tier, decision).Inc()
}
