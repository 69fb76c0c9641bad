package metrics

import (
	"crypto-payment-gate/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		subscriptionEventsTotal,
		subscriptionsTotal,
	)
}

var (
	subscriptionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_events_total",
			Help: "Subscription lifecycle events by kind and tier.",
		},
		[]string{"event", "tier"}, // activated|renewed|upgraded|cancelled|cancelled_now|payment_created
	)

	subscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscriptions_total",
			Help: "Current number of stored subscriptions by status.",
		},
		[]string{"status"},
	)
)

func IncSubscriptionEvent(event, tier string) {
	subscriptionEventsTotal.WithLabelValues(norm(event), norm(tier)).Inc()
}

func SetSubscriptionsTotal(counts map[model.SubscriptionStatus]int) {
	statuses := []model.SubscriptionStatus{
		model.SubscriptionStatusActive,
		model.SubscriptionStatusCancelled,
		model.SubscriptionStatusExpired,
		model.SubscriptionStatusPending,
	}
	for _, status := range statuses {
		subscriptionsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
