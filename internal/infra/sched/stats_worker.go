package sched

import (
	"context"
	"time"

	"crypto-payment-gate/internal/infra/logging"

	"github.com/rs/zerolog"
)

// GaugeRefresher publishes point-in-time counts, e.g. subscriptions by status.
type GaugeRefresher interface {
	RefreshGauges(ctx context.Context) error
}

// StatsWorker periodically refreshes gauges that are expensive to keep live.
type StatsWorker struct {
	interval time.Duration
	target   GaugeRefresher
	log      *zerolog.Logger
}

func NewStatsWorker(interval time.Duration, target GaugeRefresher, logger *zerolog.Logger) *StatsWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &StatsWorker{interval: interval, target: target, log: logging.Component(logger, "stats-worker")}
}

func (w *StatsWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.refresh(ctx)
		}
	}
}

func (w *StatsWorker) refresh(ctx context.Context) {
	if err := w.target.RefreshGauges(ctx); err != nil {
		w.log.Error().Err(err).Msg("refresh gauges")
	}
}
