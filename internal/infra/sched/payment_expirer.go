package sched

import (
	"context"
	"errors"
	"time"

	"crypto-payment-gate/internal/domain"
	"crypto-payment-gate/internal/infra/logging"
	"crypto-payment-gate/internal/infra/redis"

	"github.com/rs/zerolog"
)

// Sweeper is the part of the payment gate the expirer drives.
type Sweeper interface {
	ExpireStale(ctx context.Context) (int64, error)
	Reconcile(ctx context.Context, staleAfter time.Duration, limit int) (int, error)
}

const expirerLockKey = "lock:payment-expirer"

// PaymentExpirer periodically closes payment states whose window passed and picks up
// settlements of pending states whose payer never retried. With a locker only one
// instance sweeps per tick.
type PaymentExpirer struct {
	gate       Sweeper
	locker     redis.Locker
	interval   time.Duration
	staleAfter time.Duration
	log        *zerolog.Logger
}

func NewPaymentExpirer(gate Sweeper, locker redis.Locker, interval, staleAfter time.Duration, logger *zerolog.Logger) *PaymentExpirer {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 2 * time.Minute
	}
	return &PaymentExpirer{
		gate:       gate,
		locker:     locker,
		interval:   interval,
		staleAfter: staleAfter,
		log:        logging.Component(logger, "payment-expirer"),
	}
}

func (w *PaymentExpirer) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting payment expirer")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping payment expirer")
			return ctx.Err()
		case <-t.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one sweep.
func (w *PaymentExpirer) Tick(ctx context.Context) {
	if w.locker != nil {
		token, err := w.locker.TryLock(ctx, expirerLockKey, w.interval)
		if errors.Is(err, domain.ErrLockNotAcquired) {
			w.log.Debug().Msg("another instance is sweeping")
			return
		}
		if err != nil {
			w.log.Error().Err(err).Msg("lock failed")
			return
		}
		defer func() {
			if err := w.locker.Unlock(context.WithoutCancel(ctx), expirerLockKey, token); err != nil {
				w.log.Warn().Err(err).Msg("unlock failed")
			}
		}()
	}

	n, err := w.gate.ExpireStale(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("expire stale payments")
	} else if n > 0 {
		w.log.Info().Int64("count", n).Msg("payments expired")
	}

	confirmed, err := w.gate.Reconcile(ctx, w.staleAfter, 200)
	if err != nil {
		w.log.Error().Err(err).Msg("reconcile pending payments")
		return
	}
	if confirmed > 0 {
		w.log.Info().Int("count", confirmed).Msg("payments reconciled")
	}
}
