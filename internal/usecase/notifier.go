package usecase

import (
	"context"
	"errors"

	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/adapter"
	"crypto-payment-gate/internal/infra/logging"

	"github.com/rs/zerolog"
)

// Notifier fans a verification outcome out to every listener.
// A failing listener does not stop the others.
type Notifier struct {
	listeners []adapter.PaymentNotifier
	log       *zerolog.Logger
}

var _ adapter.PaymentNotifier = (*Notifier)(nil)

func NewNotifier(logger *zerolog.Logger, listeners ...adapter.PaymentNotifier) *Notifier {
	return &Notifier{listeners: listeners, log: logging.Component(logger, "notifier")}
}

// Add registers another listener. Not safe for use once events are flowing.
func (n *Notifier) Add(l adapter.PaymentNotifier) { n.listeners = append(n.listeners, l) }

func (n *Notifier) PaymentVerified(ctx context.Context, ps *model.PaymentState, v *model.PaymentVerification) error {
	return n.each(ctx, ps, func(l adapter.PaymentNotifier) error { return l.PaymentVerified(ctx, ps, v) })
}

func (n *Notifier) PaymentFailed(ctx context.Context, ps *model.PaymentState, v *model.PaymentVerification) error {
	return n.each(ctx, ps, func(l adapter.PaymentNotifier) error { return l.PaymentFailed(ctx, ps, v) })
}

func (n *Notifier) each(ctx context.Context, ps *model.PaymentState, call func(adapter.PaymentNotifier) error) error {
	var errs []error
	for _, l := range n.listeners {
		if err := call(l); err != nil {
			logging.With(ctx, n.log).Warn().Err(err).Str("payment_id", ps.ID).Msg("listener failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
