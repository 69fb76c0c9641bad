package notify

import (
	"context"

	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/adapter"
	"crypto-payment-gate/internal/infra/logging"

	"github.com/rs/zerolog"
)

// LogNotifier writes outcomes to the structured log. Used when no chat is configured.
type LogNotifier struct {
	log *zerolog.Logger
}

var _ adapter.PaymentNotifier = (*LogNotifier)(nil)

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: logging.Component(logger, "notify")}
}

func (n *LogNotifier) PaymentVerified(ctx context.Context, ps *model.PaymentState, v *model.PaymentVerification) error {
	logging.With(ctx, n.log).Info().Str("payment_id", ps.ID).Str("endpoint", ps.Endpoint).
		Str("chain", string(v.Chain)).Str("tx", v.TxID).Msg("payment confirmed")
	return nil
}

func (n *LogNotifier) PaymentFailed(ctx context.Context, ps *model.PaymentState, v *model.PaymentVerification) error {
	logging.With(ctx, n.log).Info().Str("payment_id", ps.ID).Str("endpoint", ps.Endpoint).
		Str("chain", string(v.Chain)).Str("reason", v.Reason).Msg("payment failed")
	return nil
}
