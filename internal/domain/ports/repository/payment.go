package repository

import (
	"context"
	"time"

	"crypto-payment-gate/internal/domain/model"
)

// -----------------------------
// Payment states
// -----------------------------

type PaymentStateRepository interface {
	Create(ctx context.Context, qx any, ps *model.PaymentState) error
	FindByID(ctx context.Context, qx any, id string) (*model.PaymentState, error)
	// UpdateStatus moves a state to `to` only when its current status is one of `from`.
	// It reports whether the row was changed; this is the compare-and-set used by verification.
	UpdateStatus(ctx context.Context, qx any, id string, from []model.PaymentStatus, to model.PaymentStatus, chain model.Chain, v *model.PaymentVerification) (bool, error)
	// FindConfirmedBySettlement returns the confirmed state that already claimed txID on chain.
	FindConfirmedBySettlement(ctx context.Context, qx any, chain model.Chain, txID string) (*model.PaymentState, error)
	// MarkConsumed records that a confirmed state was spent on consumer. It reports false when the
	// state is not confirmed or was already consumed.
	MarkConsumed(ctx context.Context, qx any, id, consumer string) (bool, error)
	// ReleaseVerifying hands verifying states last touched before cutoff back to pending.
	ReleaseVerifying(ctx context.Context, qx any, cutoff time.Time) (int64, error)
	ListPendingOlderThan(ctx context.Context, qx any, olderThan time.Time, limit int) ([]*model.PaymentState, error)
	// ExpireBefore moves every pending or verifying state whose window closed before cutoff to expired.
	ExpireBefore(ctx context.Context, qx any, cutoff time.Time) (int64, error)
}
