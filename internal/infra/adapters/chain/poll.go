package chain

import (
	"context"
	"time"

	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/adapter"
)

// PollPayment calls VerifyPayment at most ceil(timeout/interval) times, sleeping interval
// between calls. It stops early on a verified result or on a definitive rejection such as
// an amount mismatch. When the budget runs out the result carries Reason "timeout".
// Provider errors are treated as transient; the last one is returned if no call succeeded.
func PollPayment(ctx context.Context, a adapter.ChainAdapter, q adapter.VerifyQuery, timeout, interval time.Duration) (*model.PaymentVerification, error) {
	if interval <= 0 {
		interval = time.Second
	}
	if timeout <= 0 {
		timeout = interval
	}
	attempts := int((timeout + interval - 1) / interval)

	var (
		lastErr error
		seen    bool
	)
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for i := 0; i < attempts; i++ {
		v, err := a.VerifyPayment(ctx, q)
		switch {
		case err != nil:
			lastErr = err
		case v.Verified || !retryable(v.Reason):
			return v, nil
		default:
			seen = true
		}
		if i == attempts-1 {
			break
		}
		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if !seen && lastErr != nil {
		return nil, lastErr
	}
	return model.FailedVerification(q.PaymentID, a.Chain(), model.ReasonTimeout, "timeout"), nil
}

// retryable reports whether a failed verification may still succeed later.
func retryable(reason string) bool {
	return reason == model.ReasonNotFound || reason == model.ReasonNotSettled
}
