//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"

	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/usecase"
)

func TestNotifier(t *testing.T) {
	ctx := context.Background()
	ps := &model.PaymentState{ID: "p1"}
	v := &model.PaymentVerification{Verified: true, PaymentID: "p1"}

	t.Run("should reach every listener even when one fails", func(t *testing.T) {
		failing := &MockNotifier{PaymentVerifiedFunc: func(context.Context, *model.PaymentState, *model.PaymentVerification) error {
			return errors.New("telegram down")
		}}
		ok := &MockNotifier{}
		n := usecase.NewNotifier(newTestLogger(), failing, ok)

		err := n.PaymentVerified(ctx, ps, v)

		if err == nil {
			t.Error("expected the listener error to be reported")
		}
		if got, _ := ok.Counts(); got != 1 {
			t.Errorf("expected the second listener to be called, got %d", got)
		}
	})

	t.Run("should route failures to PaymentFailed", func(t *testing.T) {
		l := &MockNotifier{}
		n := usecase.NewNotifier(newTestLogger())
		n.Add(l)

		if err := n.PaymentFailed(ctx, ps, &model.PaymentVerification{PaymentID: "p1"}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if v, f := l.Counts(); v != 0 || f != 1 {
			t.Errorf("expected one failure, got %d verified %d failed", v, f)
		}
	})
}
