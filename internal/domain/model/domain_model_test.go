//go:build !integration

package model

import (
	"errors"
	"testing"
	"time"

	"crypto-payment-gate/internal/domain"

	"github.com/shopspring/decimal"
)

// --- PaymentState Tests ---

func TestNewPaymentState(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("should create a pending state with a fifteen minute window", func(t *testing.T) {
		ps, err := NewPaymentState("01HX", "/api/premium", decimal.RequireFromString("0.05"), now, 0)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		if ps.Status != PaymentStatusPending {
			t.Errorf("expected status to be 'pending', but got '%s'", ps.Status)
		}
		if !ps.ExpiresAt.Equal(now.Add(15 * time.Minute)) {
			t.Errorf("expected expiry at %v, but got %v", now.Add(15*time.Minute), ps.ExpiresAt)
		}
	})

	t.Run("should reject a zero price", func(t *testing.T) {
		_, err := NewPaymentState("01HX", "/api/premium", decimal.Zero, now, 0)
		if !errors.Is(err, domain.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, but got %v", err)
		}
	})

	t.Run("should report expiry at the boundary", func(t *testing.T) {
		ps, _ := NewPaymentState("01HX", "/api/premium", decimal.NewFromInt(1), now, time.Minute)
		if ps.IsExpiredAt(now.Add(59 * time.Second)) {
			t.Error("expected state to be open one second before expiry")
		}
		if !ps.IsExpiredAt(now.Add(time.Minute)) {
			t.Error("expected state to be expired at expiresAt")
		}
	})
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to PaymentStatus
		want     bool
	}{
		{PaymentStatusPending, PaymentStatusVerifying, true},
		{PaymentStatusPending, PaymentStatusExpired, true},
		{PaymentStatusPending, PaymentStatusConfirmed, false},
		{PaymentStatusVerifying, PaymentStatusConfirmed, true},
		{PaymentStatusVerifying, PaymentStatusFailed, true},
		{PaymentStatusVerifying, PaymentStatusExpired, true},
		{PaymentStatusVerifying, PaymentStatusPending, true},
		{PaymentStatusConfirmed, PaymentStatusFailed, false},
		{PaymentStatusFailed, PaymentStatusVerifying, false},
		{PaymentStatusExpired, PaymentStatusConfirmed, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}

func TestPaymentState_PaysFor(t *testing.T) {
	ps := &PaymentState{Endpoint: SubscriptionEndpoint("premium", IntervalMonthly), Reference: "alice"}

	if !ps.PaysFor("alice", "premium", IntervalMonthly) {
		t.Error("expected the payment to cover alice's monthly premium subscription")
	}
	if ps.PaysFor("bob", "premium", IntervalMonthly) {
		t.Error("expected another subscriber to be refused")
	}
	if ps.PaysFor("alice", "premium", IntervalYearly) {
		t.Error("expected another interval to be refused")
	}
	if ps.PaysFor("alice", "pro", IntervalMonthly) {
		t.Error("expected another tier to be refused")
	}
}

func TestPaymentState_Options(t *testing.T) {
	ps := &PaymentState{Options: []PaymentOption{
		{Chain: ChainBase, Currency: CurrencyETH},
		{Chain: ChainBase, Currency: CurrencyUSDC},
		{Chain: ChainSolana, Currency: CurrencySOL},
	}}

	if o, ok := ps.Option(ChainBase, CurrencyUSDC); !ok || o.Currency != CurrencyUSDC {
		t.Errorf("expected the USDC option, got %+v", o)
	}
	if o, ok := ps.Option(ChainBase, ""); !ok || o.Currency != CurrencyETH {
		t.Errorf("expected the first base option, got %+v", o)
	}
	if _, ok := ps.Option(ChainLightning, ""); ok {
		t.Error("expected no lightning option")
	}
	if got := len(ps.OptionsFor(ChainBase)); got != 2 {
		t.Errorf("expected 2 base options, got %d", got)
	}
}

// --- Subscription Tests ---

func TestPeriodEnd(t *testing.T) {
	t.Run("should normalise month overflow forward", func(t *testing.T) {
		start := time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)
		end, err := PeriodEnd(start, IntervalMonthly)
		if err != nil {
			t.Fatalf("expected no error, but got: %v", err)
		}
		want := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
		if !end.Equal(want) {
			t.Errorf("expected %v, but got %v", want, *end)
		}
	})

	t.Run("should add a calendar year", func(t *testing.T) {
		start := time.Date(2023, 6, 15, 10, 0, 0, 0, time.UTC)
		end, _ := PeriodEnd(start, IntervalYearly)
		if !end.Equal(time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)) {
			t.Errorf("unexpected yearly end %v", *end)
		}
	})

	t.Run("should return nil for lifetime", func(t *testing.T) {
		end, err := PeriodEnd(time.Now(), IntervalLifetime)
		if err != nil || end != nil {
			t.Errorf("expected nil end and no error, got %v, %v", end, err)
		}
	})

	t.Run("should reject unknown interval", func(t *testing.T) {
		if _, err := PeriodEnd(time.Now(), "weekly"); !errors.Is(err, domain.ErrInvalidInterval) {
			t.Errorf("expected ErrInvalidInterval, got %v", err)
		}
	})
}

func TestSubscription_IsActiveAt(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	v := &PaymentVerification{Verified: true, PaymentID: "p1", Chain: ChainSolana, Currency: CurrencySOL}

	sub, err := NewSubscription("s1", "alice", "premium", IntervalMonthly, v, now)
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
	if !sub.IsActiveAt(now.AddDate(0, 0, 10)) {
		t.Error("expected subscription to be active within the period")
	}
	if sub.IsActiveAt(sub.ExpiresAt.Add(time.Second)) {
		t.Error("expected subscription to be inactive after expiry")
	}

	sub.Status = SubscriptionStatusCancelled
	if sub.IsActiveAt(now) {
		t.Error("expected cancelled subscription to be inactive")
	}

	life, _ := NewSubscription("s2", "bob", "premium", IntervalLifetime, v, now)
	if life.ExpiresAt != nil || life.NextBillingDate != nil {
		t.Error("expected lifetime subscription to have no expiry or billing date")
	}
	if !life.IsActiveAt(now.AddDate(50, 0, 0)) {
		t.Error("expected lifetime subscription to stay active")
	}
}

func TestParseChain(t *testing.T) {
	if c, ok := ParseChain(" Solana "); !ok || c != ChainSolana {
		t.Errorf("expected solana, got %q %v", c, ok)
	}
	if _, ok := ParseChain("dogecoin"); ok {
		t.Error("expected unknown chain to be rejected")
	}
}
