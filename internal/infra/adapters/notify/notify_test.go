//go:build !integration

package notify

import (
	"context"
	"errors"
	"testing"

	"crypto-payment-gate/internal/domain/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.sent = append(m.sent, msg)
	}
	return tgbotapi.Message{}, m.err
}

func TestTelegramNotifier(t *testing.T) {
	ctx := context.Background()
	ps := &model.PaymentState{ID: "01HX", Endpoint: "/api/report", AmountUSD: decimal.RequireFromString("0.5")}

	t.Run("should post confirmed payments to the chat", func(t *testing.T) {
		s := &mockSender{}
		n := NewTelegramNotifierWithSender(s, 42)

		err := n.PaymentVerified(ctx, ps, &model.PaymentVerification{
			Verified: true, Chain: model.ChainSolana, Amount: decimal.RequireFromString("0.005"), Currency: model.CurrencySOL, TxID: "sig",
		})

		require.NoError(t, err)
		require.Len(t, s.sent, 1)
		assert.Equal(t, int64(42), s.sent[0].ChatID)
		assert.Contains(t, s.sent[0].Text, "01HX")
		assert.Contains(t, s.sent[0].Text, "0.50")
		assert.Contains(t, s.sent[0].Text, "0.005 SOL on solana")
		assert.Contains(t, s.sent[0].Text, "tx: sig")
	})

	t.Run("should include the failure reason", func(t *testing.T) {
		s := &mockSender{}
		err := NewTelegramNotifierWithSender(s, 42).PaymentFailed(ctx, ps, model.FailedVerification(ps.ID, model.ChainBase, model.ReasonAmountMismatch, "short"))
		require.NoError(t, err)
		assert.Contains(t, s.sent[0].Text, "reason: amount_mismatch")
	})

	t.Run("should surface send errors", func(t *testing.T) {
		s := &mockSender{err: errors.New("forbidden")}
		err := NewTelegramNotifierWithSender(s, 42).PaymentFailed(ctx, ps, &model.PaymentVerification{})
		assert.Error(t, err)
	})

	t.Run("should refuse an incomplete configuration", func(t *testing.T) {
		_, err := NewTelegramNotifier("", 0)
		assert.Error(t, err)
	})
}
