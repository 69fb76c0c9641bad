package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"crypto-payment-gate/internal/domain/model"
	"crypto-payment-gate/internal/domain/ports/adapter"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender is the slice of tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts verification outcomes to one operator chat.
type TelegramNotifier struct {
	bot    Sender
	chatID int64
}

var _ adapter.PaymentNotifier = (*TelegramNotifier)(nil)

func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	if token == "" || chatID == 0 {
		return nil, errors.New("telegram token and chat id are required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return NewTelegramNotifierWithSender(bot, chatID), nil
}

func NewTelegramNotifierWithSender(bot Sender, chatID int64) *TelegramNotifier {
	return &TelegramNotifier{bot: bot, chatID: chatID}
}

func (n *TelegramNotifier) PaymentVerified(ctx context.Context, ps *model.PaymentState, v *model.PaymentVerification) error {
	var b strings.Builder
	fmt.Fprintf(&b, "✅ Payment confirmed\n")
	fmt.Fprintf(&b, "id: %s\nendpoint: %s\nusd: %s\n", ps.ID, ps.Endpoint, ps.AmountUSD.StringFixed(2))
	fmt.Fprintf(&b, "paid: %s %s on %s\n", v.Amount.String(), v.Currency, v.Chain)
	if v.TxID != "" {
		fmt.Fprintf(&b, "tx: %s\n", v.TxID)
	}
	return n.send(ctx, b.String())
}

func (n *TelegramNotifier) PaymentFailed(ctx context.Context, ps *model.PaymentState, v *model.PaymentVerification) error {
	text := fmt.Sprintf("⚠️ Payment failed\nid: %s\nendpoint: %s\nchain: %s\nreason: %s", ps.ID, ps.Endpoint, v.Chain, v.Reason)
	return n.send(ctx, text)
}

func (n *TelegramNotifier) send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.DisableWebPagePreview = true
	_, err := n.bot.Send(msg)
	return err
}
