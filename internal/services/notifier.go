package services

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/sirupsen/logrus"

	"github.com/helios-labs/strategy-governor/internal/models"
)

// Notifier delivers a terminal-cycle summary to operators. Delivery is
// best-effort; a failed notification never affects the cycle.
type Notifier interface {
	NotifyCycle(ctx context.Context, cycle *models.Cycle)
}

// TelegramNotifier sends one message per terminal cycle.
type TelegramNotifier struct {
	bot    *bot.Bot
	chatID string
	logger *logrus.Logger
}

// NewTelegramNotifier returns nil when no token or chat id is
// configured, which callers treat as notifications disabled.
func NewTelegramNotifier(token, chatID string, logger *logrus.Logger) *TelegramNotifier {
	if token == "" || chatID == "" {
		return nil
	}
	b, err := bot.New(token)
	if err != nil {
		logger.WithError(err).Warn("Telegram notifier disabled: bot init failed")
		return nil
	}
	return &TelegramNotifier{bot: b, chatID: chatID, logger: logger}
}

// NotifyCycle sends the summary message.
func (n *TelegramNotifier) NotifyCycle(ctx context.Context, cycle *models.Cycle) {
	text := fmt.Sprintf("Governance cycle %s: %s (%s)",
		cycle.ID, cycle.Status, models.SanitizeReasonCode(cycle.ReasonCode))
	if cycle.AppliedOverrideVersion > 0 {
		text += fmt.Sprintf(", override snapshot v%d applied", cycle.AppliedOverrideVersion)
	}

	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: n.chatID,
		Text:   text,
	})
	if err != nil {
		n.logger.WithError(err).WithField("cycle_id", cycle.ID).Warn("Telegram notification failed")
	}
}
