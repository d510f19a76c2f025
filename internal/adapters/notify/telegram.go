package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/alejandrodnm/mirrormaker/internal/ports"
)

// Telegram pushes engine events to a Telegram chat. Placement events are
// skipped; only fills, drift warnings, ceilings and stops are worth a ping.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram creates a Telegram notifier for the given bot token and chat.
func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify.NewTelegram: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

// Notify sends one message per notable event.
func (t *Telegram) Notify(_ context.Context, ev ports.Event) error {
	if ev.Kind == ports.EventPlaced {
		return nil
	}

	var icon string
	switch ev.Kind {
	case ports.EventFill:
		icon = "✅"
	case ports.EventDrift:
		icon = "⚠️"
	case ports.EventCeiling:
		icon = "🧱"
	case ports.EventStopped:
		icon = "🛑"
	}

	msg := tgbotapi.NewMessage(t.chatID, fmt.Sprintf("%s %s", icon, ev.Message))
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("notify.Telegram: send: %w", err)
	}
	return nil
}
