package notifier

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"remindd/internal/reminder"
)

// Telegram posts reminders into one chat (optionally a forum topic).
type Telegram struct {
	bot      *tele.Bot
	chat     *tele.Chat
	threadID int
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" || cfg.ChatID == 0 {
		return nil, fmt.Errorf("%w: telegram token and chat id are required", ErrNotConfigured)
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     strings.TrimSpace(cfg.APIURL),
		Offline: true, // send only; no getMe round-trip and no polling
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chat: &tele.Chat{ID: cfg.ChatID}, threadID: cfg.ThreadID}, nil
}

func (t *Telegram) SendReminder(ctx context.Context, ev reminder.Event, phone string) (reminder.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return reminder.Receipt{}, err
	}
	text := FormatMessage(ev)
	if phone != "" {
		text = "To: " + phone + "\n" + text
	}
	msg, err := t.bot.Send(t.chat, text, &tele.SendOptions{
		ThreadID:              t.threadID,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return reminder.Receipt{}, fmt.Errorf("telegram send: %w", err)
	}
	return reminder.Receipt{Channel: ChannelTelegram, MessageID: strconv.Itoa(msg.ID)}, nil
}
