package notifier

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"vigil/internal/escalation"
)

type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
	APIURL   string
}

// Telegram posts the report to a chat (optionally a forum topic).
type Telegram struct {
	cfg TelegramConfig
	bot *tele.Bot
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	// Offline skips getMe; the bot is only used to send.
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(cfg.APIURL, "/"),
		Token:   cfg.Token,
		Offline: true,
		Client:  &http.Client{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{cfg: cfg, bot: b}, nil
}

func (t *Telegram) Name() string { return "telegram" }

// Deliver sends the text rendering. telebot has no context support, so the
// call runs on its own goroutine and ctx only bounds the wait.
func (t *Telegram) Deliver(ctx context.Context, r escalation.Report) error {
	done := make(chan error, 1)
	go func() {
		_, err := t.bot.Send(&tele.Chat{ID: t.cfg.ChatID}, r.Text(), &tele.SendOptions{
			ThreadID:              t.cfg.ThreadID,
			DisableWebPagePreview: true,
		})
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
