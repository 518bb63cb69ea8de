// Package notify sends run summaries to a chat.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"clicksync/internal/reconcile"
)

type Notifier interface {
	NotifyRun(ctx context.Context, report reconcile.Report) error
	NotifyText(ctx context.Context, text string) error
}

type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	return NewTelegramWithClient(token, tgbotapi.APIEndpoint, &http.Client{}, chatID)
}

// NewTelegramWithClient points the bot at endpoint, a format string taking the
// token and the method name.
func NewTelegramWithClient(token, endpoint string, client *http.Client, chatID int64) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, fmt.Errorf("telegram token and chat id are required")
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) NotifyRun(ctx context.Context, report reconcile.Report) error {
	return t.NotifyText(ctx, FormatReport(report))
}

func (t *Telegram) NotifyText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// maxListed caps how many failed keys a summary names.
const maxListed = 10

func FormatReport(r reconcile.Report) string {
	var b strings.Builder
	status := "OK"
	switch {
	case r.AbortReason != "":
		status = "ABORTED"
	case !r.OK():
		status = "FAILED"
	}
	fmt.Fprintf(&b, "[clicksync] %s %s %s\n", r.Job, r.TargetDate.Format("2006-01-02"), status)
	if r.AbortReason != "" {
		fmt.Fprintf(&b, "reason: %s\n", r.AbortReason)
		return strings.TrimRight(b.String(), "\n")
	}
	fmt.Fprintf(&b, "column %s: %d written, %d failed, %d skipped", r.Column, r.Succeeded(), r.Failed(), len(r.Skipped))
	if r.QueryErrors > 0 {
		fmt.Fprintf(&b, ", %d query errors", r.QueryErrors)
	}
	listed := 0
	for _, o := range r.Outcomes {
		if o.Success {
			continue
		}
		if listed == maxListed {
			fmt.Fprintf(&b, "\n... and %d more", r.Failed()-listed)
			break
		}
		fmt.Fprintf(&b, "\n- %s (%s): %v", o.Key, o.Cell, o.Err)
		listed++
	}
	return b.String()
}
