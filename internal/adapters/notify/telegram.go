package notify

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"yt-comment-keeper/internal/domain"
	"yt-comment-keeper/internal/infra/metrics"
)

// Telegram отправляет сводки проверок в заданный чат.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

var _ domain.Notifier = (*Telegram)(nil)

// NewTelegram создаёт нотификатор.
func NewTelegram(bot *tgbotapi.BotAPI, chatID int64, log zerolog.Logger) *Telegram {
	return &Telegram{bot: bot, chatID: chatID, log: log}
}

// Notify отправляет сводку цикла проверки.
func (t *Telegram) Notify(ctx context.Context, summary domain.CheckSummary) error {
	text := summary.Message()
	if summary.UnknownCount > 0 {
		text = fmt.Sprintf("%s %d could not be verified.", text, summary.UnknownCount)
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	start := time.Now()
	_, err := t.bot.Send(msg)
	metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(t.chatID, 10), start, err)
	if err != nil {
		metrics.NotifySendErrors.Inc()
		t.log.Error().Err(err).Msg("не удалось отправить уведомление")
		return fmt.Errorf("отправка уведомления: %w", err)
	}
	return nil
}
