// Package delivery fans feed updates out to subscribers. Sends are paced
// globally and every recipient gets a small retry budget with recovery
// rules for the Telegram failure modes: gone chats are pruned, migrated
// groups are retargeted, flood waits are respected.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"golang.org/x/time/rate"

	"rssbot/internal/botutil"
	"rssbot/internal/observability/metrics"
)

// maxAttempts is the per-recipient retry budget for one message.
const maxAttempts = 3

// Sender is the Telegram send surface the pusher needs.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// SubscriberStore is the mutation surface for delivery failures.
type SubscriberStore interface {
	DeleteSubscriber(subscriber int64)
	UpdateSubscriber(from, to int64)
}

// Pusher delivers HTML messages to subscribers.
type Pusher struct {
	sender  Sender
	store   SubscriberStore
	limiter *rate.Limiter
	logger  *slog.Logger

	sleep func(ctx context.Context, d time.Duration) // test seam
}

// New builds a Pusher. msgPerSec caps the global outgoing rate; Telegram
// allows roughly 30 messages per second across all chats.
func New(sender Sender, store SubscriberStore, msgPerSec float64, logger *slog.Logger) *Pusher {
	return &Pusher{
		sender:  sender,
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(msgPerSec), 1),
		logger:  logger,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Broadcast sends every message to every subscriber. A recipient that
// turns out to be gone is dropped from the store and skipped for the
// remaining messages. Delivery is at-least-once; errors never stop the
// broadcast for other recipients.
func (p *Pusher) Broadcast(ctx context.Context, subscribers []int64, messages []string) {
	for _, sub := range subscribers {
		chatID := sub
		for _, msg := range messages {
			newID, ok := p.send(ctx, chatID, msg)
			if !ok {
				break
			}
			chatID = newID
		}
	}
}

// send delivers one message with the retry budget. It returns the chat
// id to use for subsequent messages (changed after a migration) and
// whether the recipient is still worth sending to.
func (p *Pusher) send(ctx context.Context, chatID int64, text string) (int64, bool) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return chatID, false
		}
		_, err := p.sender.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:    chatID,
			Text:      text,
			ParseMode: models.ParseModeHTML,
			LinkPreviewOptions: &models.LinkPreviewOptions{
				IsDisabled: bot.True(),
			},
		})
		if err == nil {
			metrics.MessagesSentTotal.WithLabelValues("success").Inc()
			return chatID, true
		}

		var migrate *bot.MigrateError
		if errors.As(err, &migrate) {
			// MigrateToChatID is an int in the library; chat ids are int64.
			newID := int64(migrate.MigrateToChatID)
			p.logger.Info("chat migrated",
				slog.Int64("from", chatID),
				slog.Int64("to", newID))
			p.store.UpdateSubscriber(chatID, newID)
			chatID = newID
			continue
		}
		var tooMany *bot.TooManyRequestsError
		if errors.As(err, &tooMany) {
			p.logger.Warn("flood wait",
				slog.Int64("chat_id", chatID),
				slog.Int("retry_after", tooMany.RetryAfter))
			p.sleep(ctx, time.Duration(tooMany.RetryAfter)*time.Second)
			continue
		}
		if botutil.ChatIsUnavailable(err) {
			p.logger.Info("dropping unreachable subscriber",
				slog.Int64("chat_id", chatID),
				slog.Any("error", err))
			p.store.DeleteSubscriber(chatID)
			metrics.MessagesSentTotal.WithLabelValues("dropped_chat").Inc()
			metrics.SubscribersPruned.WithLabelValues("delivery").Inc()
			return chatID, false
		}

		p.logger.Error("send failed",
			slog.Int64("chat_id", chatID),
			slog.Any("error", err))
		metrics.MessagesSentTotal.WithLabelValues("failure").Inc()
		return chatID, true
	}
	p.logger.Warn("retry budget exhausted", slog.Int64("chat_id", chatID))
	metrics.MessagesSentTotal.WithLabelValues("failure").Inc()
	return chatID, true
}
