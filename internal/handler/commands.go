package handler

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"rssbot/internal/delivery"
	"rssbot/internal/opml"
	"rssbot/internal/store"
)

const startText = `This bot pushes new feed entries to you.

/rss       - show your subscriptions
/sub       - subscribe to a feed: /sub http://example.com/feed.xml
/unsub     - unsubscribe: /unsub http://example.com/feed.xml
/export    - export your subscriptions as OPML

Prefix any command's arguments with a channel (@name or id) to manage a
channel's subscriptions; you and the bot both need to be administrators
there.`

// Start answers /start with the command overview.
func (h *Handler) Start(ctx context.Context, msg *models.Message) {
	if !h.allowed(ctx, msg) {
		return
	}
	if err := h.respondTo(msg).plain(ctx, startText); err != nil {
		h.logger.Warn("start reply failed", slog.Any("error", err))
	}
}

// List answers /rss [channel] with the subscription list as HTML links,
// split over several messages when it gets long.
func (h *Handler) List(ctx context.Context, msg *models.Message) {
	if !h.allowed(ctx, msg) {
		return
	}
	r := h.respondTo(msg)
	target := msg.Chat.ID
	if args := commandArgs(msg.Text); len(args) == 1 {
		var ok bool
		if target, ok = h.channelTarget(ctx, args[0], r, msg.From.ID); !ok {
			return
		}
	} else if len(args) > 1 {
		return
	}

	feeds := h.store.SubscribedFeeds(target)
	if feeds == nil {
		_ = r.plain(ctx, "Your subscription list is empty")
		return
	}
	msgs := delivery.Split("Subscriptions:", feeds, func(f store.Feed) string {
		return fmt.Sprintf("<a href=\"%s\">%s</a>",
			delivery.EscapeHTML(f.Link), delivery.EscapeHTML(f.Title))
	})

	// Chain the chunks as replies so they read in order.
	replyTo := msg.ID
	for _, text := range msgs {
		sent, err := h.api.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:          msg.Chat.ID,
			Text:            text,
			ParseMode:       models.ParseModeHTML,
			ReplyParameters: &models.ReplyParameters{MessageID: replyTo},
			LinkPreviewOptions: &models.LinkPreviewOptions{
				IsDisabled: bot.True(),
			},
		})
		if err != nil {
			h.logger.Warn("list reply failed", slog.Any("error", err))
			return
		}
		replyTo = sent.ID
	}
}

// Subscribe handles /sub [channel] <url>: it fetches the feed first so
// the user gets parse errors back, then records the subscription.
func (h *Handler) Subscribe(ctx context.Context, msg *models.Message) {
	if !h.allowed(ctx, msg) {
		return
	}
	r := h.respondTo(msg)
	target, url, ok := h.targetAndURL(ctx, msg, r)
	if !ok {
		return
	}

	if err := r.plain(ctx, "Processing, please wait"); err != nil {
		h.logger.Warn("sub reply failed", slog.Any("error", err))
		return
	}
	parsed, err := h.fetcher.Pull(ctx, url)
	if err != nil {
		_ = r.html(ctx, "Subscription failed: "+delivery.EscapeHTML(err.Error()))
		return
	}
	if !h.store.Subscribe(target, url, parsed) {
		_ = r.plain(ctx, "You are already subscribed to this feed")
		return
	}
	_ = r.html(ctx, fmt.Sprintf("<b>%s</b> subscribed", delivery.EscapeHTML(parsed.Title)))
}

// Unsubscribe handles /unsub [channel] <url>.
func (h *Handler) Unsubscribe(ctx context.Context, msg *models.Message) {
	if !h.allowed(ctx, msg) {
		return
	}
	r := h.respondTo(msg)
	target, url, ok := h.targetAndURL(ctx, msg, r)
	if !ok {
		return
	}

	f, ok := h.store.Unsubscribe(target, url)
	if !ok {
		_ = r.plain(ctx, "You are not subscribed to this feed")
		return
	}
	_ = r.html(ctx, fmt.Sprintf("<b>%s</b> unsubscribed", delivery.EscapeHTML(f.Title)))
}

// Export handles /export [channel] by uploading the subscription list
// as an OPML document.
func (h *Handler) Export(ctx context.Context, msg *models.Message) {
	if !h.allowed(ctx, msg) {
		return
	}
	r := h.respondTo(msg)
	target := msg.Chat.ID
	if args := commandArgs(msg.Text); len(args) == 1 {
		var ok bool
		if target, ok = h.channelTarget(ctx, args[0], r, msg.From.ID); !ok {
			return
		}
	} else if len(args) > 1 {
		return
	}

	feeds := h.store.SubscribedFeeds(target)
	if feeds == nil {
		_ = r.plain(ctx, "Your subscription list is empty")
		return
	}
	doc, err := opml.Export(feeds, time.Now())
	if err != nil {
		h.logger.Error("opml export failed", slog.Any("error", err))
		_ = r.plain(ctx, "Export failed")
		return
	}
	_, err = h.api.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID: msg.Chat.ID,
		Document: &models.InputFileUpload{
			Filename: "feeds.opml",
			Data:     bytes.NewReader(doc),
		},
		ReplyParameters: &models.ReplyParameters{MessageID: msg.ID},
	})
	if err != nil {
		h.logger.Warn("export reply failed", slog.Any("error", err))
	}
}

// targetAndURL parses the [channel] <url> argument forms shared by /sub
// and /unsub. A wrong argument count is ignored silently.
func (h *Handler) targetAndURL(ctx context.Context, msg *models.Message, r *responder) (int64, string, bool) {
	args := commandArgs(msg.Text)
	switch len(args) {
	case 1:
		return msg.Chat.ID, args[0], true
	case 2:
		target, ok := h.channelTarget(ctx, args[0], r, msg.From.ID)
		if !ok {
			return 0, "", false
		}
		return target, args[1], true
	default:
		return 0, "", false
	}
}
