// Package handler implements the bot's command surface: /start, /rss,
// /sub, /unsub and /export, including the channel-management variants
// and the access-control gates.
package handler

import (
	"context"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"rssbot/internal/feed"
	"rssbot/internal/store"
)

// API is the Telegram surface the handlers call. *bot.Bot satisfies it.
type API interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
	SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*models.Message, error)
	GetChat(ctx context.Context, params *bot.GetChatParams) (*models.ChatFullInfo, error)
	GetChatMember(ctx context.Context, params *bot.GetChatMemberParams) (*models.ChatMember, error)
	GetChatAdministrators(ctx context.Context, params *bot.GetChatAdministratorsParams) ([]models.ChatMember, error)
}

// FeedPuller fetches and parses one feed.
type FeedPuller interface {
	Pull(ctx context.Context, url string) (*feed.Feed, error)
}

// Config is the access-control part of the CLI.
type Config struct {
	// BotID is the bot's own user id, from getMe.
	BotID int64
	// Admins, when non-empty, is the only set of users allowed to use
	// commands.
	Admins []int64
	// Restricted limits commands in groups to group administrators.
	Restricted bool
}

// Handler wires the command implementations to their dependencies.
type Handler struct {
	api     API
	store   *store.Store
	fetcher FeedPuller
	cfg     Config
	logger  *slog.Logger
}

func New(api API, st *store.Store, fetcher FeedPuller, cfg Config, logger *slog.Logger) *Handler {
	return &Handler{api: api, store: st, fetcher: fetcher, cfg: cfg, logger: logger}
}

// Register installs the command handlers on the bot's dispatcher.
func (h *Handler) Register(b *bot.Bot) {
	commands := map[string]func(context.Context, *models.Message){
		"/start":  h.Start,
		"/rss":    h.List,
		"/sub":    h.Subscribe,
		"/unsub":  h.Unsubscribe,
		"/export": h.Export,
	}
	for pattern, fn := range commands {
		pattern, fn := pattern, fn
		b.RegisterHandler(bot.HandlerTypeMessageText, pattern, bot.MatchTypePrefix,
			func(ctx context.Context, _ *bot.Bot, update *models.Update) {
				if update.Message == nil || !matchesCommand(update.Message.Text, pattern) {
					return
				}
				fn(ctx, update.Message)
			})
	}
}

// matchesCommand reports whether the first word of text is exactly the
// given command, ignoring a trailing @botname. Prefix dispatch alone
// would route "/rssfoo" to /rss.
func matchesCommand(text, command string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	word, _, _ := strings.Cut(fields[0], "@")
	return word == command
}

// commandArgs splits a message text into its arguments, dropping the
// command word itself.
func commandArgs(text string) []string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	return fields[1:]
}

// allowed applies the access gates: the admin allowlist first, then the
// group-admin restriction. A refusal is silent; answering would make the
// bot a spam vector in groups it was added to.
func (h *Handler) allowed(ctx context.Context, msg *models.Message) bool {
	if msg.From == nil {
		return false
	}
	if len(h.cfg.Admins) > 0 && !slices.Contains(h.cfg.Admins, msg.From.ID) {
		return false
	}
	if h.cfg.Restricted &&
		(msg.Chat.Type == models.ChatTypeGroup || msg.Chat.Type == models.ChatTypeSupergroup) {
		member, err := h.api.GetChatMember(ctx, &bot.GetChatMemberParams{
			ChatID: msg.Chat.ID,
			UserID: msg.From.ID,
		})
		if err != nil {
			h.logger.Warn("membership check failed",
				slog.Int64("chat_id", msg.Chat.ID),
				slog.Any("error", err))
			return false
		}
		if member.Type != models.ChatMemberTypeOwner &&
			member.Type != models.ChatMemberTypeAdministrator {
			return false
		}
	}
	return true
}

// responder replies to the command message once, then edits that reply
// on every further update. This keeps interactive commands like /sub to
// a single visible message.
type responder struct {
	api     API
	chatID  int64
	replyTo int
	msgID   int
	sent    bool
}

func (h *Handler) respondTo(msg *models.Message) *responder {
	return &responder{api: h.api, chatID: msg.Chat.ID, replyTo: msg.ID}
}

func (r *responder) plain(ctx context.Context, text string) error {
	return r.update(ctx, text, "")
}

func (r *responder) html(ctx context.Context, text string) error {
	return r.update(ctx, text, models.ParseModeHTML)
}

func (r *responder) update(ctx context.Context, text string, parseMode models.ParseMode) error {
	if !r.sent {
		msg, err := r.api.SendMessage(ctx, &bot.SendMessageParams{
			ChatID:          r.chatID,
			Text:            text,
			ParseMode:       parseMode,
			ReplyParameters: &models.ReplyParameters{MessageID: r.replyTo},
			LinkPreviewOptions: &models.LinkPreviewOptions{
				IsDisabled: bot.True(),
			},
		})
		if err != nil {
			return err
		}
		r.msgID = msg.ID
		r.sent = true
		return nil
	}
	_, err := r.api.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:    r.chatID,
		MessageID: r.msgID,
		Text:      text,
		ParseMode: parseMode,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: bot.True(),
		},
	})
	return err
}

// channelTarget resolves the optional channel operand of a command: a
// numeric chat id or a @username. The target must be a channel, and both
// the invoking user and the bot must be among its administrators. On a
// failed check the reason has been reported through r and ok is false.
func (h *Handler) channelTarget(ctx context.Context, operand string, r *responder, userID int64) (int64, bool) {
	var ref any
	if id, err := strconv.ParseInt(operand, 10, 64); err == nil {
		ref = id
	} else {
		ref = "@" + strings.TrimPrefix(operand, "@")
	}

	chat, err := h.api.GetChat(ctx, &bot.GetChatParams{ChatID: ref})
	if err != nil {
		_ = r.plain(ctx, "Unable to find the channel: "+err.Error())
		return 0, false
	}
	if chat.Type != "channel" {
		_ = r.plain(ctx, "The target must be a channel")
		return 0, false
	}

	admins, err := h.api.GetChatAdministrators(ctx, &bot.GetChatAdministratorsParams{ChatID: chat.ID})
	if err != nil {
		_ = r.plain(ctx, "Unable to list the channel administrators: "+err.Error())
		return 0, false
	}
	if !isAdmin(admins, userID) {
		_ = r.plain(ctx, "Only channel administrators can use this command")
		return 0, false
	}
	if !isAdmin(admins, h.cfg.BotID) {
		_ = r.plain(ctx, "Please promote this bot to channel administrator first")
		return 0, false
	}
	return chat.ID, true
}

func isAdmin(admins []models.ChatMember, userID int64) bool {
	for _, m := range admins {
		switch m.Type {
		case models.ChatMemberTypeOwner:
			if m.Owner != nil && m.Owner.User.ID == userID {
				return true
			}
		case models.ChatMemberTypeAdministrator:
			if m.Administrator != nil && m.Administrator.User.ID == userID {
				return true
			}
		}
	}
	return false
}
