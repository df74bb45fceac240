package gardener

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// TelegramAPI adapts the Bot API client to the probe surface.
type TelegramAPI struct {
	bot   *bot.Bot
	botID int64
}

func NewTelegramAPI(b *bot.Bot, botID int64) *TelegramAPI {
	return &TelegramAPI{bot: b, botID: botID}
}

func (a *TelegramAPI) ChatKind(ctx context.Context, chatID int64) (ChatKind, error) {
	chat, err := a.bot.GetChat(ctx, &bot.GetChatParams{ChatID: chatID})
	if err != nil {
		return "", err
	}
	return ChatKind(chat.Type), nil
}

func (a *TelegramAPI) BotMembership(ctx context.Context, chatID int64) (MemberStatus, error) {
	member, err := a.bot.GetChatMember(ctx, &bot.GetChatMemberParams{
		ChatID: chatID,
		UserID: a.botID,
	})
	if err != nil {
		return "", err
	}
	switch member.Type {
	case models.ChatMemberTypeMember:
		return StatusMember, nil
	case models.ChatMemberTypeLeft:
		return StatusLeft, nil
	case models.ChatMemberTypeBanned:
		return StatusKicked, nil
	default:
		return StatusOther, nil
	}
}
