package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rssbot/internal/feed"
	"rssbot/internal/store"
)

type reply struct {
	text string
	edit bool
}

type stubAPI struct {
	replies   []reply
	documents []string

	chat      *models.ChatFullInfo
	chatErr   error
	admins    []models.ChatMember
	member    *models.ChatMember
	memberErr error

	nextMsgID int
}

func (a *stubAPI) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	a.replies = append(a.replies, reply{text: params.Text})
	a.nextMsgID++
	return &models.Message{ID: a.nextMsgID}, nil
}

func (a *stubAPI) EditMessageText(_ context.Context, params *bot.EditMessageTextParams) (*models.Message, error) {
	a.replies = append(a.replies, reply{text: params.Text, edit: true})
	return &models.Message{ID: params.MessageID}, nil
}

func (a *stubAPI) SendDocument(_ context.Context, params *bot.SendDocumentParams) (*models.Message, error) {
	upload, ok := params.Document.(*models.InputFileUpload)
	if !ok {
		return nil, errors.New("unexpected document type")
	}
	data, err := io.ReadAll(upload.Data)
	if err != nil {
		return nil, err
	}
	a.documents = append(a.documents, string(data))
	return &models.Message{}, nil
}

func (a *stubAPI) GetChat(_ context.Context, _ *bot.GetChatParams) (*models.ChatFullInfo, error) {
	return a.chat, a.chatErr
}

func (a *stubAPI) GetChatMember(_ context.Context, _ *bot.GetChatMemberParams) (*models.ChatMember, error) {
	return a.member, a.memberErr
}

func (a *stubAPI) GetChatAdministrators(_ context.Context, _ *bot.GetChatAdministratorsParams) ([]models.ChatMember, error) {
	return a.admins, nil
}

func (a *stubAPI) lastReply(t *testing.T) reply {
	t.Helper()
	require.NotEmpty(t, a.replies)
	return a.replies[len(a.replies)-1]
}

type stubPuller struct {
	feed *feed.Feed
	err  error
}

func (p *stubPuller) Pull(context.Context, string) (*feed.Feed, error) {
	return p.feed, p.err
}

// member builds a ChatMember through its JSON form, the same way the
// API delivers it.
func member(t *testing.T, status string, userID int64) models.ChatMember {
	t.Helper()
	var m models.ChatMember
	raw := fmt.Sprintf(`{"status":%q,"user":{"id":%d,"is_bot":false,"first_name":"u"}}`, status, userID)
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func newTestHandler(t *testing.T, api *stubAPI, puller FeedPuller, cfg Config) (*Handler, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "rssbot.json"), slog.Default())
	require.NoError(t, err)
	return New(api, st, puller, cfg, slog.Default()), st
}

func privateMsg(text string) *models.Message {
	return &models.Message{
		ID:   1,
		Text: text,
		Chat: models.Chat{ID: 10, Type: "private"},
		From: &models.User{ID: 5},
	}
}

func TestMatchesCommand(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"/rss", true},
		{"/rss @chan", true},
		{"/rss@mybot", true},
		{"/rss@mybot @chan", true},
		{"/rssfoo", false},
		{"/rs", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchesCommand(tt.text, "/rss"), tt.text)
	}
}

func TestStart(t *testing.T) {
	api := &stubAPI{}
	h, _ := newTestHandler(t, api, &stubPuller{}, Config{})

	h.Start(context.Background(), privateMsg("/start"))
	assert.Contains(t, api.lastReply(t).text, "/sub")
}

func TestSubscribe(t *testing.T) {
	api := &stubAPI{}
	puller := &stubPuller{feed: &feed.Feed{Title: "Sample", Items: []feed.Item{{Title: "a", Link: "l"}}}}
	h, st := newTestHandler(t, api, puller, Config{})

	h.Subscribe(context.Background(), privateMsg("/sub https://example.com/feed"))

	require.Len(t, api.replies, 2)
	assert.Equal(t, reply{text: "Processing, please wait"}, api.replies[0])
	assert.Equal(t, reply{text: "<b>Sample</b> subscribed", edit: true}, api.replies[1])
	assert.True(t, st.IsSubscribed(10, "https://example.com/feed"))
}

func TestSubscribeTwice(t *testing.T) {
	api := &stubAPI{}
	puller := &stubPuller{feed: &feed.Feed{Title: "Sample"}}
	h, _ := newTestHandler(t, api, puller, Config{})

	msg := privateMsg("/sub https://example.com/feed")
	h.Subscribe(context.Background(), msg)
	h.Subscribe(context.Background(), msg)

	assert.Equal(t, "You are already subscribed to this feed", api.lastReply(t).text)
}

func TestSubscribeFetchError(t *testing.T) {
	api := &stubAPI{}
	puller := &stubPuller{err: errors.New("unexpected EOF while looking for feed element")}
	h, st := newTestHandler(t, api, puller, Config{})

	h.Subscribe(context.Background(), privateMsg("/sub https://example.com/feed"))

	assert.Contains(t, api.lastReply(t).text, "Subscription failed")
	assert.Contains(t, api.lastReply(t).text, "unexpected EOF")
	assert.False(t, st.IsSubscribed(10, "https://example.com/feed"))
}

func TestSubscribeWrongArgsIsSilent(t *testing.T) {
	api := &stubAPI{}
	h, _ := newTestHandler(t, api, &stubPuller{}, Config{})

	h.Subscribe(context.Background(), privateMsg("/sub"))
	assert.Empty(t, api.replies)
}

func TestUnsubscribe(t *testing.T) {
	api := &stubAPI{}
	puller := &stubPuller{feed: &feed.Feed{Title: "Sample"}}
	h, st := newTestHandler(t, api, puller, Config{})
	st.Subscribe(10, "https://example.com/feed", puller.feed)

	h.Unsubscribe(context.Background(), privateMsg("/unsub https://example.com/feed"))
	assert.Equal(t, "<b>Sample</b> unsubscribed", api.lastReply(t).text)
	assert.False(t, st.IsSubscribed(10, "https://example.com/feed"))

	h.Unsubscribe(context.Background(), privateMsg("/unsub https://example.com/feed"))
	assert.Equal(t, "You are not subscribed to this feed", api.lastReply(t).text)
}

func TestList(t *testing.T) {
	api := &stubAPI{}
	h, st := newTestHandler(t, api, &stubPuller{}, Config{})

	h.List(context.Background(), privateMsg("/rss"))
	assert.Equal(t, "Your subscription list is empty", api.lastReply(t).text)

	st.Subscribe(10, "https://example.com/feed", &feed.Feed{Title: "A & B"})
	h.List(context.Background(), privateMsg("/rss"))
	last := api.lastReply(t).text
	assert.True(t, strings.HasPrefix(last, "Subscriptions:\n"), last)
	assert.Contains(t, last, `<a href="https://example.com/feed">A &amp; B</a>`)
}

func TestExport(t *testing.T) {
	api := &stubAPI{}
	h, st := newTestHandler(t, api, &stubPuller{}, Config{})
	st.Subscribe(10, "https://example.com/feed", &feed.Feed{Title: "Sample"})

	h.Export(context.Background(), privateMsg("/export"))

	require.Len(t, api.documents, 1)
	assert.Contains(t, api.documents[0], `<outline type="rss" text="Sample" xmlUrl="https://example.com/feed">`)
}

func TestExportEmpty(t *testing.T) {
	api := &stubAPI{}
	h, _ := newTestHandler(t, api, &stubPuller{}, Config{})

	h.Export(context.Background(), privateMsg("/export"))
	assert.Empty(t, api.documents)
	assert.Equal(t, "Your subscription list is empty", api.lastReply(t).text)
}

func TestChannelTarget(t *testing.T) {
	const botID = 99
	channel := &models.ChatFullInfo{ID: -100200, Type: "channel"}

	tests := []struct {
		name      string
		chat      *models.ChatFullInfo
		chatErr   error
		admins    []models.ChatMember
		wantOK    bool
		wantReply string
	}{
		{
			name:   "user and bot are admins",
			chat:   channel,
			admins: []models.ChatMember{member(t, "creator", 5), member(t, "administrator", botID)},
			wantOK: true,
		},
		{
			name:      "not a channel",
			chat:      &models.ChatFullInfo{ID: -100200, Type: "supergroup"},
			wantReply: "The target must be a channel",
		},
		{
			name:      "user not admin",
			chat:      channel,
			admins:    []models.ChatMember{member(t, "administrator", botID)},
			wantReply: "Only channel administrators can use this command",
		},
		{
			name:      "bot not admin",
			chat:      channel,
			admins:    []models.ChatMember{member(t, "creator", 5)},
			wantReply: "Please promote this bot to channel administrator first",
		},
		{
			name:      "chat not found",
			chatErr:   errors.New("Bad Request: chat not found"),
			wantReply: "Unable to find the channel",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &stubAPI{chat: tt.chat, chatErr: tt.chatErr, admins: tt.admins}
			h, _ := newTestHandler(t, api, &stubPuller{}, Config{BotID: botID})

			msg := privateMsg("/rss @chan")
			id, ok := h.channelTarget(context.Background(), "@chan", h.respondTo(msg), 5)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, int64(-100200), id)
			} else {
				assert.Contains(t, api.lastReply(t).text, tt.wantReply)
			}
		})
	}
}

func TestListForChannel(t *testing.T) {
	api := &stubAPI{
		chat:   &models.ChatFullInfo{ID: -100200, Type: "channel"},
		admins: []models.ChatMember{member(t, "creator", 5), member(t, "administrator", 99)},
	}
	h, st := newTestHandler(t, api, &stubPuller{}, Config{BotID: 99})
	st.Subscribe(-100200, "https://example.com/feed", &feed.Feed{Title: "Sample"})

	h.List(context.Background(), privateMsg("/rss @chan"))
	assert.Contains(t, api.lastReply(t).text, "Sample")
}

func TestAllowedAdminList(t *testing.T) {
	api := &stubAPI{}
	h, _ := newTestHandler(t, api, &stubPuller{}, Config{Admins: []int64{42}})

	h.Start(context.Background(), privateMsg("/start"))
	assert.Empty(t, api.replies)

	msg := privateMsg("/start")
	msg.From.ID = 42
	h.Start(context.Background(), msg)
	assert.NotEmpty(t, api.replies)
}

func TestAllowedRestrictedGroup(t *testing.T) {
	groupMsg := func() *models.Message {
		return &models.Message{
			ID:   1,
			Text: "/rss",
			Chat: models.Chat{ID: -20, Type: "group"},
			From: &models.User{ID: 5},
		}
	}

	plain := member(t, "member", 5)
	api := &stubAPI{member: &plain}
	h, _ := newTestHandler(t, api, &stubPuller{}, Config{Restricted: true})
	h.List(context.Background(), groupMsg())
	assert.Empty(t, api.replies)

	admin := member(t, "administrator", 5)
	api = &stubAPI{member: &admin}
	h, _ = newTestHandler(t, api, &stubPuller{}, Config{Restricted: true})
	h.List(context.Background(), groupMsg())
	assert.NotEmpty(t, api.replies)
}
