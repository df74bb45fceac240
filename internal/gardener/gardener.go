// Package gardener periodically prunes subscribers the bot can no longer
// deliver to: chats it was removed from, deleted chats, and channels
// where it lost its posting rights.
package gardener

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"rssbot/internal/botutil"
	"rssbot/internal/observability/metrics"
)

// sweepConcurrency bounds parallel getChat probes per sweep.
const sweepConcurrency = 8

// ChatKind is the coarse chat classification from getChat.
type ChatKind string

const (
	KindPrivate    ChatKind = "private"
	KindGroup      ChatKind = "group"
	KindSupergroup ChatKind = "supergroup"
	KindChannel    ChatKind = "channel"
)

// MemberStatus is the bot's own membership status in a chat.
type MemberStatus string

const (
	StatusMember MemberStatus = "member"
	StatusLeft   MemberStatus = "left"
	StatusKicked MemberStatus = "kicked"
	StatusOther  MemberStatus = "other"
)

// ChatAPI is the Telegram probe surface the gardener needs.
type ChatAPI interface {
	ChatKind(ctx context.Context, chatID int64) (ChatKind, error)
	BotMembership(ctx context.Context, chatID int64) (MemberStatus, error)
}

// Store is the subscriber surface the gardener mutates.
type Store interface {
	AllSubscribers() []int64
	DeleteSubscriber(subscriber int64)
}

// Gardener owns the daily sweep.
type Gardener struct {
	api    ChatAPI
	store  Store
	logger *slog.Logger
}

func New(api ChatAPI, store Store, logger *slog.Logger) *Gardener {
	return &Gardener{api: api, store: store, logger: logger}
}

// Start runs one sweep right away, schedules one every 24 hours and
// returns a stop function.
func (g *Gardener) Start(ctx context.Context) func() {
	go g.Sweep(ctx)
	c := cron.New()
	_, err := c.AddFunc("@every 24h", func() { g.Sweep(ctx) })
	if err != nil {
		// The expression is constant; this cannot fail at runtime.
		panic(err)
	}
	c.Start()
	return func() { c.Stop() }
}

// Sweep probes every subscriber once, with bounded concurrency, and
// deletes the unreachable ones. Probe errors that do not clearly mean
// the chat is gone are logged and the subscriber is kept.
func (g *Gardener) Sweep(ctx context.Context) {
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(sweepConcurrency)
	for _, subscriber := range g.store.AllSubscribers() {
		eg.Go(func() error {
			g.check(ctx, subscriber)
			return nil
		})
	}
	_ = eg.Wait()
}

func (g *Gardener) check(ctx context.Context, subscriber int64) {
	kind, err := g.api.ChatKind(ctx, subscriber)
	if err != nil {
		g.probeFailed(subscriber, err)
		return
	}
	if kind == KindPrivate {
		return
	}

	status, err := g.api.BotMembership(ctx, subscriber)
	if err != nil {
		g.probeFailed(subscriber, err)
		return
	}
	switch {
	case status == StatusLeft || status == StatusKicked:
		g.prune(subscriber, "bot removed from chat")
	case status == StatusMember && kind == KindChannel:
		// A channel needs the bot as admin to post.
		g.prune(subscriber, "bot lost channel admin rights")
	}
}

func (g *Gardener) probeFailed(subscriber int64, err error) {
	if botutil.ChatIsUnavailable(err) {
		g.prune(subscriber, "chat unavailable")
		return
	}
	g.logger.Warn("subscriber probe failed",
		slog.Int64("chat_id", subscriber),
		slog.Any("error", err))
}

func (g *Gardener) prune(subscriber int64, reason string) {
	g.logger.Info("pruning subscriber",
		slog.Int64("chat_id", subscriber),
		slog.String("reason", reason))
	g.store.DeleteSubscriber(subscriber)
	metrics.SubscribersPruned.WithLabelValues("gardener").Inc()
}
