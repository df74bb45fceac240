package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/go-telegram/bot"

	"rssbot/internal/config"
	"rssbot/internal/delivery"
	"rssbot/internal/fetcher"
	"rssbot/internal/gardener"
	"rssbot/internal/handler"
	"rssbot/internal/observability/logging"
	"rssbot/internal/scheduler"
	"rssbot/internal/store"
)

const version = "1.0.0"

// telegramMsgPerSec is the global outgoing-message pacing; the Bot API
// allows roughly 30 messages per second across all chats.
const telegramMsgPerSec = 30

func main() {
	cfg, err := config.Parse(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := logging.NewLogger()
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open database",
			slog.String("path", cfg.Database),
			slog.Any("error", err))
		os.Exit(1)
	}

	b, err := bot.New(cfg.Token, botOptions(cfg)...)
	if err != nil {
		logger.Error("failed to build bot client", slog.Any("error", err))
		os.Exit(1)
	}
	me, err := b.GetMe(ctx)
	if err != nil {
		logger.Error("initialization failed, check your network and Telegram token",
			slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("bot started",
		slog.String("username", me.Username),
		slog.Int64("id", me.ID),
		slog.String("version", version))

	pull := fetcher.New(fetcher.Config{
		UserAgent:   fmt.Sprintf("rssbot/%s (+https://t.me/%s)", version, me.Username),
		MaxFeedSize: cfg.MaxFeedSize,
		Insecure:    cfg.Insecure,
	})
	pusher := delivery.New(b, st, telegramMsgPerSec, logger)

	sched := scheduler.New(st, pull, pusher, scheduler.Config{
		MinInterval: cfg.MinInterval,
		MaxInterval: cfg.MaxInterval,
	}, logger)
	go guard(logger, "scheduler", func() { sched.Run(ctx) })

	stopGardener := gardener.New(gardener.NewTelegramAPI(b, me.ID), st, logger).Start(ctx)
	defer stopGardener()

	handler.New(b, st, pull, handler.Config{
		BotID:      me.ID,
		Admins:     cfg.Admins,
		Restricted: cfg.Restricted,
	}, logger).Register(b)

	if cfg.MetricsAddr != "" {
		startMetricsServer(ctx, cfg.MetricsAddr, logger)
	}

	b.Start(ctx)

	if err := st.Save(); err != nil {
		logger.Error("final snapshot failed", slog.Any("error", err))
	}
	logger.Info("shut down")
}

func botOptions(cfg *config.Config) []bot.Option {
	var opts []bot.Option
	if cfg.APIURI != "https://api.telegram.org/" {
		opts = append(opts, bot.WithServerURL(strings.TrimSuffix(cfg.APIURI, "/")))
	}
	return opts
}

// guard runs fn and turns a panic into a clean process exit. A dead
// scheduler would leave the bot answering commands but never polling;
// crashing loudly lets the supervisor restart it.
func guard(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("fatal panic",
				slog.String("goroutine", name),
				slog.Any("panic", r))
			os.Exit(101)
		}
	}()
	fn()
}
