// Package scheduler drives the poll loop: every min-interval tick it
// queues all tracked feeds with their feed-declared interval, clamped to
// the configured bounds, and staggers the resulting fetches through a
// throttle so a large database does not burst.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"rssbot/internal/delivery"
	"rssbot/internal/feed"
	"rssbot/internal/observability/metrics"
	"rssbot/internal/store"
)

// downNoticeAfter is how long a feed must fail continuously before its
// subscribers are told.
const downNoticeAfter = 5 * 24 * time.Hour

// FeedPuller fetches and parses one feed.
type FeedPuller interface {
	Pull(ctx context.Context, url string) (*feed.Feed, error)
}

// Broadcaster fans messages out to subscribers.
type Broadcaster interface {
	Broadcast(ctx context.Context, subscribers []int64, messages []string)
}

// Config bounds the per-feed poll interval, both in seconds.
type Config struct {
	MinInterval uint32
	MaxInterval uint32
}

// Scheduler owns the poll loop. Run blocks until the context is done.
type Scheduler struct {
	store    *store.Store
	puller   FeedPuller
	pusher   Broadcaster
	cfg      Config
	logger   *slog.Logger
	queue    *fetchQueue
	throttle *throttle

	sleep func(ctx context.Context, d time.Duration) // test seam
	exit  func(code int)                             // test seam
}

func New(st *store.Store, puller FeedPuller, pusher Broadcaster, cfg Config, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    st,
		puller:   puller,
		pusher:   pusher,
		cfg:      cfg,
		logger:   logger,
		queue:    newFetchQueue(),
		throttle: newThrottle(int64(cfg.MinInterval)),
		sleep:    sleepCtx,
		exit:     os.Exit,
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

// Run ticks every MinInterval seconds, enqueueing all tracked feeds, and
// spawns a poll worker for every feed that comes due. The first tick
// fires immediately.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.cfg.MinInterval) * time.Second)
	defer ticker.Stop()
	defer s.queue.stop()

	s.enqueueAll()
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-s.queue.next():
			go s.pollGuarded(ctx, f)
		case <-ticker.C:
			s.enqueueAll()
		}
	}
}

func (s *Scheduler) enqueueAll() {
	for _, f := range s.store.AllFeeds() {
		s.queue.enqueue(f, s.feedDelay(f))
	}
}

// feedDelay clamps the feed-declared interval to the configured bounds.
// The final second is shaved off so the fetch lands just before the tick
// that would re-enqueue it.
func (s *Scheduler) feedDelay(f store.Feed) time.Duration {
	var secs uint32
	if f.TTL != nil {
		secs = *f.TTL * 60
	}
	if secs < s.cfg.MinInterval {
		secs = s.cfg.MinInterval
	}
	if secs > s.cfg.MaxInterval {
		secs = s.cfg.MaxInterval
	}
	return time.Duration(secs-1) * time.Second
}

// pollGuarded runs one poll worker and turns a panic into a clean
// process exit. A crashed worker goroutine would otherwise take the
// whole process down with the runtime's own exit status.
func (s *Scheduler) pollGuarded(ctx context.Context, f store.Feed) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("fatal panic",
				slog.String("goroutine", "poll worker"),
				slog.Any("panic", r))
			s.exit(101)
		}
	}()
	s.pollFeed(ctx, f)
}

// pollFeed fetches one feed, records the outcome and pushes any detected
// updates. The feed value is the state captured at enqueue time; the
// store remains the source of truth and a feed dropped in the meantime
// makes every store call a no-op.
func (s *Scheduler) pollFeed(ctx context.Context, f store.Feed) {
	delay, release := s.throttle.acquire()
	defer release()
	s.sleep(ctx, delay)
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	parsed, err := s.puller.Pull(ctx, f.Link)
	metrics.FeedPollDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FeedPollsTotal.WithLabelValues("failure").Inc()
		s.feedFailed(ctx, f, err)
		return
	}
	metrics.FeedPollsTotal.WithLabelValues("success").Inc()

	for _, update := range s.store.Update(f.Link, parsed) {
		switch u := update.(type) {
		case store.ItemsUpdate:
			head := "<b>" + delivery.EscapeHTML(f.Title) + "</b>"
			msgs := delivery.Split(head, u.Items, func(it feed.Item) string {
				title := it.Title
				if title == "" {
					title = f.Title
				}
				link := it.Link
				if link == "" {
					link = f.Link
				}
				return fmt.Sprintf("<a href=\"%s\">%s</a>",
					delivery.EscapeHTML(link), delivery.EscapeHTML(title))
			})
			s.pusher.Broadcast(ctx, f.Subscribers, msgs)
		case store.TitleUpdate:
			msg := fmt.Sprintf("<a href=\"%s\">%s</a> was renamed to %s",
				delivery.EscapeHTML(f.Link),
				delivery.EscapeHTML(f.Title),
				delivery.EscapeHTML(u.Title))
			s.pusher.Broadcast(ctx, f.Subscribers, []string{msg})
		}
	}
}

// feedFailed advances the failure clock and, once the feed has been down
// past the notice threshold, tells its subscribers and restarts the
// clock so the notice repeats at the same cadence.
func (s *Scheduler) feedFailed(ctx context.Context, f store.Feed, pullErr error) {
	elapsed, ok := s.store.GetOrUpdateDownTime(f.Link)
	if !ok {
		// Unsubscribed while the fetch was in flight.
		return
	}
	s.logger.Debug("feed poll failed",
		slog.String("link", f.Link),
		slog.Duration("down_for", elapsed),
		slog.Any("error", pullErr))
	if elapsed <= downNoticeAfter {
		return
	}
	s.store.ResetDownTime(f.Link)
	msg := fmt.Sprintf("<a href=\"%s\">%s</a> has been failing for more than 5 days: %s",
		delivery.EscapeHTML(f.Link),
		delivery.EscapeHTML(f.Title),
		delivery.EscapeHTML(pullErr.Error()))
	s.pusher.Broadcast(ctx, f.Subscribers, []string{msg})
}
