// Package metrics provides centralized Prometheus metrics for the bot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Polling metrics track the feed fetch loop
var (
	// FeedPollsTotal counts poll attempts by result
	FeedPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rssbot_feed_polls_total",
			Help: "Total number of feed poll attempts",
		},
		[]string{"result"}, // result: success, failure
	)

	// FeedPollDuration measures the time a full poll takes, fetch included
	FeedPollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rssbot_feed_poll_duration_seconds",
			Help:    "Time taken to fetch and diff one feed",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	// FeedUpdatesTotal counts detected feed changes by kind
	FeedUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rssbot_feed_updates_total",
			Help: "Total number of detected feed updates",
		},
		[]string{"kind"}, // kind: items, title
	)
)

// Delivery metrics track the Telegram send path
var (
	// MessagesSentTotal counts messages pushed to Telegram by result
	MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rssbot_messages_sent_total",
			Help: "Total number of messages sent to subscribers",
		},
		[]string{"result"}, // result: success, failure, dropped_chat
	)

	// SubscribersPruned counts subscribers removed by the gardener or
	// by delivery errors
	SubscribersPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rssbot_subscribers_pruned_total",
			Help: "Total number of subscribers removed",
		},
		[]string{"reason"}, // reason: delivery, gardener
	)
)

// Store metrics expose the size of the in-memory graph
var (
	// FeedsTracked is the number of feeds with at least one subscriber
	FeedsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rssbot_feeds_tracked",
			Help: "Number of feeds currently tracked",
		},
	)

	// SubscribersTracked is the number of chats with at least one feed
	SubscribersTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rssbot_subscribers_tracked",
			Help: "Number of subscribers currently tracked",
		},
	)

	// SnapshotErrors counts failed snapshot writes
	SnapshotErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rssbot_snapshot_errors_total",
			Help: "Total number of failed database snapshot writes",
		},
	)
)
