// Package store keeps the feed/subscriber graph in memory and mirrors it
// to a single JSON snapshot on disk. Two indexes are maintained together:
// feeds by 64-bit id and subscribed feed ids by chat id. Every mutation
// happens under one mutex; the snapshot is the only durability primitive.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"rssbot/internal/feed"
	"rssbot/internal/observability/metrics"
)

// Feed is the stored state of one tracked feed. It doubles as the
// snapshot representation; the subscriber list is serialised as a JSON
// array.
type Feed struct {
	Link        string   `json:"link"`
	Title       string   `json:"title"`
	DownTime    *int64   `json:"down_time,omitempty"`
	Subscribers []int64  `json:"subscribers"`
	TTL         *uint32  `json:"ttl,omitempty"`
	HashList    []uint64 `json:"hash_list"`
}

// Update is a detected feed change, either new items or a new title.
type Update interface{ feedUpdate() }

// ItemsUpdate carries the new items of a poll in source order.
type ItemsUpdate struct {
	Items []feed.Item
}

// TitleUpdate carries a changed feed title.
type TitleUpdate struct {
	Title string
}

func (ItemsUpdate) feedUpdate() {}
func (TitleUpdate) feedUpdate() {}

type record struct {
	link        string
	title       string
	downTime    time.Time // zero when healthy
	ttl         *uint32
	hashList    []uint64
	subscribers map[int64]struct{}
}

// Store is the in-memory database. Safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger

	feeds       map[uint64]*record
	subscribers map[int64]map[uint64]struct{}

	now func() time.Time // test seam
}

// FeedID derives a feed's identity from its link.
func FeedID(link string) uint64 {
	return xxhash.Sum64String(link)
}

func itemHash(it feed.Item) uint64 {
	if it.ID != "" {
		return xxhash.Sum64String(it.ID)
	}
	return xxhash.Sum64String(it.Title + it.Link)
}

// Open loads the snapshot at path, creating an empty one when the file
// does not exist. Feeds without subscribers are dropped on load.
func Open(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		path:        path,
		logger:      logger,
		feeds:       make(map[uint64]*record),
		subscribers: make(map[int64]map[uint64]struct{}),
		now:         time.Now,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := s.save(); err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var snapshot []Feed
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	for _, f := range snapshot {
		if len(f.Subscribers) == 0 {
			continue
		}
		id := FeedID(f.Link)
		rec := &record{
			link:        f.Link,
			title:       f.Title,
			ttl:         f.TTL,
			hashList:    f.HashList,
			subscribers: make(map[int64]struct{}, len(f.Subscribers)),
		}
		if f.DownTime != nil {
			rec.downTime = time.Unix(*f.DownTime, 0)
		}
		for _, sub := range f.Subscribers {
			rec.subscribers[sub] = struct{}{}
			set, ok := s.subscribers[sub]
			if !ok {
				set = make(map[uint64]struct{})
				s.subscribers[sub] = set
			}
			set[id] = struct{}{}
		}
		s.feeds[id] = rec
	}
	s.updateGauges()
	return s, nil
}

// AllFeeds returns a copy of every tracked feed.
func (s *Store) AllFeeds() []Feed {
	s.mu.Lock()
	defer s.mu.Unlock()

	feeds := make([]Feed, 0, len(s.feeds))
	for _, rec := range s.feeds {
		feeds = append(feeds, rec.snapshot())
	}
	return feeds
}

// AllSubscribers returns every chat id with at least one subscription.
func (s *Store) AllSubscribers() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := make([]int64, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	return subs
}

// SubscribedFeeds returns copies of the feeds a subscriber follows, or
// nil when the subscriber is unknown.
func (s *Store) SubscribedFeeds(subscriber int64) []Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribedFeedsLocked(subscriber)
}

func (s *Store) subscribedFeedsLocked(subscriber int64) []Feed {
	set, ok := s.subscribers[subscriber]
	if !ok {
		return nil
	}
	feeds := make([]Feed, 0, len(set))
	for id := range set {
		if rec, ok := s.feeds[id]; ok {
			feeds = append(feeds, rec.snapshot())
		}
	}
	return feeds
}

// IsSubscribed reports whether the subscriber follows the feed at link.
func (s *Store) IsSubscribed(subscriber int64, link string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.subscribers[subscriber]
	if !ok {
		return false
	}
	_, ok = set[FeedID(link)]
	return ok
}

// Subscribe adds the subscriber to the feed at link, creating the feed
// from f when it is not tracked yet. The current items seed the hash
// window so old entries are not announced. Returns false when the
// subscription already existed.
func (s *Store) Subscribe(subscriber int64, link string, f *feed.Feed) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := FeedID(link)
	set, ok := s.subscribers[subscriber]
	if !ok {
		set = make(map[uint64]struct{})
		s.subscribers[subscriber] = set
	}
	if _, ok := set[id]; ok {
		return false
	}
	set[id] = struct{}{}

	rec, ok := s.feeds[id]
	if !ok {
		hashes := make([]uint64, 0, len(f.Items))
		for _, it := range f.Items {
			hashes = append(hashes, itemHash(it))
		}
		rec = &record{
			link:        link,
			title:       f.Title,
			ttl:         f.TTL,
			hashList:    hashes,
			subscribers: make(map[int64]struct{}),
		}
		s.feeds[id] = rec
	}
	rec.subscribers[subscriber] = struct{}{}

	s.saveLocked()
	return true
}

// Unsubscribe removes the subscription and returns a copy of the feed as
// it was tracked. The feed itself is dropped when its last subscriber
// leaves. ok is false when no such subscription existed.
func (s *Store) Unsubscribe(subscriber int64, link string) (Feed, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribeLocked(subscriber, FeedID(link))
}

func (s *Store) unsubscribeLocked(subscriber int64, id uint64) (Feed, bool) {
	set, ok := s.subscribers[subscriber]
	if !ok {
		return Feed{}, false
	}
	if _, ok := set[id]; !ok {
		return Feed{}, false
	}
	delete(set, id)
	if len(set) == 0 {
		delete(s.subscribers, subscriber)
	}

	rec, ok := s.feeds[id]
	if !ok {
		return Feed{}, false
	}
	delete(rec.subscribers, subscriber)
	result := rec.snapshot()
	if len(rec.subscribers) == 0 {
		delete(s.feeds, id)
	}

	s.saveLocked()
	return result, true
}

// DeleteSubscriber drops every subscription of the given chat.
func (s *Store) DeleteSubscriber(subscriber int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.subscribers[subscriber]
	if !ok {
		return
	}
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	for _, id := range ids {
		s.unsubscribeLocked(subscriber, id)
	}
}

// UpdateSubscriber retargets every subscription of from onto to. Used
// when Telegram migrates a group to a supergroup. Existing subscriptions
// of to are kept (the sets are merged). Not snapshotted on its own; the
// next mutation persists the change.
func (s *Store) UpdateSubscriber(from, to int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.subscribers[from]
	if !ok {
		return
	}
	delete(s.subscribers, from)

	target, ok := s.subscribers[to]
	if !ok {
		target = make(map[uint64]struct{}, len(set))
		s.subscribers[to] = target
	}
	for id := range set {
		target[id] = struct{}{}
		if rec, ok := s.feeds[id]; ok {
			delete(rec.subscribers, from)
			rec.subscribers[to] = struct{}{}
		}
	}
	s.updateGauges()
}

// GetOrUpdateDownTime marks the feed as failing and reports how long it
// has been failing. The first failure starts the clock and reports zero.
// ok is false when the feed is not tracked.
func (s *Store) GetOrUpdateDownTime(link string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.feeds[FeedID(link)]
	if !ok {
		return 0, false
	}
	now := s.now()
	if rec.downTime.IsZero() {
		rec.downTime = now
		return 0, true
	}
	elapsed := now.Sub(rec.downTime)
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed, true
}

// ResetDownTime clears the failure clock of the feed at link.
func (s *Store) ResetDownTime(link string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.feeds[FeedID(link)]; ok {
		rec.downTime = time.Time{}
	}
}

// Update diffs a freshly fetched feed against the tracked state and
// returns the detected changes: an ItemsUpdate with the unseen items,
// then a TitleUpdate when the title moved. The hash window keeps at most
// twice the fetched item count. The ttl is always taken from the fetch
// and the failure clock is cleared. A snapshot is written only when an
// update was detected. An untracked link is a silent no-op.
func (s *Store) Update(link string, f *feed.Feed) []Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.feeds[FeedID(link)]
	if !ok {
		return nil
	}
	rec.downTime = time.Time{}

	var updates []Update
	var newItems []feed.Item
	var newHashes []uint64
	for _, it := range f.Items {
		h := itemHash(it)
		if !slices.Contains(rec.hashList, h) {
			newHashes = append(newHashes, h)
			newItems = append(newItems, it)
		}
	}
	if len(newItems) > 0 {
		updates = append(updates, ItemsUpdate{Items: newItems})

		keep := 2*len(f.Items) - len(newHashes)
		if keep > len(rec.hashList) {
			keep = len(rec.hashList)
		}
		if keep < 0 {
			keep = 0
		}
		rec.hashList = append(newHashes, rec.hashList[:keep]...)
		metrics.FeedUpdatesTotal.WithLabelValues("items").Inc()
	}
	if f.Title != rec.title {
		updates = append(updates, TitleUpdate{Title: f.Title})
		rec.title = f.Title
		metrics.FeedUpdatesTotal.WithLabelValues("title").Inc()
	}
	rec.ttl = f.TTL

	if len(updates) > 0 {
		s.saveLocked()
	}
	return updates
}

// Save writes the snapshot.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// saveLocked persists after a mutation. Errors are logged and swallowed;
// the in-memory state stays authoritative and the next successful save
// catches up.
func (s *Store) saveLocked() {
	s.updateGauges()
	if err := s.save(); err != nil {
		metrics.SnapshotErrors.Inc()
		s.logger.Error("snapshot write failed",
			slog.String("path", s.path),
			slog.Any("error", err))
	}
}

// save writes the feed list as JSON via a temp file and rename, so a
// crash mid-write never truncates the previous snapshot.
func (s *Store) save() error {
	feeds := make([]Feed, 0, len(s.feeds))
	for _, rec := range s.feeds {
		feeds = append(feeds, rec.snapshot())
	}
	data, err := json.Marshal(feeds)
	if err != nil {
		return fmt.Errorf("save store: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".rssbot-*.json")
	if err != nil {
		return fmt.Errorf("save store: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save store: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save store: %w", err)
	}
	return nil
}

func (s *Store) updateGauges() {
	metrics.FeedsTracked.Set(float64(len(s.feeds)))
	metrics.SubscribersTracked.Set(float64(len(s.subscribers)))
}

func (r *record) snapshot() Feed {
	f := Feed{
		Link:        r.link,
		Title:       r.title,
		TTL:         r.ttl,
		Subscribers: make([]int64, 0, len(r.subscribers)),
		HashList:    append([]uint64(nil), r.hashList...),
	}
	if !r.downTime.IsZero() {
		t := r.downTime.Unix()
		f.DownTime = &t
	}
	for sub := range r.subscribers {
		f.Subscribers = append(f.Subscribers, sub)
	}
	return f
}
