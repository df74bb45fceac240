package scheduler

import (
	"sync"
	"time"

	"rssbot/internal/store"
)

// fetchQueue holds at most one pending fetch per feed. Enqueueing an
// already queued feed is refused, so a feed's effective interval is
// governed by the earliest enqueue after its last fetch.
type fetchQueue struct {
	mu      sync.Mutex
	pending map[uint64]*time.Timer
	due     chan store.Feed
	done    chan struct{}
}

func newFetchQueue() *fetchQueue {
	return &fetchQueue{
		pending: make(map[uint64]*time.Timer),
		due:     make(chan store.Feed),
		done:    make(chan struct{}),
	}
}

// enqueue schedules f after delay. Returns false when the feed is
// already queued.
func (q *fetchQueue) enqueue(f store.Feed, delay time.Duration) bool {
	id := store.FeedID(f.Link)

	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[id]; ok {
		return false
	}
	q.pending[id] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.pending, id)
		q.mu.Unlock()
		select {
		case q.due <- f:
		case <-q.done:
		}
	})
	return true
}

// next yields the feeds whose delay elapsed.
func (q *fetchQueue) next() <-chan store.Feed {
	return q.due
}

// stop cancels all pending timers and unblocks fired ones.
func (q *fetchQueue) stop() {
	q.mu.Lock()
	for id, t := range q.pending {
		t.Stop()
		delete(q.pending, id)
	}
	q.mu.Unlock()
	close(q.done)
}
