// Package broadcast stages fan-out messages and flushes them to every session
// on a fixed interval, with a richer variant for admin sessions.
package broadcast

import (
	"encoding/json"
	"sync"
)

// Queue buffers enriched messages between flushes. It is append-only between
// ticks and swapped out atomically when a flush drains it. When the cap is
// reached the oldest staged message is dropped, never the newest.
type Queue struct {
	mu      sync.Mutex
	limit   int
	items   []json.RawMessage
	dropped uint64
}

// NewQueue constructs a queue holding at most limit staged messages. A
// non-positive limit means unbounded.
func NewQueue(limit int) *Queue {
	return &Queue{limit: limit}
}

// Enqueue stages one payload for the next flush.
func (q *Queue) Enqueue(payload json.RawMessage) {
	if q == nil || len(payload) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && len(q.items) >= q.limit {
		over := len(q.items) - q.limit + 1
		q.items = q.items[over:]
		q.dropped += uint64(over)
	}
	q.items = append(q.items, payload)
}

// Drain swaps the staged messages for an empty slice and returns them in
// arrival order.
func (q *Queue) Drain() []json.RawMessage {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Len reports how many messages are currently staged.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped reports how many messages overflow has discarded since startup.
func (q *Queue) Dropped() uint64 {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
