// Package ring implements the bounded, most-recent-first in-memory log
// buffer and the live fan-out channel to subscribers described by the
// capture pipeline's data-flow contract.
package ring

import (
	"sync"

	"github.com/relaylens/captureproxy/internal/logrecord"
)

// DefaultCapacity is the ring size used when none is specified.
const DefaultCapacity = 2000

// subscriberQueueSize is the bound on each subscriber's outbound queue.
// When full, new records are dropped for that subscriber only.
const subscriberQueueSize = 256

// Buffer is a bounded circular log of LogRecords, with live fan-out to
// subscribers. All operations are safe for concurrent use. Internally it
// is a fixed-size slice written at an advancing index, so Push never
// shifts existing entries.
type Buffer struct {
	mu          sync.Mutex
	capacity    int
	slots       []*logrecord.LogRecord
	writeIdx    int
	count       int
	subscribers map[*Subscription]struct{}
}

// Subscription is a live listener registered via Subscribe. Receive from C
// to observe every subsequent Push; call Close when done.
type Subscription struct {
	C      <-chan *logrecord.LogRecord
	c      chan *logrecord.LogRecord
	buffer *Buffer
	once   sync.Once
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.buffer.unsubscribe(s)
		close(s.c)
	})
}

// New returns an empty Buffer with the given capacity. A capacity ≤ 0 uses
// DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		capacity:    capacity,
		slots:       make([]*logrecord.LogRecord, capacity),
		subscribers: make(map[*Subscription]struct{}),
	}
}

// Push writes record into the next slot, overwriting the oldest entry once
// the buffer is full, and broadcasts it to every live subscriber. The write
// is O(1): no existing entry is ever shifted. The broadcast visits each
// subscriber once, under the buffer's lock so that a concurrent Close cannot
// close a channel mid-send. Broadcast never blocks: a subscriber whose queue
// is full simply misses this record.
func (b *Buffer) Push(record *logrecord.LogRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.slots[b.writeIdx] = record
	b.writeIdx = (b.writeIdx + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}

	for s := range b.subscribers {
		select {
		case s.c <- record:
		default:
			// slow consumer: drop for this subscriber only
		}
	}
}

// Snapshot returns a shallow copy of the first min(limit, len) records,
// newest first. A limit ≤ 0 returns every record currently held.
func (b *Buffer) Snapshot(limit int) []*logrecord.LogRecord {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*logrecord.LogRecord, n)
	idx := (b.writeIdx - 1 + b.capacity) % b.capacity
	for i := 0; i < n; i++ {
		out[i] = b.slots[idx]
		idx = (idx - 1 + b.capacity) % b.capacity
	}
	return out
}

// Clear drops every record currently held. Subscribers are unaffected.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.slots = make([]*logrecord.LogRecord, b.capacity)
	b.writeIdx = 0
	b.count = 0
}

// Len reports how many records are currently held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Subscribe registers a new live listener and returns its Subscription.
func (b *Buffer) Subscribe() *Subscription {
	c := make(chan *logrecord.LogRecord, subscriberQueueSize)
	sub := &Subscription{C: c, c: c, buffer: b}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Buffer) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subscribers, sub)
	b.mu.Unlock()
}

// SubscriberCount reports the number of currently registered subscribers.
// Exposed for tests and diagnostics.
func (b *Buffer) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
