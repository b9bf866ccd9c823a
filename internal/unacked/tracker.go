// Package unacked implements the time-wheel of in-flight message ids
// described in spec.md §4.4: a fixed-size ring of buckets advanced by a
// ticker, evicting a bucket's contents to a redelivery callback once its
// slot ages out past ack_timeout.
package unacked

import (
	"sync"
	"time"

	"github.com/downfa11-org/partition-consumer/internal/message"
)

// Tracker is the enabled time-wheel implementation.
type Tracker struct {
	mu      sync.Mutex
	buckets []map[message.Key]message.ID
	head    int

	tick     time.Duration
	onExpire func([]message.ID)

	stop chan struct{}
	once sync.Once
}

// numBuckets mirrors the teacher's ack_timeout/ack_timeout_tick ratio: one
// bucket per tick across the full timeout window, with a floor of 2 so a
// single add always has somewhere to age before eviction.
func numBuckets(ackTimeout, tick time.Duration) int {
	if tick <= 0 {
		return 2
	}
	n := int(ackTimeout / tick)
	if n < 2 {
		n = 2
	}
	return n
}

// New builds an enabled Tracker. onExpire is invoked with the ids evicted
// from the oldest bucket each time the ring advances; it must not block.
func New(ackTimeout, tick time.Duration, onExpire func([]message.ID)) *Tracker {
	if tick <= 0 {
		tick = ackTimeout
	}
	n := numBuckets(ackTimeout, tick)
	buckets := make([]map[message.Key]message.ID, n)
	for i := range buckets {
		buckets[i] = make(map[message.Key]message.ID)
	}

	t := &Tracker{
		buckets:  buckets,
		tick:     tick,
		onExpire: onExpire,
		stop:     make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *Tracker) run() {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.advance()
		case <-t.stop:
			return
		}
	}
}

func (t *Tracker) advance() {
	t.mu.Lock()
	// Move head to the oldest bucket, evict it, and reuse it as the new head;
	// ids added to a head bucket age for a full turn of the ring.
	t.head = (t.head + 1) % len(t.buckets)
	evicted := t.buckets[t.head]
	t.buckets[t.head] = make(map[message.Key]message.ID)
	t.mu.Unlock()

	if len(evicted) == 0 || t.onExpire == nil {
		return
	}
	ids := make([]message.ID, 0, len(evicted))
	for _, id := range evicted {
		ids = append(ids, id)
	}
	t.onExpire(ids)
}

// Add inserts id into the current head bucket.
func (t *Tracker) Add(id message.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buckets[t.head][id.Key()] = id
}

// Remove searches every bucket and deletes id on first hit. Returns whether
// it was found.
func (t *Tracker) Remove(id message.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := id.Key()
	for _, b := range t.buckets {
		if _, ok := b[key]; ok {
			delete(b, key)
			return true
		}
	}
	return false
}

// Clear empties every bucket.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.buckets {
		t.buckets[i] = make(map[message.Key]message.ID)
	}
}

// Close stops the ticker goroutine. Safe to call more than once.
func (t *Tracker) Close() {
	t.once.Do(func() { close(t.stop) })
}
