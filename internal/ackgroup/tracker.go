// Package ackgroup implements the Ack Grouping Tracker: it batches
// acknowledgments over a configurable time window and deduplicates message
// ids so a redelivery racing with an in-flight ack doesn't get delivered
// twice to the application.
package ackgroup

import (
	"sync"
	"time"

	"github.com/downfa11-org/partition-consumer/internal/message"
)

// AckType distinguishes an individual ack from a cumulative one.
type AckType int

const (
	Individual AckType = iota
	Cumulative
)

// FlushFunc sends a batched ack frame to the broker. It returns false if the
// connection was not Ready or the send failed; the tracker keeps the ack
// buffered for the next flush attempt in that case (spec.md §4.3).
type FlushFunc func(ackType AckType, ids []message.ID) bool

// Tracker is satisfied by both Persistent and NonPersistent.
type Tracker interface {
	Add(id message.ID, ackType AckType)
	IsDuplicate(id message.ID) bool
	Close()
}

// dedupTTL bounds how long an acked id is remembered for duplicate
// detection; past this the unacked tracker and the broker's own redelivery
// semantics are the backstop, not this set.
const dedupTTL = 2 * time.Minute

// Persistent batches cumulative and individual acks over window and flushes
// either when the window elapses or the individual buffer overflows
// maxBuffered.
type Persistent struct {
	mu sync.Mutex

	window      time.Duration
	maxBuffered int
	flush       FlushFunc

	pendingIndividual []message.ID
	pendingCumulative *message.ID

	dedup map[message.Key]time.Time

	stop chan struct{}
	once sync.Once
}

// NewPersistent builds a Persistent tracker and starts its flush ticker.
func NewPersistent(window time.Duration, maxBuffered int, flush FlushFunc) *Persistent {
	if maxBuffered <= 0 {
		maxBuffered = 1000
	}
	p := &Persistent{
		window:      window,
		maxBuffered: maxBuffered,
		flush:       flush,
		dedup:       make(map[message.Key]time.Time),
		stop:        make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Persistent) run() {
	if p.window <= 0 {
		p.window = 100 * time.Millisecond
	}
	ticker := time.NewTicker(p.window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.flushAll()
			p.evictExpired()
		case <-p.stop:
			return
		}
	}
}

// Add records id for the next flush and marks it in the duplicate set.
func (p *Persistent) Add(id message.ID, ackType AckType) {
	p.mu.Lock()
	p.dedup[id.Key()] = time.Now()

	switch ackType {
	case Cumulative:
		idCopy := id
		p.pendingCumulative = &idCopy
	default:
		p.pendingIndividual = append(p.pendingIndividual, id)
	}

	overflow := len(p.pendingIndividual) >= p.maxBuffered
	p.mu.Unlock()

	if overflow {
		p.flushAll()
	}
}

// IsDuplicate reports whether id was acked within the dedup window.
func (p *Persistent) IsDuplicate(id message.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	ackedAt, ok := p.dedup[id.Key()]
	if !ok {
		return false
	}
	return time.Since(ackedAt) < dedupTTL
}

func (p *Persistent) flushAll() {
	p.mu.Lock()
	individual := p.pendingIndividual
	cumulative := p.pendingCumulative
	p.mu.Unlock()

	if len(individual) > 0 {
		if p.flush(Individual, individual) {
			p.mu.Lock()
			// Only drop the ids this flush actually covered; Add may have
			// appended more concurrently with the flush.
			if len(p.pendingIndividual) >= len(individual) {
				p.pendingIndividual = append([]message.ID(nil), p.pendingIndividual[len(individual):]...)
			}
			p.mu.Unlock()
		}
	}

	if cumulative != nil {
		if p.flush(Cumulative, []message.ID{*cumulative}) {
			p.mu.Lock()
			if p.pendingCumulative != nil && p.pendingCumulative.Key() == cumulative.Key() {
				p.pendingCumulative = nil
			}
			p.mu.Unlock()
		}
	}
}

func (p *Persistent) evictExpired() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for key, t := range p.dedup {
		if now.Sub(t) >= dedupTTL {
			delete(p.dedup, key)
		}
	}
}

// Close stops the flush ticker. Safe to call more than once.
func (p *Persistent) Close() {
	p.once.Do(func() { close(p.stop) })
}

// NonPersistent is the no-op variant: acks are never sent to the broker, and
// nothing is ever reported as a duplicate.
type NonPersistent struct{}

func (NonPersistent) Add(message.ID, AckType)     {}
func (NonPersistent) IsDuplicate(message.ID) bool { return false }
func (NonPersistent) Close()                      {}

var (
	_ Tracker = (*Persistent)(nil)
	_ Tracker = NonPersistent{}
)
