package pipeline

import (
	"sync"
	"time"
)

// ProcessingState tracks where a message id sits in its lifecycle.
type ProcessingState int

const (
	// StateQueued means the message was admitted and waits for its author slot.
	StateQueued ProcessingState = iota
	// StateProcessing means the message is being handled right now.
	StateProcessing
	// StateResponded means a reply was committed for the message.
	StateResponded
)

type processingRecord struct {
	firstSeenAt time.Time
	state       ProcessingState
}

// Ledger is the authoritative record of which inbound message ids have been
// admitted, are in flight, or have been responded to. All transitions for a
// given id form a single critical section under one mutex, so two concurrent
// deliveries of the same id always resolve to exactly one winner.
//
// Responded entries are retained for the dedup horizon so network-level
// redeliveries are rejected even after the in-flight marker is long gone.
type Ledger struct {
	mu      sync.Mutex
	horizon time.Duration
	entries map[string]*processingRecord
	now     func() time.Time
}

// NewLedger creates a dedup ledger with the given retention horizon.
func NewLedger(horizon time.Duration) *Ledger {
	if horizon <= 0 {
		horizon = 45 * time.Second
	}
	return &Ledger{
		horizon: horizon,
		entries: make(map[string]*processingRecord),
		now:     time.Now,
	}
}

// Begin claims the id for processing. It returns false when the id is already
// queued, in flight, or was responded to within the dedup horizon — exactly
// one concurrent caller can win the claim.
func (l *Ledger) Begin(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if rec, ok := l.entries[id]; ok {
		if rec.state != StateResponded || now.Sub(rec.firstSeenAt) <= l.horizon {
			return false
		}
		// A responded entry past the horizon that the sweeper hasn't
		// collected yet; treat the id as fresh.
	}

	l.entries[id] = &processingRecord{firstSeenAt: now, state: StateQueued}
	return true
}

// StartProcessing flips a queued id to in-flight.
func (l *Ledger) StartProcessing(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec, ok := l.entries[id]; ok && rec.state == StateQueued {
		rec.state = StateProcessing
	}
}

// MarkResponded commits the reply for the id. It reports whether this call
// performed the transition; at most one caller ever gets true per claim.
func (l *Ledger) MarkResponded(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.entries[id]
	if !ok || rec.state == StateResponded {
		return false
	}
	rec.state = StateResponded
	return true
}

// Release rolls the claim back entirely, allowing a redelivery of the id to
// retry. It is a no-op once the id has been responded to.
func (l *Ledger) Release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if rec, ok := l.entries[id]; ok && rec.state != StateResponded {
		delete(l.entries, id)
	}
}

// State reports the current lifecycle state of the id.
func (l *Ledger) State(id string) (ProcessingState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.entries[id]
	if !ok {
		return 0, false
	}
	return rec.state, true
}

// Sweep purges responded entries older than the dedup horizon. Queued and
// in-flight entries are never purged. Returns the number of entries removed.
func (l *Ledger) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for id, rec := range l.entries {
		if rec.state != StateResponded {
			continue
		}
		if now.Sub(rec.firstSeenAt) > l.horizon {
			delete(l.entries, id)
			removed++
		}
	}
	return removed
}
