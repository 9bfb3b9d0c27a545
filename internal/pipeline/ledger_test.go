package pipeline

import (
	"sync"
	"testing"
	"time"
)

func TestLedgerExactlyOneWinner(t *testing.T) {
	t.Parallel()

	ledger := NewLedger(45 * time.Second)

	const concurrency = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ledger.Begin("msg-1") {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("Begin winners = %d, want exactly 1", winners)
	}
}

func TestLedgerRespondedRejectsWithinHorizon(t *testing.T) {
	t.Parallel()

	ledger := NewLedger(45 * time.Second)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return now }

	if !ledger.Begin("msg-1") {
		t.Fatal("first Begin rejected")
	}
	ledger.StartProcessing("msg-1")
	if !ledger.MarkResponded("msg-1") {
		t.Fatal("MarkResponded did not commit")
	}

	// Redelivery 30s later: still inside the horizon, rejected.
	now = now.Add(30 * time.Second)
	if ledger.Begin("msg-1") {
		t.Error("redelivery within horizon was admitted")
	}

	// Past the horizon the id is fresh again.
	now = now.Add(60 * time.Second)
	if !ledger.Begin("msg-1") {
		t.Error("id not admitted after horizon elapsed")
	}
}

func TestLedgerReleaseAllowsRetry(t *testing.T) {
	t.Parallel()

	ledger := NewLedger(45 * time.Second)

	if !ledger.Begin("msg-1") {
		t.Fatal("first Begin rejected")
	}
	ledger.StartProcessing("msg-1")
	ledger.Release("msg-1")

	if !ledger.Begin("msg-1") {
		t.Error("id not admitted after rollback")
	}
}

func TestLedgerReleaseAfterRespondIsNoop(t *testing.T) {
	t.Parallel()

	ledger := NewLedger(45 * time.Second)

	ledger.Begin("msg-1")
	ledger.MarkResponded("msg-1")
	ledger.Release("msg-1")

	if ledger.Begin("msg-1") {
		t.Error("responded id was admitted after a late Release")
	}
}

func TestLedgerSweepKeepsInFlight(t *testing.T) {
	t.Parallel()

	ledger := NewLedger(45 * time.Second)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ledger.now = func() time.Time { return now }

	ledger.Begin("queued")
	ledger.Begin("in-flight")
	ledger.StartProcessing("in-flight")
	ledger.Begin("answered")
	ledger.MarkResponded("answered")

	now = now.Add(2 * time.Minute)
	if removed := ledger.Sweep(); removed != 1 {
		t.Fatalf("Sweep removed %d entries, want 1", removed)
	}

	if _, ok := ledger.State("queued"); !ok {
		t.Error("queued entry was swept")
	}
	if _, ok := ledger.State("in-flight"); !ok {
		t.Error("in-flight entry was swept")
	}
	if _, ok := ledger.State("answered"); ok {
		t.Error("expired responded entry survived sweep")
	}

	// A redelivery of a queued id must still lose while the first copy
	// waits for its author slot, however old the claim is.
	if ledger.Begin("queued") {
		t.Error("redelivery claimed an id whose first copy is still queued")
	}
}
