package violation

import (
	"context"
	"testing"
	"time"

	"github.com/edgard/wardenbot/internal/database"
)

func newTestEngine(t *testing.T) (*Engine, *time.Time) {
	t.Helper()

	db, err := database.NewDB(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	store := database.NewStore(db, nil)
	engine := NewEngine(store, nil)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return now }
	return engine, &now
}

func record(t *testing.T, e *Engine, identity string, src Source) *Outcome {
	t.Helper()
	out, err := e.RecordViolation(context.Background(), identity, []string{"badword"}, "…badword…", src)
	if err != nil {
		t.Fatalf("RecordViolation returned error: %v", err)
	}
	return out
}

func TestEscalationDeterminism(t *testing.T) {
	engine, now := newTestEngine(t)
	src := ChatSource("guild-1")

	// First cycle: warning(1) -> warning(2) -> banned(30 days).
	for i, want := range []int{1, 2} {
		out := record(t, engine, "alice", src)
		if out.Action != ActionWarning || out.WarningCount != want {
			t.Fatalf("violation %d: got action=%s count=%d, want warning %d", i+1, out.Action, out.WarningCount, want)
		}
	}
	out := record(t, engine, "alice", src)
	if out.Action != ActionBanned {
		t.Fatalf("third violation: action = %s, want banned", out.Action)
	}
	if got, want := out.BanExpiresAt, now.Add(30*24*time.Hour); !got.Equal(want) {
		t.Errorf("first ban expiry = %v, want %v", got, want)
	}

	// Violation during the active ban reports existing expiry, no new window.
	during := record(t, engine, "alice", src)
	if during.Action != ActionBanned || !during.BanExpiresAt.Equal(out.BanExpiresAt) {
		t.Fatalf("violation during ban: got action=%s expiry=%v, want banned with unchanged expiry", during.Action, during.BanExpiresAt)
	}

	// Second cycle after expiry: post-ban reset, then tier-2 ban of 50 days.
	*now = now.Add(31 * 24 * time.Hour)
	reset := record(t, engine, "alice", src)
	if reset.Action != ActionWarning || reset.WarningCount != 1 || !reset.PostBanReset {
		t.Fatalf("post-ban violation: got %+v, want post-ban warning count 1", reset)
	}
	record(t, engine, "alice", src) // warning 2
	secondBan := record(t, engine, "alice", src)
	if secondBan.Action != ActionBanned {
		t.Fatalf("second cycle: action = %s, want banned", secondBan.Action)
	}
	if got, want := secondBan.BanExpiresAt, now.Add(50*24*time.Hour); !got.Equal(want) {
		t.Errorf("second ban expiry = %v, want %v", got, want)
	}

	// Third cycle: permanent.
	*now = now.Add(51 * 24 * time.Hour)
	record(t, engine, "alice", src) // post-ban reset warning 1
	record(t, engine, "alice", src) // warning 2
	perm := record(t, engine, "alice", src)
	if perm.Action != ActionPermanentBan {
		t.Fatalf("third cycle: action = %s, want permanent_ban", perm.Action)
	}

	// Permanent ban is terminal: further violations are no-ops.
	after := record(t, engine, "alice", src)
	if after.Action != ActionPermanentBan {
		t.Fatalf("violation after permanent ban: action = %s, want permanent_ban", after.Action)
	}

	status, err := engine.Status(context.Background(), "alice", src)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if !status.Blocked || !status.Permanent {
		t.Errorf("status after permanent ban = %+v, want blocked permanent", status)
	}
}

func TestPostBanReset(t *testing.T) {
	engine, now := newTestEngine(t)
	src := ForumSource()

	for i := 0; i < 3; i++ {
		record(t, engine, "bob", src)
	}

	status, err := engine.Status(context.Background(), "bob", src)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if !status.Blocked || status.Permanent {
		t.Fatalf("status after three violations = %+v, want timed ban", status)
	}

	*now = status.ExpiresAt.Add(time.Hour)

	out := record(t, engine, "bob", src)
	if out.Action != ActionWarning || out.WarningCount != 1 || !out.PostBanReset {
		t.Fatalf("post-expiry violation = %+v, want warning count reset to 1", out)
	}

	status, err = engine.Status(context.Background(), "bob", src)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if status.Blocked {
		t.Errorf("status after post-ban reset = %+v, want not blocked", status)
	}
}

func TestKeyspacesAreIndependent(t *testing.T) {
	engine, _ := newTestEngine(t)

	chat := ChatSource("guild-1")
	record(t, engine, "carol", chat)
	record(t, engine, "carol", chat)

	// The same username starting fresh on the global keyspace.
	out := record(t, engine, "carol", ForumSource())
	if out.Action != ActionWarning || out.WarningCount != 1 {
		t.Fatalf("global keyspace violation = %+v, want fresh warning 1", out)
	}

	// And a different community too.
	out = record(t, engine, "carol", ChatSource("guild-2"))
	if out.Action != ActionWarning || out.WarningCount != 1 {
		t.Fatalf("other community violation = %+v, want fresh warning 1", out)
	}
}

func TestAuditTrailAppendsEveryTransition(t *testing.T) {
	engine, _ := newTestEngine(t)
	src := ChatSource("guild-1")

	for i := 0; i < 4; i++ { // 3 warnings/ban + 1 during-ban report
		record(t, engine, "dave", src)
	}

	records, err := engine.History(context.Background(), "dave", src, 10)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("audit trail has %d records, want 4", len(records))
	}
	for _, r := range records {
		if r.Source != string(SourceChat) {
			t.Errorf("record source = %q, want %q", r.Source, SourceChat)
		}
		if got := r.TermsList(); len(got) != 1 || got[0] != "badword" {
			t.Errorf("record terms = %v, want [badword]", got)
		}
	}
}

func TestStatusUnknownIdentity(t *testing.T) {
	engine, _ := newTestEngine(t)

	status, err := engine.Status(context.Background(), "nobody", ForumSource())
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if status.Blocked {
		t.Errorf("status for unknown identity = %+v, want unblocked", status)
	}
}

func TestResetBanClearsWindow(t *testing.T) {
	engine, _ := newTestEngine(t)
	src := ChatSource("guild-1")

	for i := 0; i < 3; i++ {
		record(t, engine, "erin", src)
	}

	if err := engine.ResetBan(context.Background(), "erin", src); err != nil {
		t.Fatalf("ResetBan returned error: %v", err)
	}

	status, err := engine.Status(context.Background(), "erin", src)
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if status.Blocked {
		t.Errorf("status after reset = %+v, want not blocked", status)
	}

	// The next violation starts a fresh warning cycle (not a post-ban reset,
	// since the window was cleared explicitly).
	out := record(t, engine, "erin", src)
	if out.Action != ActionWarning || out.WarningCount != 1 {
		t.Fatalf("violation after reset = %+v, want warning 1", out)
	}
}
