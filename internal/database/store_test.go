package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()

	db, err := NewDB(":memory:")
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { CloseDB(db) })
	return NewStore(db, nil)
}

func TestSaveAndGetRecentMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := store.SaveMessage(ctx, &Message{
			ChatID:    100,
			UserID:    5,
			Content:   fmt.Sprintf("message %d", i+1),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("SaveMessage %d returned error: %v", i+1, err)
		}
	}

	messages, err := store.GetRecentMessages(ctx, 100, 3)
	if err != nil {
		t.Fatalf("GetRecentMessages returned error: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(messages))
	}

	// The most recent messages, in chronological order.
	for i, want := range []string{"message 3", "message 4", "message 5"} {
		if messages[i].Content != want {
			t.Errorf("message %d content = %q, want %q", i, messages[i].Content, want)
		}
	}
}

func TestSaveMessageValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name string
		msg  *Message
	}{
		{name: "nil message", msg: nil},
		{name: "zero chat id", msg: &Message{UserID: 5, Content: "x", Timestamp: time.Now()}},
		{name: "empty content", msg: &Message{ChatID: 1, UserID: 5, Timestamp: time.Now()}},
		{name: "zero timestamp", msg: &Message{ChatID: 1, UserID: 5, Content: "x"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := store.SaveMessage(ctx, tc.msg); err == nil {
				t.Error("SaveMessage accepted invalid message")
			}
		})
	}
}

func TestApplyViolationOptimisticConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	state := &ViolationState{Identity: "alice", CommunityID: "guild-1", WarningCount: 1}
	record := &ViolationRecord{Terms: "badword", Source: "chat", Action: "warning", OccurredAt: time.Now().UTC()}
	if err := store.ApplyViolation(ctx, state, record); err != nil {
		t.Fatalf("initial ApplyViolation returned error: %v", err)
	}

	// Two loads of the same state; the second write must observe the stale
	// version and fail.
	first, err := store.GetViolationState(ctx, "alice", "guild-1")
	if err != nil {
		t.Fatalf("GetViolationState returned error: %v", err)
	}
	second, err := store.GetViolationState(ctx, "alice", "guild-1")
	if err != nil {
		t.Fatalf("GetViolationState returned error: %v", err)
	}

	first.WarningCount = 2
	if err := store.ApplyViolation(ctx, first, &ViolationRecord{Terms: "badword", Source: "chat", Action: "warning"}); err != nil {
		t.Fatalf("first writer failed: %v", err)
	}

	second.WarningCount = 2
	err = store.ApplyViolation(ctx, second, &ViolationRecord{Terms: "badword", Source: "forum", Action: "warning"})
	if !errors.Is(err, ErrStaleState) {
		t.Fatalf("second writer error = %v, want ErrStaleState", err)
	}
}

func TestApplyViolationConcurrentInsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := &ViolationState{Identity: "bob", CommunityID: ""}
	if err := store.ApplyViolation(ctx, seed, &ViolationRecord{Terms: "badword", Source: "forum", Action: "warning"}); err != nil {
		t.Fatalf("seed insert returned error: %v", err)
	}

	// An insert racing against the existing row maps the unique constraint
	// to a stale-state retry signal.
	racing := &ViolationState{Identity: "bob", CommunityID: ""}
	err := store.ApplyViolation(ctx, racing, &ViolationRecord{Terms: "badword", Source: "image", Action: "warning"})
	if !errors.Is(err, ErrStaleState) {
		t.Fatalf("racing insert error = %v, want ErrStaleState", err)
	}
}

func TestIsUniqueViolationMatchesOnlyUniqueFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "unique failure", err: errors.New("constraint failed: UNIQUE constraint failed: violation_states.identity, violation_states.community_id (2067)"), want: true},
		{name: "not null failure", err: errors.New("constraint failed: NOT NULL constraint failed: messages.content (1299)"), want: false},
		{name: "check failure", err: errors.New("constraint failed: CHECK constraint failed: warning_count (275)"), want: false},
		{name: "unrelated error", err: errors.New("database is locked"), want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := isUniqueViolation(tc.err); got != tc.want {
				t.Errorf("isUniqueViolation(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
