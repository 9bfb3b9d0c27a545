package pipeline

import (
	"testing"
	"time"
)

func TestCacheKeyNormalization(t *testing.T) {
	t.Parallel()

	base := CacheKey("What is Go?", "prompt-a")

	tests := []struct {
		name     string
		content  string
		promptID string
		same     bool
	}{
		{name: "identical", content: "What is Go?", promptID: "prompt-a", same: true},
		{name: "case folded", content: "WHAT IS GO?", promptID: "prompt-a", same: true},
		{name: "whitespace collapsed", content: "  what   is\tgo? ", promptID: "prompt-a", same: true},
		{name: "different content", content: "What is Rust?", promptID: "prompt-a", same: false},
		{name: "different prompt", content: "What is Go?", promptID: "prompt-b", same: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := CacheKey(tc.content, tc.promptID)
			if (got == base) != tc.same {
				t.Errorf("CacheKey(%q, %q) same-as-base = %v, want %v", tc.content, tc.promptID, got == base, tc.same)
			}
		})
	}
}

func TestCacheExpiry(t *testing.T) {
	t.Parallel()

	cache := NewCache(time.Hour)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	cache.Put("k", "v")
	if got, ok := cache.Get("k"); !ok || got != "v" {
		t.Fatalf("Get = %q, %v; want \"v\", true", got, ok)
	}

	now = now.Add(2 * time.Hour)
	if _, ok := cache.Get("k"); ok {
		t.Error("expired entry still served")
	}
	if removed := cache.Sweep(); removed != 1 {
		t.Errorf("Sweep removed %d entries, want 1", removed)
	}
}

func TestCacheOverwrite(t *testing.T) {
	t.Parallel()

	cache := NewCache(time.Hour)
	cache.Put("k", "first")
	cache.Put("k", "second")

	if got, _ := cache.Get("k"); got != "second" {
		t.Errorf("Get = %q, want \"second\"", got)
	}
}
