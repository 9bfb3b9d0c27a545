package text

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitShortTextUnchanged(t *testing.T) {
	t.Parallel()

	chunks := Split("hello world", 100)
	if len(chunks) != 1 || chunks[0] != "hello world" {
		t.Fatalf("Split returned %v, want single unchanged chunk", chunks)
	}
}

func TestSplitEmptyText(t *testing.T) {
	t.Parallel()

	if chunks := Split("", 100); chunks != nil {
		t.Fatalf("Split(\"\") = %v, want nil", chunks)
	}
}

func TestSplitRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		limit int
	}{
		{
			name:  "paragraphs",
			text:  strings.Repeat("First paragraph with some words.\n\n", 10),
			limit: 80,
		},
		{
			name:  "sentences without paragraphs",
			text:  strings.Repeat("A sentence here. Another one follows! Is this a question? ", 8),
			limit: 70,
		},
		{
			name:  "no boundaries at all",
			text:  strings.Repeat("abcdefghij", 30),
			limit: 64,
		},
		{
			name:  "multibyte runes",
			text:  strings.Repeat("héllo wörld? ", 40),
			limit: 50,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			chunks := Split(tc.text, tc.limit)
			if len(chunks) < 2 {
				t.Fatalf("expected multiple chunks, got %d", len(chunks))
			}
			for i, c := range chunks {
				if n := utf8.RuneCountInString(c); n > tc.limit {
					t.Errorf("chunk %d has %d runes, exceeds limit %d", i, n, tc.limit)
				}
				if c == "" {
					t.Errorf("chunk %d is empty", i)
				}
			}
			if joined := strings.Join(chunks, ""); joined != tc.text {
				t.Error("rejoined chunks do not reproduce original text")
			}
		})
	}
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	t.Parallel()

	text := "First paragraph.\n\nSecond paragraph that is fairly long."
	chunks := Split(text, 30)

	if chunks[0] != "First paragraph.\n\n" {
		t.Errorf("first chunk = %q, want cut after paragraph break", chunks[0])
	}
}

func TestSplitPrefersSentenceBoundaries(t *testing.T) {
	t.Parallel()

	text := "One short sentence. Then another that runs on a bit longer."
	chunks := Split(text, 30)

	if chunks[0] != "One short sentence. " {
		t.Errorf("first chunk = %q, want cut after sentence end", chunks[0])
	}
}
