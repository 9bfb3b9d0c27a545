// Package text provides chunking of long replies for transport-limited delivery.
package text

import (
	"strings"
	"unicode/utf8"
)

// Split partitions text into chunks of at most limit runes each, preserving
// read order. Cut points prefer paragraph boundaries, then sentence
// boundaries, then fall back to hard rune boundaries. The chunks are an exact
// partition of the input: concatenating them reproduces the original text
// with no characters lost or duplicated.
func Split(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var chunks []string
	rest := text
	for utf8.RuneCountInString(rest) > limit {
		window := runePrefix(rest, limit)
		cut := cutPoint(window)
		chunks = append(chunks, rest[:cut])
		rest = rest[cut:]
	}
	if rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}

// runePrefix returns the longest byte prefix of s containing at most n runes.
func runePrefix(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// cutPoint picks the best cut position within one window: after the last
// paragraph break, failing that after the last sentence end, failing that the
// window boundary itself.
func cutPoint(window string) int {
	if idx := strings.LastIndex(window, "\n\n"); idx > 0 {
		return idx + 2
	}
	if idx := lastSentenceEnd(window); idx > 0 {
		return idx
	}
	return len(window)
}

// lastSentenceEnd returns the byte position just past the final sentence
// terminator (including its trailing whitespace), or 0 when none is found.
func lastSentenceEnd(s string) int {
	best := 0
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			if next := s[i+1]; next == ' ' || next == '\n' || next == '\t' {
				best = i + 2
			}
		}
	}
	return best
}
