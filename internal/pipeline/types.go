// Package pipeline implements the message-processing core: admission with
// deduplication and rate limiting, per-author serialization, moderation
// gating, response generation with caching, and chunked delivery with
// exactly-once reply semantics per inbound message.
package pipeline

import (
	"context"
	"time"

	"github.com/edgard/wardenbot/internal/database"
)

// InboundMessage is a transport-normalized user message entering the pipeline.
type InboundMessage struct {
	// ID uniquely identifies the delivery attempt's message across the
	// transport, stable across redeliveries of the same message.
	ID string

	AuthorID   int64
	ChatID     int64
	MessageID  int
	IsGroup    bool
	Content    string
	ReceivedAt time.Time
}

// AdmitResult is the outcome of the admission check.
type AdmitResult int

const (
	// Admitted means the message claimed its id and may proceed.
	Admitted AdmitResult = iota
	// DuplicateRejected means the id is in flight or was recently answered.
	DuplicateRejected
	// RateLimited means the author exceeded their message budget.
	RateLimited
)

// Completer generates a reply for a user message given recent chat history.
type Completer interface {
	Complete(ctx context.Context, history []*database.Message, content string) (string, error)
}

// Transport delivers outbound text back to the chat platform.
type Transport interface {
	// SendReply sends text as a direct reply to the inbound message.
	SendReply(ctx context.Context, msg *InboundMessage, text string) error
	// SendFollowUp sends text to the same chat without reply linkage.
	SendFollowUp(ctx context.Context, msg *InboundMessage, text string) error
	// StartTyping begins a typing indicator for the chat and returns a stop
	// function. The stop function is always safe to call.
	StartTyping(ctx context.Context, chatID int64) func()
}
