package database

import (
	"database/sql"
	"strings"
	"time"
)

// Message represents a message exchanged in a chat the bot participates in.
// Both inbound user messages and the bot's own replies are stored so the
// completion provider can be given recent conversation context.
type Message struct {
	ID        uint      `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	ChatID    int64     `db:"chat_id"`
	UserID    int64     `db:"user_id"`
	Content   string    `db:"content"`
	Timestamp time.Time `db:"timestamp"`
}

// ViolationState tracks the escalation position of one identity, optionally
// scoped to a community. It is created lazily on the first violation, only
// ever mutated by the escalation engine, and never deleted.
//
// Version implements optimistic concurrency: updates only apply when the
// stored version matches the one the state was loaded with, since violations
// for the same identity can arrive concurrently from independent surfaces.
type ViolationState struct {
	ID        uint      `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`

	Identity    string `db:"identity"`
	CommunityID string `db:"community_id"`

	WarningCount      int          `db:"warning_count"`
	BanCount          int          `db:"ban_count"`
	KickCount         int          `db:"kick_count"`
	BanExpiresAt      sql.NullTime `db:"ban_expires_at"`
	PermanentlyBanned bool         `db:"permanently_banned"`

	Version int64 `db:"version"`
}

// ViolationRecord is one entry in the append-only audit trail. Records are
// never mutated after creation.
type ViolationRecord struct {
	ID      uint `db:"id"`
	StateID uint `db:"state_id"`

	Terms           string         `db:"terms"` // comma-joined, original order preserved
	Excerpt         string         `db:"excerpt"`
	Source          string         `db:"source"`
	Action          string         `db:"action"`
	DurationSeconds sql.NullInt64  `db:"duration_seconds"`
	Reason          sql.NullString `db:"reason"`
	OccurredAt      time.Time      `db:"occurred_at"`
}

// TermsList splits the stored terms back into their original ordered form.
func (r *ViolationRecord) TermsList() []string {
	if r.Terms == "" {
		return nil
	}
	return strings.Split(r.Terms, ",")
}

// JoinTerms encodes an ordered term list for storage.
func JoinTerms(terms []string) string {
	return strings.Join(terms, ",")
}
