// Package violation implements the escalating-penalty state machine shared by
// every surface that accepts user content. Identities accumulate warnings;
// three warnings earn a timed ban, three bans a permanent one. All state is
// persisted through the database store with optimistic concurrency so that
// violations arriving concurrently from independent surfaces never lose updates.
package violation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/edgard/wardenbot/internal/database"
)

// Action is the penalty emitted by a violation transition.
type Action string

const (
	ActionWarning      Action = "warning"
	ActionBanned       Action = "banned"
	ActionPermanentBan Action = "permanent_ban"
	ActionKick         Action = "kick"
)

const (
	warningsPerBan     = 3
	bansUntilPermanent = 3

	firstBanDuration  = 30 * 24 * time.Hour
	secondBanDuration = 50 * 24 * time.Hour

	// postBanResetReason tags the audit record of a warning issued after a
	// previous ban window elapsed.
	postBanResetReason = "post-ban reset"

	// applyAttempts bounds the optimistic retry loop against concurrent
	// writers from other surfaces.
	applyAttempts = 5
)

// Outcome describes the result of recording a violation, with everything a
// surface needs to render a user-facing notice.
type Outcome struct {
	Action       Action
	WarningCount int
	BanExpiresAt time.Time
	PostBanReset bool
}

// Status answers "may this identity currently produce content".
type Status struct {
	Blocked   bool
	Permanent bool
	ExpiresAt time.Time
}

// Engine drives the escalation state machine.
type Engine struct {
	store  database.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates an escalation engine backed by the given store.
func NewEngine(store database.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		store:  store,
		logger: logger.With("component", "violation_engine"),
		now:    time.Now,
	}
}

// RecordViolation applies one violation for the identity, transitions the
// persistent state, and appends an audit record atomically with the counter
// mutation. Concurrent violations for the same identity are serialized through
// optimistic retry.
func (e *Engine) RecordViolation(ctx context.Context, identity string, terms []string, excerpt string, src Source) (*Outcome, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}

	var lastErr error
	for attempt := 0; attempt < applyAttempts; attempt++ {
		state, err := e.store.GetViolationState(ctx, identity, src.CommunityID)
		if err != nil {
			return nil, fmt.Errorf("failed to load violation state: %w", err)
		}
		if state == nil {
			state = &database.ViolationState{
				Identity:    identity,
				CommunityID: src.CommunityID,
			}
		}

		outcome, record := e.transition(state, terms, excerpt, src)
		if record == nil {
			// Terminal or ban-active states mutate nothing; still append the
			// audit record so the attempt is visible.
			record = e.newRecord(terms, excerpt, src, outcome)
		}

		err = e.store.ApplyViolation(ctx, state, record)
		if err == nil {
			e.logger.InfoContext(ctx, "Violation recorded",
				"identity", identity,
				"community_id", src.CommunityID,
				"source", string(src.Kind),
				"action", string(outcome.Action),
				"warning_count", outcome.WarningCount,
			)
			return outcome, nil
		}
		if errors.Is(err, database.ErrStaleState) {
			lastErr = err
			continue
		}
		return nil, fmt.Errorf("failed to persist violation: %w", err)
	}

	return nil, fmt.Errorf("violation apply retries exhausted for %q: %w", identity, lastErr)
}

// transition mutates state in place per the escalation table and returns the
// outcome plus its audit record.
func (e *Engine) transition(state *database.ViolationState, terms []string, excerpt string, src Source) (*Outcome, *database.ViolationRecord) {
	now := e.now().UTC()

	// Terminal state: nothing changes, ever.
	if state.PermanentlyBanned {
		outcome := &Outcome{Action: ActionPermanentBan}
		return outcome, nil
	}

	// An active ban window reports its own expiry without starting a new one.
	if state.BanExpiresAt.Valid && state.BanExpiresAt.Time.After(now) {
		outcome := &Outcome{Action: ActionBanned, BanExpiresAt: state.BanExpiresAt.Time}
		return outcome, nil
	}

	// A violation after the ban window elapsed restarts the warning cycle
	// rather than continuing from the stale count.
	if state.BanExpiresAt.Valid && !state.BanExpiresAt.Time.After(now) {
		state.WarningCount = 1
		state.BanExpiresAt = sql.NullTime{}
		outcome := &Outcome{Action: ActionWarning, WarningCount: 1, PostBanReset: true}
		record := e.newRecord(terms, excerpt, src, outcome)
		record.Reason = sql.NullString{String: postBanResetReason, Valid: true}
		return outcome, record
	}

	state.WarningCount++
	if state.WarningCount < warningsPerBan {
		outcome := &Outcome{Action: ActionWarning, WarningCount: state.WarningCount}
		return outcome, e.newRecord(terms, excerpt, src, outcome)
	}

	// Third warning escalates to a ban tier.
	state.BanCount++
	if state.BanCount >= bansUntilPermanent {
		state.PermanentlyBanned = true
		state.BanExpiresAt = sql.NullTime{}
		outcome := &Outcome{Action: ActionPermanentBan}
		return outcome, e.newRecord(terms, excerpt, src, outcome)
	}

	duration := firstBanDuration
	if state.BanCount == 2 {
		duration = secondBanDuration
	}
	expires := now.Add(duration)
	state.BanExpiresAt = sql.NullTime{Time: expires, Valid: true}
	outcome := &Outcome{Action: ActionBanned, BanExpiresAt: expires}
	record := e.newRecord(terms, excerpt, src, outcome)
	record.DurationSeconds = sql.NullInt64{Int64: int64(duration.Seconds()), Valid: true}
	return outcome, record
}

func (e *Engine) newRecord(terms []string, excerpt string, src Source, outcome *Outcome) *database.ViolationRecord {
	return &database.ViolationRecord{
		Terms:      database.JoinTerms(terms),
		Excerpt:    excerpt,
		Source:     string(src.Kind),
		Action:     string(outcome.Action),
		OccurredAt: e.now().UTC(),
	}
}

// Status reports whether the identity is currently blocked from producing
// content. Surfaces call this before doing any expensive work.
func (e *Engine) Status(ctx context.Context, identity string, src Source) (Status, error) {
	state, err := e.store.GetViolationState(ctx, identity, src.CommunityID)
	if err != nil {
		return Status{}, fmt.Errorf("failed to load violation state: %w", err)
	}
	if state == nil {
		return Status{}, nil
	}
	if state.PermanentlyBanned {
		return Status{Blocked: true, Permanent: true}, nil
	}
	if state.BanExpiresAt.Valid && state.BanExpiresAt.Time.After(e.now().UTC()) {
		return Status{Blocked: true, ExpiresAt: state.BanExpiresAt.Time}, nil
	}
	return Status{}, nil
}

// History returns the most recent audit records for the identity, newest first.
func (e *Engine) History(ctx context.Context, identity string, src Source, limit int) ([]*database.ViolationRecord, error) {
	state, err := e.store.GetViolationState(ctx, identity, src.CommunityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load violation state: %w", err)
	}
	if state == nil {
		return nil, nil
	}
	return e.store.ListViolationRecords(ctx, state.ID, limit)
}

// ResetBan clears an identity's active ban window for moderation appeals.
// Permanent bans are never reset.
func (e *Engine) ResetBan(ctx context.Context, identity string, src Source) error {
	return e.store.ResetBan(ctx, identity, src.CommunityID)
}
