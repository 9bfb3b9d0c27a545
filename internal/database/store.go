package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrStaleState is returned by ApplyViolation when the violation state was
// modified concurrently since it was loaded. Callers should reload and retry.
var ErrStaleState = errors.New("violation state was modified concurrently")

// Store defines the interface for database operations.
// Methods accept context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// SaveMessage inserts a new message record.
	SaveMessage(ctx context.Context, message *Message) error

	// GetRecentMessages retrieves the most recent 'limit' messages for a chat,
	// ordered chronologically.
	GetRecentMessages(ctx context.Context, chatID int64, limit int) ([]*Message, error)

	// RunSQLMaintenance performs database maintenance tasks like VACUUM.
	RunSQLMaintenance(ctx context.Context) error

	// GetViolationState retrieves the escalation state for an identity within
	// a community ("" for the global keyspace). Returns nil, nil if not found.
	GetViolationState(ctx context.Context, identity, communityID string) (*ViolationState, error)

	// ApplyViolation persists a state transition and its audit record in a
	// single transaction. New states (ID == 0) are inserted; existing states
	// are updated with an optimistic version check. Returns ErrStaleState when
	// a concurrent writer got there first.
	ApplyViolation(ctx context.Context, state *ViolationState, record *ViolationRecord) error

	// ListViolationRecords retrieves the most recent audit records for a state,
	// newest first.
	ListViolationRecords(ctx context.Context, stateID uint, limit int) ([]*ViolationRecord, error)

	// ResetBan clears the ban window of a non-permanently-banned identity.
	// Used for moderation appeals; the audit trail is left untouched.
	ResetBan(ctx context.Context, identity, communityID string) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

// Ping checks the database connection.
func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SaveMessage inserts a new message record.
func (s *sqlxStore) SaveMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot save nil message")
	}
	if message.ChatID == 0 {
		return fmt.Errorf("message must have a non-zero chat_id")
	}
	if message.Content == "" {
		return fmt.Errorf("message must have non-empty content")
	}
	if message.Timestamp.IsZero() {
		return fmt.Errorf("message must have a non-zero timestamp")
	}

	now := time.Now().UTC()
	message.CreatedAt = now
	message.UpdatedAt = now

	query := `
        INSERT INTO messages (chat_id, user_id, content, timestamp, created_at, updated_at)
        VALUES (:chat_id, :user_id, :content, :timestamp, :created_at, :updated_at);
    `

	result, err := s.db.NamedExecContext(ctx, query, message)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error saving message",
			"chat_id", message.ChatID, "user_id", message.UserID, "error", err)
		return fmt.Errorf("failed to save message (chat %d, user %d): %w", message.ChatID, message.UserID, err)
	}

	if id, err := result.LastInsertId(); err == nil {
		//nolint:gosec // integer overflow conversion is acceptable here
		message.ID = uint(id)
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after saving message",
			"chat_id", message.ChatID, "error", err)
	}

	s.logger.DebugContext(ctx, "Message saved successfully",
		"chat_id", message.ChatID, "user_id", message.UserID, "message_id", message.ID)
	return nil
}

// GetRecentMessages retrieves the most recent 'limit' messages for a chat,
// returned in chronological order.
func (s *sqlxStore) GetRecentMessages(ctx context.Context, chatID int64, limit int) ([]*Message, error) {
	if chatID == 0 {
		return nil, fmt.Errorf("chat_id cannot be zero")
	}
	if limit <= 0 {
		limit = 20
	} else if limit > 500 {
		limit = 500
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var messages []*Message
	query := `
        SELECT id, chat_id, user_id, content, timestamp, created_at, updated_at
        FROM messages
        WHERE chat_id = ?
        ORDER BY timestamp DESC, id DESC
        LIMIT ?;
    `

	err := s.db.SelectContext(ctx, &messages, query, chatID, limit)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching messages",
			"chat_id", chatID, "error", err)
		return nil, err
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting recent messages", "chat_id", chatID, "limit", limit, "error", err)
		return nil, fmt.Errorf("failed to get recent messages for chat %d: %w", chatID, err)
	}

	// Reverse into chronological order for the completion context.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	s.logger.DebugContext(ctx, "Fetched recent messages successfully", "chat_id", chatID, "count", len(messages))
	return messages, nil
}

// RunSQLMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	return nil
}

// GetViolationState retrieves the escalation state for an identity.
// Returns nil, nil when the identity has no record yet.
func (s *sqlxStore) GetViolationState(ctx context.Context, identity, communityID string) (*ViolationState, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var state ViolationState
	query := `SELECT id, created_at, updated_at, identity, community_id, warning_count,
	                 ban_count, kick_count, ban_expires_at, permanently_banned, version
	          FROM violation_states WHERE identity = ? AND community_id = ?`

	err := s.db.GetContext(ctx, &state, query, identity, communityID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.logger.DebugContext(ctx, "No violation state found", "identity", identity, "community_id", communityID)
		return nil, nil
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "Context timeout or cancellation while fetching violation state",
			"identity", identity, "error", err)
		return nil, err
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting violation state", "identity", identity, "error", err)
		return nil, fmt.Errorf("failed to get violation state for %q: %w", identity, err)
	}

	return &state, nil
}

// ApplyViolation persists a state transition plus its audit record atomically.
// The counters and the audit trail never diverge: both commit or neither does.
func (s *sqlxStore) ApplyViolation(ctx context.Context, state *ViolationState, record *ViolationRecord) error {
	if state == nil || record == nil {
		return fmt.Errorf("cannot apply nil violation state or record")
	}
	if state.Identity == "" {
		return fmt.Errorf("violation state must have an identity")
	}

	now := time.Now().UTC()
	state.UpdatedAt = now
	if record.OccurredAt.IsZero() {
		record.OccurredAt = now
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for violation",
			"identity", state.Identity, "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	if state.ID == 0 {
		state.CreatedAt = now
		state.Version = 1
		insert := `
			INSERT INTO violation_states (
				identity, community_id, warning_count, ban_count, kick_count,
				ban_expires_at, permanently_banned, version, created_at, updated_at
			) VALUES (
				:identity, :community_id, :warning_count, :ban_count, :kick_count,
				:ban_expires_at, :permanently_banned, :version, :created_at, :updated_at
			)
		`
		result, err := tx.NamedExecContext(ctx, insert, state)
		if err != nil {
			if isUniqueViolation(err) {
				// A concurrent writer created the row first; the caller
				// reloads and reapplies its transition.
				s.logger.DebugContext(ctx, "Violation state created concurrently, retry needed",
					"identity", state.Identity)
				return ErrStaleState
			}
			s.logger.ErrorContext(ctx, "Error inserting violation state",
				"identity", state.Identity, "error", err)
			return fmt.Errorf("failed to insert violation state for %q: %w", state.Identity, err)
		}
		if id, err := result.LastInsertId(); err == nil {
			//nolint:gosec // integer overflow conversion is acceptable here
			state.ID = uint(id)
		}
	} else {
		loadedVersion := state.Version
		state.Version++
		update := `
			UPDATE violation_states SET
				warning_count = :warning_count,
				ban_count = :ban_count,
				kick_count = :kick_count,
				ban_expires_at = :ban_expires_at,
				permanently_banned = :permanently_banned,
				version = :version,
				updated_at = :updated_at
			WHERE id = :id AND version = :loaded_version
		`
		result, err := tx.NamedExecContext(ctx, update, map[string]any{
			"warning_count":      state.WarningCount,
			"ban_count":          state.BanCount,
			"kick_count":         state.KickCount,
			"ban_expires_at":     state.BanExpiresAt,
			"permanently_banned": state.PermanentlyBanned,
			"version":            state.Version,
			"updated_at":         state.UpdatedAt,
			"id":                 state.ID,
			"loaded_version":     loadedVersion,
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "Error updating violation state",
				"identity", state.Identity, "error", err)
			return fmt.Errorf("failed to update violation state for %q: %w", state.Identity, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check update result: %w", err)
		}
		if affected == 0 {
			s.logger.DebugContext(ctx, "Violation state changed concurrently, retry needed",
				"identity", state.Identity, "version", loadedVersion)
			return ErrStaleState
		}
	}

	record.StateID = state.ID
	insertRecord := `
		INSERT INTO violation_records (
			state_id, terms, excerpt, source, action, duration_seconds, reason, occurred_at
		) VALUES (
			:state_id, :terms, :excerpt, :source, :action, :duration_seconds, :reason, :occurred_at
		)
	`
	result, err := tx.NamedExecContext(ctx, insertRecord, record)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error inserting violation record",
			"identity", state.Identity, "error", err)
		return fmt.Errorf("failed to insert violation record for %q: %w", state.Identity, err)
	}
	if id, err := result.LastInsertId(); err == nil {
		//nolint:gosec // integer overflow conversion is acceptable here
		record.ID = uint(id)
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit violation transaction",
			"identity", state.Identity, "error", err)
		return fmt.Errorf("failed to commit violation transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Violation applied successfully",
		"identity", state.Identity, "action", record.Action, "version", state.Version)
	return nil
}

// ListViolationRecords retrieves the most recent audit records for a state.
func (s *sqlxStore) ListViolationRecords(ctx context.Context, stateID uint, limit int) ([]*ViolationRecord, error) {
	if stateID == 0 {
		return nil, fmt.Errorf("state_id cannot be zero")
	}
	if limit <= 0 {
		limit = 20
	}

	var records []*ViolationRecord
	query := `SELECT id, state_id, terms, excerpt, source, action, duration_seconds, reason, occurred_at
	          FROM violation_records
	          WHERE state_id = ?
	          ORDER BY occurred_at DESC, id DESC
	          LIMIT ?`

	if err := s.db.SelectContext(ctx, &records, query, stateID, limit); err != nil {
		s.logger.ErrorContext(ctx, "Error listing violation records", "state_id", stateID, "error", err)
		return nil, fmt.Errorf("failed to list violation records for state %d: %w", stateID, err)
	}
	return records, nil
}

// ResetBan clears the ban window of a non-permanently-banned identity.
func (s *sqlxStore) ResetBan(ctx context.Context, identity, communityID string) error {
	if identity == "" {
		return fmt.Errorf("identity cannot be empty")
	}

	query := `UPDATE violation_states
	          SET ban_expires_at = NULL, warning_count = 0, version = version + 1, updated_at = ?
	          WHERE identity = ? AND community_id = ? AND permanently_banned = 0`

	result, err := s.db.ExecContext(ctx, query, time.Now().UTC(), identity, communityID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error resetting ban", "identity", identity, "error", err)
		return fmt.Errorf("failed to reset ban for %q: %w", identity, err)
	}

	affected, _ := result.RowsAffected()
	s.logger.InfoContext(ctx, "Ban reset", "identity", identity, "community_id", communityID, "affected", affected)
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite reports constraint failures in the error string;
	// the driver does not export a typed error for them. Only UNIQUE
	// failures mean a concurrent insert worth retrying; NOT NULL or CHECK
	// failures must surface as-is.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
