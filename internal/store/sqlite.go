// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Persists sign-in state and the notification ledger with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timestampLayout is fixed-width so stored timestamps sort lexically
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. ":memory:" opens a private
// in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	inMemory := path == ":memory:"
	if !inMemory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if inMemory {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS signin_state (
			conversation_key TEXT PRIMARY KEY,
			status           TEXT NOT NULL,
			delegated_token  TEXT,
			challenge_id     TEXT,
			updated_at       TEXT NOT NULL,

			CHECK (status IN ('unauthenticated', 'challenged', 'authenticated'))
		);

		CREATE TABLE IF NOT EXISTS notifications (
			id              TEXT PRIMARY KEY,
			target          TEXT NOT NULL,
			tenant_id       TEXT NOT NULL,
			outcome         TEXT NOT NULL,
			conversation_id TEXT,
			activity_id     TEXT,
			error           TEXT,
			created_at      TEXT NOT NULL,

			CHECK (outcome IN ('delivered', 'not_installed', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_notifications_created
			ON notifications(created_at);

		CREATE INDEX IF NOT EXISTS idx_notifications_target
			ON notifications(target);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Ping checks that the database answers
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetSignInState retrieves the sign-in state of a conversation.
// Returns ErrNotFound if the conversation has no state yet.
func (s *SQLiteStore) GetSignInState(ctx context.Context, conversationKey string) (*SignInState, error) {
	query := `
		SELECT conversation_key, status, delegated_token, challenge_id, updated_at
		FROM signin_state
		WHERE conversation_key = ?
	`

	var state SignInState
	var status, updatedAtStr string
	var token, challenge sql.NullString

	err := s.db.QueryRowContext(ctx, query, conversationKey).Scan(
		&state.ConversationKey,
		&status,
		&token,
		&challenge,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying signin state: %w", err)
	}

	state.Status = SignInStatus(status)
	state.DelegatedToken = token.String
	state.ChallengeID = challenge.String
	state.UpdatedAt, err = time.Parse(timestampLayout, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	return &state, nil
}

// SaveSignInState inserts or replaces the sign-in state of a conversation
func (s *SQLiteStore) SaveSignInState(ctx context.Context, state *SignInState) error {
	query := `
		INSERT OR REPLACE INTO signin_state (conversation_key, status, delegated_token, challenge_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`

	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query,
		state.ConversationKey,
		string(state.Status),
		nullString(state.DelegatedToken),
		nullString(state.ChallengeID),
		updatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("saving signin state: %w", err)
	}
	return nil
}

// RecordNotification appends a record to the notification ledger
func (s *SQLiteStore) RecordNotification(ctx context.Context, rec *NotificationRecord) error {
	query := `
		INSERT INTO notifications (id, target, tenant_id, outcome, conversation_id, activity_id, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Target,
		rec.TenantID,
		string(rec.Outcome),
		nullString(rec.ConversationID),
		nullString(rec.ActivityID),
		nullString(rec.Error),
		rec.CreatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

// ListNotifications returns the most recent ledger records first
func (s *SQLiteStore) ListNotifications(ctx context.Context, limit int) ([]*NotificationRecord, error) {
	query := `
		SELECT id, target, tenant_id, outcome, conversation_id, activity_id, error, created_at
		FROM notifications
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var records []*NotificationRecord
	for rows.Next() {
		var rec NotificationRecord
		var outcome, createdAtStr string
		var conversationID, activityID, errText sql.NullString

		if err := rows.Scan(
			&rec.ID,
			&rec.Target,
			&rec.TenantID,
			&outcome,
			&conversationID,
			&activityID,
			&errText,
			&createdAtStr,
		); err != nil {
			return nil, fmt.Errorf("scanning notification row: %w", err)
		}

		rec.Outcome = NotificationOutcome(outcome)
		rec.ConversationID = conversationID.String
		rec.ActivityID = activityID.String
		rec.Error = errText.String
		rec.CreatedAt, err = time.Parse(timestampLayout, createdAtStr)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notification rows: %w", err)
	}

	return records, nil
}

// nullString converts empty strings to NULL
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
