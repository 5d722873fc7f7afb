// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Creates the session_outcomes table on open and aggregates counts for the stats API

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000Z"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path. Parent
// directories are created if needed. ":memory:" opens a private
// in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if path == ":memory:" {
		// Each pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS session_outcomes (
			id           TEXT PRIMARY KEY,
			message_id   TEXT NOT NULL,
			sender_id    TEXT NOT NULL,
			kind         TEXT NOT NULL,
			outcome      TEXT NOT NULL,
			reply_length INTEGER NOT NULL DEFAULT 0,
			duration_ms  INTEGER NOT NULL DEFAULT 0,
			created_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_session_outcomes_created
			ON session_outcomes(created_at);

		CREATE INDEX IF NOT EXISTS idx_session_outcomes_outcome
			ON session_outcomes(outcome, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordOutcome implements Store.
func (s *SQLiteStore) RecordOutcome(ctx context.Context, o *SessionOutcome) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO session_outcomes (
			id, message_id, sender_id, kind, outcome, reply_length, duration_ms, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		o.ID,
		o.MessageID,
		o.SenderID,
		o.Kind,
		o.Outcome,
		o.ReplyLength,
		o.Duration.Milliseconds(),
		o.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting outcome: %w", err)
	}

	s.logger.Debug("recorded session outcome",
		"id", o.ID,
		"message_id", o.MessageID,
		"outcome", o.Outcome,
	)
	return nil
}

// CountOutcomes implements Store.
func (s *SQLiteStore) CountOutcomes(ctx context.Context, since time.Time) (map[string]int, error) {
	query := `
		SELECT outcome, COUNT(*)
		FROM session_outcomes
		WHERE created_at >= ?
		GROUP BY outcome
	`
	rows, err := s.db.QueryContext(ctx, query, since.UTC().Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("counting outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scanning outcome count: %w", err)
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

// ListOutcomes implements Store.
func (s *SQLiteStore) ListOutcomes(ctx context.Context, limit int) ([]*SessionOutcome, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, message_id, sender_id, kind, outcome, reply_length, duration_ms, created_at
		FROM session_outcomes
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("listing outcomes: %w", err)
	}
	defer rows.Close()

	var out []*SessionOutcome
	for rows.Next() {
		var o SessionOutcome
		var durationMS int64
		var createdAt string
		if err := rows.Scan(&o.ID, &o.MessageID, &o.SenderID, &o.Kind, &o.Outcome,
			&o.ReplyLength, &durationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning outcome: %w", err)
		}
		o.Duration = time.Duration(durationMS) * time.Millisecond
		o.CreatedAt, err = time.Parse(timeFormat, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}
