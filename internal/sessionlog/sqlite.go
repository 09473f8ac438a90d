package sessionlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps a local audit table of voice sessions.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS voice_sessions (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id       TEXT NOT NULL DEFAULT '',
		problem_id       TEXT NOT NULL,
		duration_seconds INTEGER NOT NULL,
		input_tokens     INTEGER NOT NULL,
		output_tokens    INTEGER NOT NULL,
		audio_seconds    INTEGER NOT NULL,
		estimated_cost   REAL NOT NULL,
		server_timestamp TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create voice_sessions: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Log(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO voice_sessions
		(session_id, problem_id, duration_seconds, input_tokens, output_tokens, audio_seconds, estimated_cost, server_timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.ProblemID, r.DurationSeconds, r.InputTokens, r.OutputTokens, r.AudioSeconds, r.EstimatedCost, r.ServerTimestamp)
	if err != nil {
		return fmt.Errorf("insert voice session: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, problem_id, duration_seconds, input_tokens, output_tokens,
		audio_seconds, estimated_cost, server_timestamp FROM voice_sessions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query voice sessions: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.SessionID, &r.ProblemID, &r.DurationSeconds, &r.InputTokens, &r.OutputTokens,
			&r.AudioSeconds, &r.EstimatedCost, &r.ServerTimestamp); err != nil {
			return nil, fmt.Errorf("scan voice session: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
