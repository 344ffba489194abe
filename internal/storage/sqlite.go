package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists download attempts in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at cfg.Path and
// ensures the schema exists.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("storage: sqlite path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqlite serializes access per connection; a single
	// connection avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	if cfg.EnableWAL {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS download_attempts (
		id          TEXT PRIMARY KEY,
		model       TEXT NOT NULL,
		outcome     TEXT NOT NULL,
		message     TEXT NOT NULL DEFAULT '',
		progress    INTEGER NOT NULL DEFAULT 0,
		started_at  INTEGER NOT NULL,
		finished_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_started_at ON download_attempts(started_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveAttempt(ctx context.Context, attempt *DownloadAttempt) error {
	var finished sql.NullInt64
	if attempt.FinishedAt != nil {
		finished = sql.NullInt64{Int64: attempt.FinishedAt.UnixMilli(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO download_attempts (id, model, outcome, message, progress, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID, attempt.Model, string(attempt.Outcome), attempt.Message,
		attempt.Progress, attempt.StartedAt.UnixMilli(), finished,
	)
	if err != nil {
		return fmt.Errorf("failed to save attempt: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateAttempt(ctx context.Context, attempt *DownloadAttempt) error {
	var finished sql.NullInt64
	if attempt.FinishedAt != nil {
		finished = sql.NullInt64{Int64: attempt.FinishedAt.UnixMilli(), Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE download_attempts
		SET model = ?, outcome = ?, message = ?, progress = ?, started_at = ?, finished_at = ?
		WHERE id = ?`,
		attempt.Model, string(attempt.Outcome), attempt.Message,
		attempt.Progress, attempt.StartedAt.UnixMilli(), finished, attempt.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update attempt: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) GetAttempt(ctx context.Context, id string) (*DownloadAttempt, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, model, outcome, message, progress, started_at, finished_at
		FROM download_attempts WHERE id = ?`, id)

	attempt, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}
	return attempt, nil
}

func (s *SQLiteStore) ListAttempts(ctx context.Context, limit int) ([]*DownloadAttempt, error) {
	query := `
		SELECT id, model, outcome, message, progress, started_at, finished_at
		FROM download_attempts ORDER BY started_at DESC, id DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	attempts := []*DownloadAttempt{}
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attempts: %w", err)
	}
	return attempts, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAttempt(row rowScanner) (*DownloadAttempt, error) {
	var (
		attempt  DownloadAttempt
		outcome  string
		started  int64
		finished sql.NullInt64
	)

	err := row.Scan(&attempt.ID, &attempt.Model, &outcome, &attempt.Message,
		&attempt.Progress, &started, &finished)
	if err != nil {
		return nil, err
	}

	attempt.Outcome = AttemptOutcome(outcome)
	attempt.StartedAt = time.UnixMilli(started)
	if finished.Valid {
		t := time.UnixMilli(finished.Int64)
		attempt.FinishedAt = &t
	}
	return &attempt, nil
}
