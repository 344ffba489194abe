// Package storage provides persistence for download attempt history.
// It supports an in-memory backend for tests and single-run deployments
// and a SQLite backend for durable history across restarts.
package storage

import (
	"context"
	"errors"
	"time"
)

// StorageType identifies the persistence backend.
type StorageType string

const (
	StorageTypeMemory StorageType = "memory"
	StorageTypeSQLite StorageType = "sqlite"
)

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Type   StorageType  `yaml:"type" json:"type"`
	SQLite SQLiteConfig `yaml:"sqlite" json:"sqlite"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path      string `yaml:"path" json:"path"`
	EnableWAL bool   `yaml:"enable_wal" json:"enable_wal"`
}

// AttemptOutcome is the terminal (or current) state of a download attempt.
type AttemptOutcome string

const (
	OutcomeRunning   AttemptOutcome = "running"
	OutcomeCompleted AttemptOutcome = "completed"
	OutcomeFailed    AttemptOutcome = "failed"
	OutcomeTimedOut  AttemptOutcome = "timed_out"
)

// DownloadAttempt records one supervised pull of a model.
type DownloadAttempt struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Outcome    AttemptOutcome `json:"outcome"`
	Message    string         `json:"message,omitempty"`
	Progress   int            `json:"progress"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Common storage errors.
var (
	ErrNotFound = errors.New("storage: record not found")
	ErrClosed   = errors.New("storage: store is closed")
)

// Store persists download attempt records.
type Store interface {
	// SaveAttempt inserts a new attempt record.
	SaveAttempt(ctx context.Context, attempt *DownloadAttempt) error

	// UpdateAttempt overwrites an existing attempt record by ID.
	UpdateAttempt(ctx context.Context, attempt *DownloadAttempt) error

	// GetAttempt returns the attempt with the given ID.
	GetAttempt(ctx context.Context, id string) (*DownloadAttempt, error)

	// ListAttempts returns the most recent attempts, newest first,
	// up to limit records. A limit <= 0 returns all records.
	ListAttempts(ctx context.Context, limit int) ([]*DownloadAttempt, error)

	// Close releases backend resources.
	Close() error
}

// NewStore creates a store for the configured backend.
func NewStore(cfg StorageConfig) (Store, error) {
	switch cfg.Type {
	case StorageTypeSQLite:
		return NewSQLiteStore(cfg.SQLite)
	case StorageTypeMemory, "":
		return NewMemoryStore(), nil
	default:
		return nil, errors.New("storage: unknown storage type: " + string(cfg.Type))
	}
}
