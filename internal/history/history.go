// Package history persists a ledger of relocation runs in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is one recorded relocation attempt.
type Run struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	Category    string
	CatalogID   int64
	Hashes      []string
	Destination string
	Status      string
	Error       string
	FollowUps   int
}

// Store is the SQLite-backed run ledger.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open opens (creating if needed) the ledger database at path.
func Open(path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}

	// Serialize writers at the pool level; SQLite allows only one anyway.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err = db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}

	if err = s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	started_at   TIMESTAMP NOT NULL,
	finished_at  TIMESTAMP,
	category     TEXT NOT NULL,
	catalog_id   INTEGER NOT NULL DEFAULT 0,
	hashes       TEXT NOT NULL DEFAULT '[]',
	destination  TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	follow_ups   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrating ledger schema: %w", err)
	}

	return nil
}

// NewRunID returns a lexically sortable run identifier.
func NewRunID() string {
	return ulid.Make().String()
}

// Begin records the start of a run and returns its ID.
func (s *Store) Begin(ctx context.Context, category string) (string, error) {
	id := NewRunID()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, started_at, category, status) VALUES (?, ?, ?, ?)`,
		id, time.Now().UTC(), category, StatusRunning)
	if err != nil {
		return "", fmt.Errorf("recording run start: %w", err)
	}

	s.logger.Debug().Str("run_id", id).Str("category", category).Msg("run recorded")

	return id, nil
}

// Outcome carries the final state of a run.
type Outcome struct {
	CatalogID   int64
	Hashes      []string
	Destination string
	Err         error
	FollowUps   int
}

// Finish records the end of a run. A nil Outcome.Err marks it succeeded.
func (s *Store) Finish(ctx context.Context, id string, outcome Outcome) error {
	status := StatusSucceeded
	errText := ""
	if outcome.Err != nil {
		status = StatusFailed
		errText = outcome.Err.Error()
	}

	hashes, err := json.Marshal(outcome.Hashes)
	if err != nil {
		return fmt.Errorf("encoding hashes: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE runs
		 SET finished_at = ?, catalog_id = ?, hashes = ?, destination = ?, status = ?, error = ?, follow_ups = ?
		 WHERE id = ?`,
		time.Now().UTC(), outcome.CatalogID, string(hashes), outcome.Destination,
		status, errText, outcome.FollowUps, id)
	if err != nil {
		return fmt.Errorf("recording run outcome: %w", err)
	}

	return nil
}

// Recent returns the most recent runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, category, catalog_id, hashes, destination, status, error, follow_ups
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run      Run
			finished sql.NullTime
			hashes   string
		)
		if err = rows.Scan(&run.ID, &run.StartedAt, &finished, &run.Category, &run.CatalogID,
			&hashes, &run.Destination, &run.Status, &run.Error, &run.FollowUps); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if finished.Valid {
			run.FinishedAt = finished.Time
		}
		if err = json.Unmarshal([]byte(hashes), &run.Hashes); err != nil {
			return nil, fmt.Errorf("decoding hashes for run %s: %w", run.ID, err)
		}

		runs = append(runs, run)
	}

	return runs, rows.Err()
}
