// Package state persists build records in SQLite so repeated runs can
// report per-module history and statistics.
package state

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// BuildRecord is one synthesis attempt for one distribution.
type BuildRecord struct {
	RunID      string
	ArtifactID string
	Module     string
	StartedAt  time.Time
	Duration   time.Duration
	Outcome    string // success | failed | skipped
	Error      string
}

// Store is a SQLite-backed build-record store.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens the store. Use ":memory:" for an in-memory
// database.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS build_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		artifact TEXT NOT NULL,
		module TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_artifact ON build_records(artifact);
	CREATE INDEX IF NOT EXISTS idx_run_id ON build_records(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends one build record.
func (s *Store) Record(ctx context.Context, rec BuildRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO build_records (run_id, artifact, module, started_at, duration_ms, outcome, error) VALUES (?, ?, ?, ?, ?, ?, ?)",
		rec.RunID, rec.ArtifactID, rec.Module, rec.StartedAt.Unix(), rec.Duration.Milliseconds(), rec.Outcome, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("insert build record: %w", err)
	}
	return nil
}

// ArtifactStats summarizes the recorded builds of one artifact.
type ArtifactStats struct {
	ArtifactID    string
	Module        string
	Builds        int
	Failures      int
	AvgDuration   time.Duration
	LastOutcome   string
	LastStartedAt time.Time
}

// Stats aggregates the build history per artifact, most recently built
// first.
func (s *Store) Stats(ctx context.Context) ([]ArtifactStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT artifact, module, COUNT(*),
		       SUM(CASE WHEN outcome = 'failed' THEN 1 ELSE 0 END),
		       AVG(duration_ms), MAX(started_at)
		FROM build_records
		GROUP BY artifact, module
		ORDER BY MAX(started_at) DESC`)
	if err != nil {
		return nil, fmt.Errorf("query build stats: %w", err)
	}
	defer rows.Close()

	var out []ArtifactStats
	for rows.Next() {
		var st ArtifactStats
		var avgMs float64
		var lastStarted int64
		if err := rows.Scan(&st.ArtifactID, &st.Module, &st.Builds, &st.Failures, &avgMs, &lastStarted); err != nil {
			return nil, fmt.Errorf("scan build stats: %w", err)
		}
		st.AvgDuration = time.Duration(avgMs) * time.Millisecond
		st.LastStartedAt = time.Unix(lastStarted, 0)
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	for i := range out {
		var outcome string
		err := s.db.QueryRowContext(ctx,
			"SELECT outcome FROM build_records WHERE artifact = ? ORDER BY started_at DESC, id DESC LIMIT 1",
			out[i].ArtifactID).Scan(&outcome)
		if err != nil && err != sql.ErrNoRows {
			return nil, fmt.Errorf("query last outcome: %w", err)
		}
		out[i].LastOutcome = outcome
	}
	return out, nil
}

// History returns the records of one artifact, newest first.
func (s *Store) History(ctx context.Context, artifactID string, limit int) ([]BuildRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, artifact, module, started_at, duration_ms, outcome, COALESCE(error, '')
		FROM build_records WHERE artifact = ?
		ORDER BY started_at DESC, id DESC LIMIT ?`, artifactID, limit)
	if err != nil {
		return nil, fmt.Errorf("query build history: %w", err)
	}
	defer rows.Close()

	var out []BuildRecord
	for rows.Next() {
		var rec BuildRecord
		var started int64
		var durationMs int64
		if err := rows.Scan(&rec.RunID, &rec.ArtifactID, &rec.Module, &started, &durationMs, &rec.Outcome, &rec.Error); err != nil {
			return nil, fmt.Errorf("scan build record: %w", err)
		}
		rec.StartedAt = time.Unix(started, 0)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
