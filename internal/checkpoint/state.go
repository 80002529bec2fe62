package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schemaDDL = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	completed_at TEXT,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS batches (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL REFERENCES runs(id),
	stream TEXT NOT NULL,
	table_name TEXT NOT NULL,
	row_count INTEGER NOT NULL,
	started_at TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_batches_run ON batches(run_id);
`

// State is the SQLite-backed history.
type State struct {
	db *sql.DB
}

// Open opens (and creates if needed) the history database at path.
func Open(path string) (*State, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	// Flushes of different streams may record concurrently; one connection
	// serializes them.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}
	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// CreateRun records the start of a run.
func (s *State) CreateRun(id string) error {
	_, err := s.db.Exec(`INSERT INTO runs (id, started_at, status) VALUES (?, ?, ?)`,
		id, time.Now().UTC().Format(timeLayout), StatusRunning)
	return err
}

// CompleteRun records the outcome of a run.
func (s *State) CompleteRun(id, status, errorMsg string) error {
	res, err := s.db.Exec(`UPDATE runs SET completed_at = ?, status = ?, error = ? WHERE id = ?`,
		time.Now().UTC().Format(timeLayout), status, errorMsg, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

// RecordBatch stores one flush.
func (s *State) RecordBatch(b Batch) error {
	_, err := s.db.Exec(`
		INSERT INTO batches (run_id, stream, table_name, row_count, started_at, duration_ms, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.RunID, b.Stream, b.Table, b.Rows, b.StartedAt.UTC().Format(timeLayout),
		b.Duration.Milliseconds(), b.Status, b.Error)
	return err
}

const runColumns = `
	SELECT r.id, r.started_at, r.completed_at, r.status, r.error,
		COUNT(b.id), COALESCE(SUM(CASE WHEN b.status = 'success' THEN b.row_count ELSE 0 END), 0)
	FROM runs r LEFT JOIN batches b ON b.run_id = r.id`

// GetAllRuns returns all runs, newest first.
func (s *State) GetAllRuns() ([]Run, error) {
	rows, err := s.db.Query(runColumns + ` GROUP BY r.id ORDER BY r.started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRunByID returns a single run, or an error when it does not exist.
func (s *State) GetRunByID(id string) (*Run, error) {
	row := s.db.QueryRow(runColumns+` WHERE r.id = ? GROUP BY r.id`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s not found", id)
	}
	return r, err
}

// GetRunBatches returns the batches of a run in the order they were loaded.
func (s *State) GetRunBatches(runID string) ([]Batch, error) {
	rows, err := s.db.Query(`
		SELECT run_id, stream, table_name, row_count, started_at, duration_ms, status, error
		FROM batches WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []Batch
	for rows.Next() {
		var (
			b          Batch
			startedAt  string
			durationMS int64
		)
		if err := rows.Scan(&b.RunID, &b.Stream, &b.Table, &b.Rows, &startedAt, &durationMS, &b.Status, &b.Error); err != nil {
			return nil, err
		}
		if b.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
			return nil, fmt.Errorf("parsing batch start time: %w", err)
		}
		b.Duration = time.Duration(durationMS) * time.Millisecond
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		r           Run
		startedAt   string
		completedAt sql.NullString
	)
	if err := sc.Scan(&r.ID, &startedAt, &completedAt, &r.Status, &r.Error, &r.Batches, &r.Rows); err != nil {
		return nil, err
	}
	t, err := time.Parse(timeLayout, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parsing run start time: %w", err)
	}
	r.StartedAt = t
	if completedAt.Valid {
		ct, err := time.Parse(timeLayout, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing run completion time: %w", err)
		}
		r.CompletedAt = &ct
	}
	return &r, nil
}
