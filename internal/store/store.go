// Package store persists run history and measurements in SQLite.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fleetbench/fleetbench-go/pkg/model"
	"github.com/fleetbench/fleetbench-go/pkg/results"
)

// StatusRunning marks a run that has not finished. Finished runs carry
// the outcome status name, e.g. "COMPLETED".
const StatusRunning = "RUNNING"

// Run is one row of the run history.
type Run struct {
	ID          string     `json:"id"`
	Domain      string     `json:"domain"`
	Execution   string     `json:"execution"`
	Status      string     `json:"status"`
	ResumedFrom string     `json:"resumed_from,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Duration    string     `json:"duration,omitempty"`
	Passed      int        `json:"passed"`
	Failed      int        `json:"failed"`
	Skipped     int        `json:"skipped"`
	Total       int        `json:"total"`
	Excluded    []string   `json:"excluded,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// Counts are the final measurement counts of a run.
type Counts struct {
	Passed  int
	Failed  int
	Skipped int
}

// Store provides SQLite persistence for runs and measurements.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore opens or creates the database at dbPath.
// Use ":memory:" for an in-memory database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: an in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		domain TEXT NOT NULL,
		execution TEXT NOT NULL,
		status TEXT NOT NULL,
		resumed_from TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		passed INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		total INTEGER DEFAULT 0,
		excluded TEXT,
		reason TEXT
	);

	CREATE TABLE IF NOT EXISTS measurements (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		device_id TEXT NOT NULL,
		step_index INTEGER NOT NULL,
		band TEXT NOT NULL,
		channel TEXT NOT NULL,
		standard TEXT NOT NULL,
		mbps REAL,
		failed INTEGER NOT NULL DEFAULT 0,
		kind TEXT,
		port INTEGER,
		resumed INTEGER NOT NULL DEFAULT 0,
		measured_at DATETIME,
		measurement_json TEXT NOT NULL,
		UNIQUE (run_id, device_id, step_index)
	);

	CREATE INDEX IF NOT EXISTS idx_measurements_run_id ON measurements(run_id);
	CREATE INDEX IF NOT EXISTS idx_measurements_device ON measurements(device_id);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun inserts a run. An empty status is stored as StatusRunning.
func (s *Store) CreateRun(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := run.Status
	if status == "" {
		status = StatusRunning
	}
	_, err := s.db.Exec(`
		INSERT INTO runs (id, domain, execution, status, resumed_from, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.Domain, run.Execution, status, nullString(run.ResumedFrom), run.StartedAt)
	return err
}

// FinishRun records the outcome and counts of a run.
func (s *Store) FinishRun(id string, outcome model.Outcome, counts Counts, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE runs
		SET status = ?, finished_at = ?, passed = ?, failed = ?, skipped = ?,
		    total = ?, excluded = ?, reason = ?
		WHERE id = ?
	`, outcome.Status.String(), finishedAt, counts.Passed, counts.Failed, counts.Skipped,
		counts.Passed+counts.Failed+counts.Skipped,
		nullString(strings.Join(outcome.Excluded, ",")), nullString(outcome.Reason), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

const runColumns = `id, domain, execution, status, resumed_from, started_at, finished_at,
	passed, failed, skipped, total, excluded, reason`

// GetRun retrieves a run by ID. It returns nil, nil if there is none.
func (s *Store) GetRun(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns retrieves runs, most recent first.
func (s *Store) ListRuns(limit, offset int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var startedAt, finishedAt sql.NullTime
	var resumedFrom, excluded, reason sql.NullString

	if err := row.Scan(
		&run.ID, &run.Domain, &run.Execution, &run.Status, &resumedFrom,
		&startedAt, &finishedAt,
		&run.Passed, &run.Failed, &run.Skipped, &run.Total,
		&excluded, &reason,
	); err != nil {
		return nil, err
	}

	run.ResumedFrom = resumedFrom.String
	run.Reason = reason.String
	if excluded.Valid && excluded.String != "" {
		run.Excluded = strings.Split(excluded.String, ",")
	}
	if startedAt.Valid {
		run.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	if run.StartedAt != nil && run.FinishedAt != nil {
		run.Duration = run.FinishedAt.Sub(*run.StartedAt).Round(time.Millisecond).String()
	}
	return &run, nil
}

// CountRuns returns the total number of runs.
func (s *Store) CountRuns() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&count)
	return count, err
}

// AddMeasurement stores one measurement. Its run must exist.
func (s *Store) AddMeasurement(m model.Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal measurement: %w", err)
	}
	var mbps sql.NullFloat64
	if !m.Failed {
		mbps = sql.NullFloat64{Float64: m.Mbps, Valid: true}
	}

	_, err = s.db.Exec(`
		INSERT INTO measurements (run_id, device_id, step_index, band, channel, standard,
		                          mbps, failed, kind, port, resumed, measured_at, measurement_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.RunID, m.DeviceID, m.StepIndex, string(m.Mode.Band), m.Mode.Channel, m.Mode.Standard,
		mbps, m.Failed, nullString(m.Kind), m.Port, m.Resumed, m.Timestamp, string(data))
	return err
}

// ListMeasurements returns the measurements of a run in record order.
func (s *Store) ListMeasurements(runID string) ([]model.Measurement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT measurement_json FROM measurements WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Measurement
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var m model.Measurement
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal measurement: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeviceHistory returns the passed throughput statistics of a device
// across all runs, per band and standard.
func (s *Store) DeviceHistory(deviceID string) (map[string]results.Stats, error) {
	s.mu.RLock()
	rows, err := s.db.Query(`
		SELECT measurement_json FROM measurements WHERE device_id = ? ORDER BY id
	`, deviceID)
	if err != nil {
		s.mu.RUnlock()
		return nil, err
	}

	groups := make(map[string][]model.Measurement)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return nil, err
		}
		var m model.Measurement
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			rows.Close()
			s.mu.RUnlock()
			return nil, fmt.Errorf("failed to unmarshal measurement: %w", err)
		}
		g := results.GroupKey(m.Mode)
		groups[g] = append(groups[g], m)
	}
	err = rows.Err()
	rows.Close()
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	out := make(map[string]results.Stats, len(groups))
	for g, ms := range groups {
		out[g] = results.Compute(ms)
	}
	return out, nil
}

// DeleteRun deletes a run and its measurements.
func (s *Store) DeleteRun(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec("DELETE FROM runs WHERE id = ?", id)
	return err
}

// Sink returns a results.Sink that stores every measurement. Write errors
// are logged; they do not affect the run.
func (s *Store) Sink(logger *slog.Logger) results.Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return results.SinkFunc(func(m model.Measurement) {
		if err := s.AddMeasurement(m); err != nil {
			logger.Error("store measurement", "run", m.RunID, "device", m.DeviceID, "step", m.StepIndex, "error", err)
		}
	})
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
