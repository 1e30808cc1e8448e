package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/scanprep/internal/timeutil"
)

// Run kinds.
const (
	KindExport  = "export"
	KindNormals = "normals"
)

// Status is the outcome of one scan within a run.
type Status string

const (
	StatusOK      Status = "ok"
	StatusSkipped Status = "skipped"
	StatusEmpty   Status = "empty"
	StatusFailed  Status = "failed"
)

// ErrRunNotFound is returned for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Run is one invocation of a batch pass.
type Run struct {
	RunID        string `json:"run_id"`
	Kind         string `json:"kind"`
	ConfigPath   string `json:"config_path,omitempty"`
	StartedAtNs  int64  `json:"started_at_ns"`
	FinishedAtNs int64  `json:"finished_at_ns,omitempty"`
	ScansTotal   int    `json:"scans_total"`
	ScansOK      int    `json:"scans_ok"`
	ScansSkipped int    `json:"scans_skipped"`
	ScansEmpty   int    `json:"scans_empty"`
	ScansFailed  int    `json:"scans_failed"`
}

// Finished reports whether FinishRun has been called.
func (r *Run) Finished() bool { return r.FinishedAtNs != 0 }

// ScanResult is the ledger entry for one scan.
type ScanResult struct {
	RunID        string        `json:"run_id"`
	ScanName     string        `json:"scan_name"`
	Status       Status        `json:"status"`
	NumPoints    int           `json:"num_points"`
	NumInstances int           `json:"num_instances"`
	NumBoxes     int           `json:"num_boxes"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
	CreatedAtNs  int64         `json:"created_at_ns"`
}

// LedgerStore persists runs and scan results.
type LedgerStore struct {
	db    *DB
	clock timeutil.Clock
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(db *DB) *LedgerStore {
	return NewLedgerStoreWithClock(db, timeutil.RealClock{})
}

// NewLedgerStoreWithClock creates a LedgerStore that timestamps and backs
// off with the given clock.
func NewLedgerStoreWithClock(db *DB, clock timeutil.Clock) *LedgerStore {
	return &LedgerStore{db: db, clock: clock}
}

func (s *LedgerStore) retry(fn func() error) error {
	return retryOnBusy(s.clock, fn)
}

// StartRun records a new run and returns its generated ID.
func (s *LedgerStore) StartRun(kind, configPath string) (string, error) {
	runID := uuid.New().String()
	err := s.retry(func() error {
		_, err := s.db.Exec(`
			INSERT INTO runs (run_id, kind, config_path, started_at_ns)
			VALUES (?, ?, ?, ?)`,
			runID, kind, configPath, s.clock.Now().UnixNano(),
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return runID, nil
}

// RecordScan stores the outcome of one scan. Recording the same scan twice
// in one run replaces the earlier entry.
func (s *LedgerStore) RecordScan(r *ScanResult) error {
	if r.CreatedAtNs == 0 {
		r.CreatedAtNs = s.clock.Now().UnixNano()
	}
	var errText interface{}
	if r.Error != "" {
		errText = r.Error
	}
	err := s.retry(func() error {
		_, err := s.db.Exec(`
			INSERT OR REPLACE INTO scan_results (
				run_id, scan_name, status, num_points, num_instances, num_boxes,
				error, duration_ms, created_at_ns
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RunID, r.ScanName, string(r.Status), r.NumPoints, r.NumInstances, r.NumBoxes,
			errText, r.Duration.Milliseconds(), r.CreatedAtNs,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("record scan %s: %w", r.ScanName, err)
	}
	return nil
}

// FinishRun stamps the finish time and tallies the recorded scan outcomes.
func (s *LedgerStore) FinishRun(runID string) (*Run, error) {
	err := s.retry(func() error {
		res, err := s.db.Exec(`
			UPDATE runs SET
				finished_at_ns = ?,
				scans_total   = (SELECT COUNT(*) FROM scan_results WHERE run_id = runs.run_id),
				scans_ok      = (SELECT COUNT(*) FROM scan_results WHERE run_id = runs.run_id AND status = 'ok'),
				scans_skipped = (SELECT COUNT(*) FROM scan_results WHERE run_id = runs.run_id AND status = 'skipped'),
				scans_empty   = (SELECT COUNT(*) FROM scan_results WHERE run_id = runs.run_id AND status = 'empty'),
				scans_failed  = (SELECT COUNT(*) FROM scan_results WHERE run_id = runs.run_id AND status = 'failed')
			WHERE run_id = ?`,
			s.clock.Now().UnixNano(), runID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("finish run: %w", err)
	}
	return s.GetRun(runID)
}

const runColumns = `run_id, kind, config_path, started_at_ns, finished_at_ns,
	scans_total, scans_ok, scans_skipped, scans_empty, scans_failed`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var configPath sql.NullString
	var finished sql.NullInt64
	if err := row.Scan(&r.RunID, &r.Kind, &configPath, &r.StartedAtNs, &finished,
		&r.ScansTotal, &r.ScansOK, &r.ScansSkipped, &r.ScansEmpty, &r.ScansFailed); err != nil {
		return nil, err
	}
	r.ConfigPath = configPath.String
	r.FinishedAtNs = finished.Int64
	return &r, nil
}

// GetRun returns a single run by ID.
func (s *LedgerStore) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first. A limit <= 0 returns all.
func (s *LedgerStore) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs
		ORDER BY started_at_ns DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ScanResults returns the scan outcomes of a run ordered by scan name.
func (s *LedgerStore) ScanResults(runID string) ([]*ScanResult, error) {
	rows, err := s.db.Query(`
		SELECT run_id, scan_name, status, num_points, num_instances, num_boxes,
		       error, duration_ms, created_at_ns
		FROM scan_results
		WHERE run_id = ?
		ORDER BY scan_name`, runID)
	if err != nil {
		return nil, fmt.Errorf("query scan results: %w", err)
	}
	defer rows.Close()

	var out []*ScanResult
	for rows.Next() {
		var r ScanResult
		var status string
		var errText sql.NullString
		var durationMs int64
		if err := rows.Scan(&r.RunID, &r.ScanName, &status, &r.NumPoints, &r.NumInstances,
			&r.NumBoxes, &errText, &durationMs, &r.CreatedAtNs); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Status = Status(status)
		r.Error = errText.String
		r.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, &r)
	}
	return out, rows.Err()
}
