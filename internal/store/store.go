// Package store persists analysis runs and per-image results in SQLite.
//
// Each service run becomes one analysis_runs row; every image of a completed
// batch becomes one image_results row holding a small queryable summary plus
// the full result payload as JSON. The store implements turbidity.RunRecorder
// so the runner can persist lifecycle transitions without knowing SQL.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/formulab-data/turbidity.report/internal/timeutil"
	"github.com/formulab-data/turbidity.report/internal/turbidity"
)

// ErrNotFound marks lookups for runs or results that do not exist.
var ErrNotFound = errors.New("not found")

// Store wraps the SQLite handle holding runs and image results.
type Store struct {
	*sql.DB
	clock timeutil.Clock
}

// NewStore opens (creating if needed) the database at path and bootstraps
// the schema. Use ":memory:" for tests.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS analysis_runs (
			run_id                  TEXT PRIMARY KEY,
			status                  TEXT NOT NULL,
			params_json             TEXT,
			image_count             INTEGER NOT NULL DEFAULT 0,
			failure_reason          TEXT,
			started_at_unix_nanos   BIGINT NOT NULL,
			completed_at_unix_nanos BIGINT
		);
		CREATE TABLE IF NOT EXISTS image_results (
			result_id             TEXT PRIMARY KEY,
			run_id                TEXT NOT NULL REFERENCES analysis_runs(run_id),
			image_path            TEXT NOT NULL,
			position              INTEGER NOT NULL,
			width                 INTEGER NOT NULL DEFAULT 0,
			height                INTEGER NOT NULL DEFAULT 0,
			p_min                 DOUBLE NOT NULL DEFAULT 0,
			p50                   DOUBLE NOT NULL DEFAULT 0,
			p_max                 DOUBLE NOT NULL DEFAULT 0,
			contrast_absolute     DOUBLE NOT NULL DEFAULT 0,
			derivative_peak       DOUBLE NOT NULL DEFAULT 0,
			derivative_peak_row   INTEGER NOT NULL DEFAULT 0,
			error                 TEXT,
			payload_json          TEXT,
			created_at_unix_nanos BIGINT NOT NULL,
			UNIQUE (run_id, position)
		);
		CREATE INDEX IF NOT EXISTS idx_image_results_run ON image_results(run_id);
	`); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{DB: db, clock: timeutil.RealClock{}}, nil
}

// NewStoreWithMigrationCheck opens the database at path and reconciles its
// schema version against migrationsDir. A fresh database is bootstrapped to
// the full schema and baselined at the latest migration version. An existing
// database either has pending migrations applied (applyMigrations true) or
// is refused with instructions when it is out of date.
func NewStoreWithMigrationCheck(path, migrationsDir string, applyMigrations bool) (*Store, error) {
	fresh := false
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fresh = true
	}

	s, err := NewStore(path)
	if err != nil {
		return nil, err
	}

	if fresh {
		latest, err := GetLatestMigrationVersion(migrationsDir)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("determine latest migration version: %w", err)
		}
		if err := s.BaselineAtVersion(latest); err != nil {
			s.Close()
			return nil, fmt.Errorf("baseline fresh database: %w", err)
		}
		return s, nil
	}

	if applyMigrations {
		if err := s.MigrateUp(migrationsDir); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	}

	if shouldExit, err := s.CheckAndPromptMigrations(migrationsDir); shouldExit {
		s.Close()
		return nil, err
	}
	return s, nil
}

// AnalysisRun is one persisted run row.
type AnalysisRun struct {
	RunID                string          `json:"run_id"`
	Status               string          `json:"status"`
	ParamsJSON           json.RawMessage `json:"params_json,omitempty"`
	ImageCount           int             `json:"image_count"`
	FailureReason        string          `json:"failure_reason,omitempty"`
	StartedAtUnixNanos   int64           `json:"started_at_unix_nanos"`
	CompletedAtUnixNanos int64           `json:"completed_at_unix_nanos,omitempty"`
}

// ImageRow is one persisted per-image result: queryable summary columns
// plus the full ImageResult payload as JSON.
type ImageRow struct {
	ResultID           string          `json:"result_id"`
	RunID              string          `json:"run_id"`
	ImagePath          string          `json:"image_path"`
	Position           int             `json:"position"`
	Width              int             `json:"width"`
	Height             int             `json:"height"`
	PMin               float64         `json:"p_min"`
	P50                float64         `json:"p50"`
	PMax               float64         `json:"p_max"`
	ContrastAbsolute   float64         `json:"contrast_absolute"`
	DerivativePeak     float64         `json:"derivative_peak"`
	DerivativePeakRow  int             `json:"derivative_peak_row"`
	Error              string          `json:"error,omitempty"`
	Payload            json.RawMessage `json:"payload,omitempty"`
	CreatedAtUnixNanos int64           `json:"created_at_unix_nanos"`
}

// InsertRun persists a new run row. A missing RunID gets a UUID and a
// missing start time gets the current clock reading.
func (s *Store) InsertRun(run *AnalysisRun) error {
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.StartedAtUnixNanos == 0 {
		run.StartedAtUnixNanos = s.clock.Now().UnixNano()
	}

	var paramsStr interface{}
	if len(run.ParamsJSON) > 0 {
		paramsStr = string(run.ParamsJSON)
	}

	return s.retryOnBusy(func() error {
		_, err := s.Exec(`
			INSERT INTO analysis_runs (
				run_id, status, params_json, image_count, failure_reason,
				started_at_unix_nanos, completed_at_unix_nanos
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.Status, paramsStr, run.ImageCount,
			nullableString(run.FailureReason),
			run.StartedAtUnixNanos, nullableInt64(run.CompletedAtUnixNanos),
		)
		return err
	})
}

// GetRun returns a single run by ID.
func (s *Store) GetRun(runID string) (*AnalysisRun, error) {
	row := s.QueryRow(`
		SELECT run_id, status, params_json, image_count, failure_reason,
		       started_at_unix_nanos, completed_at_unix_nanos
		FROM analysis_runs
		WHERE run_id = ?`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return run, err
}

// ListRuns returns up to limit runs, most recently started first. A zero or
// negative limit selects a sane default.
func (s *Store) ListRuns(limit int) ([]*AnalysisRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Query(`
		SELECT run_id, status, params_json, image_count, failure_reason,
		       started_at_unix_nanos, completed_at_unix_nanos
		FROM analysis_runs
		ORDER BY started_at_unix_nanos DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []*AnalysisRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ResultsForRun returns the per-image rows of a run in batch position order.
func (s *Store) ResultsForRun(runID string) ([]*ImageRow, error) {
	rows, err := s.Query(`
		SELECT result_id, run_id, image_path, position, width, height,
		       p_min, p50, p_max, contrast_absolute,
		       derivative_peak, derivative_peak_row,
		       error, payload_json, created_at_unix_nanos
		FROM image_results
		WHERE run_id = ?
		ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("query image results: %w", err)
	}
	defer rows.Close()

	var results []*ImageRow
	for rows.Next() {
		r, err := scanImageRow(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// GetImageResult returns one image row of a run by its input path.
func (s *Store) GetImageResult(runID, imagePath string) (*ImageRow, error) {
	row := s.QueryRow(`
		SELECT result_id, run_id, image_path, position, width, height,
		       p_min, p50, p_max, contrast_absolute,
		       derivative_peak, derivative_peak_row,
		       error, payload_json, created_at_unix_nanos
		FROM image_results
		WHERE run_id = ? AND image_path = ?
		ORDER BY position
		LIMIT 1`, runID, imagePath)

	r, err := scanImageRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("result %s/%s: %w", runID, imagePath, ErrNotFound)
	}
	return r, err
}

// RecordRunStart implements turbidity.RunRecorder.
func (s *Store) RecordRunStart(runID string, req turbidity.AnalyzeRequest, startedAtUnixNanos int64) error {
	params, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return s.InsertRun(&AnalysisRun{
		RunID:              runID,
		Status:             string(turbidity.RunStatusPending),
		ParamsJSON:         params,
		ImageCount:         len(req.ImagePaths),
		StartedAtUnixNanos: startedAtUnixNanos,
	})
}

// RecordRunComplete implements turbidity.RunRecorder: it finalizes the run
// row and inserts every image result in one transaction.
func (s *Store) RecordRunComplete(runID string, res *turbidity.BatchResult, completedAtUnixNanos int64) error {
	return s.retryOnBusy(func() error {
		tx, err := s.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`
			UPDATE analysis_runs
			SET status = ?, failure_reason = ?, completed_at_unix_nanos = ?
			WHERE run_id = ?`,
			statusForOutcome(res.Outcome), nullableString(res.FailureReason),
			completedAtUnixNanos, runID,
		); err != nil {
			return fmt.Errorf("finalize run: %w", err)
		}

		for position, r := range res.Results {
			payload, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("marshal result %s: %w", r.ImagePath, err)
			}
			if _, err := tx.Exec(`
				INSERT INTO image_results (
					result_id, run_id, image_path, position, width, height,
					p_min, p50, p_max, contrast_absolute,
					derivative_peak, derivative_peak_row,
					error, payload_json, created_at_unix_nanos
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				uuid.New().String(), runID, r.ImagePath, position,
				r.Width, r.Height,
				r.Stats.PMin, r.Stats.P50, r.Stats.PMax,
				r.Contrast.Absolute,
				r.Derivative.PeakMagnitude, r.Derivative.PeakRow,
				nullableString(r.Error), string(payload), completedAtUnixNanos,
			); err != nil {
				return fmt.Errorf("insert result %s: %w", r.ImagePath, err)
			}
		}

		return tx.Commit()
	})
}

// statusForOutcome maps a batch outcome to the persisted run status.
func statusForOutcome(outcome turbidity.BatchOutcome) string {
	switch outcome {
	case turbidity.BatchCompleted:
		return string(turbidity.RunStatusComplete)
	case turbidity.BatchCancelled:
		return string(turbidity.RunStatusCancelled)
	default:
		return string(turbidity.RunStatusFailed)
	}
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (*AnalysisRun, error) {
	var run AnalysisRun
	var params, failure sql.NullString
	var completed sql.NullInt64
	err := sc.Scan(
		&run.RunID, &run.Status, &params, &run.ImageCount, &failure,
		&run.StartedAtUnixNanos, &completed,
	)
	if err != nil {
		return nil, err
	}
	if params.Valid {
		run.ParamsJSON = json.RawMessage(params.String)
	}
	if failure.Valid {
		run.FailureReason = failure.String
	}
	if completed.Valid {
		run.CompletedAtUnixNanos = completed.Int64
	}
	return &run, nil
}

func scanImageRow(sc scanner) (*ImageRow, error) {
	var r ImageRow
	var errStr, payload sql.NullString
	err := sc.Scan(
		&r.ResultID, &r.RunID, &r.ImagePath, &r.Position, &r.Width, &r.Height,
		&r.PMin, &r.P50, &r.PMax, &r.ContrastAbsolute,
		&r.DerivativePeak, &r.DerivativePeakRow,
		&errStr, &payload, &r.CreatedAtUnixNanos,
	)
	if err != nil {
		return nil, err
	}
	if errStr.Valid {
		r.Error = errStr.String
	}
	if payload.Valid {
		r.Payload = json.RawMessage(payload.String)
	}
	return &r, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt64(v int64) interface{} {
	if v == 0 {
		return nil
	}
	return v
}

const (
	maxBusyRetries = 5
	busyBaseDelay  = 10 * time.Millisecond
)

// isSQLiteBusy reports whether err looks like SQLITE_BUSY contention.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// retryOnBusy retries op with exponential backoff while SQLite reports
// contention. Non-busy errors fail immediately.
func (s *Store) retryOnBusy(op func() error) error {
	delay := busyBaseDelay
	var err error
	for attempt := 0; attempt < maxBusyRetries; attempt++ {
		if err = op(); !isSQLiteBusy(err) {
			return err
		}
		if attempt < maxBusyRetries-1 {
			s.clock.Sleep(delay)
			delay *= 2
		}
	}
	return fmt.Errorf("sqlite busy after %d attempts: %w", maxBusyRetries, err)
}
