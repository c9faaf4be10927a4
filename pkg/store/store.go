// Package store persists task runs and their step traces in SQLite, so a
// finished or failed run can be reconstructed after the process exits.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tiangong-ai/workspace/pkg/engine"
	"github.com/tiangong-ai/workspace/pkg/errors"
)

// Store is a SQLite-backed task run archive.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New(errors.CodeFatalConfig, fmt.Sprintf("opening store %s", path), err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent savers.
	db.SetMaxOpenConns(1)
	return New(db)
}

// New wraps an existing database handle and ensures the schema.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New(errors.CodeFatalConfig, "store requires a database handle", nil)
	}
	if err := ensureSchema(db); err != nil {
		return nil, errors.New(errors.CodeFatalConfig, "ensuring store schema", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS task_runs (
			id TEXT PRIMARY KEY,
			task TEXT NOT NULL,
			engine TEXT NOT NULL,
			status TEXT NOT NULL,
			final_answer TEXT,
			reason TEXT,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			max_steps INTEGER NOT NULL,
			max_duration_ns INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS task_steps (
			run_id TEXT NOT NULL REFERENCES task_runs(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			step_index INTEGER NOT NULL,
			thought TEXT,
			capability TEXT,
			args_json TEXT,
			result_json TEXT,
			error_text TEXT,
			latency_ns INTEGER NOT NULL,
			retries INTEGER NOT NULL,
			PRIMARY KEY (run_id, seq)
		);
		CREATE INDEX IF NOT EXISTS idx_task_runs_status ON task_runs(status, started_at);
	`)
	return err
}

// SaveRun upserts the run and replaces its step trace atomically.
func (s *Store) SaveRun(ctx context.Context, run *engine.TaskRun) error {
	if run == nil || run.ID == "" {
		return errors.New(errors.CodeInvalidInput, "run must carry an identifier", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.New(errors.CodeInternal, "beginning save transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO task_runs (id, task, engine, status, final_answer, reason, started_at, finished_at, max_steps, max_duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			final_answer = excluded.final_answer,
			reason = excluded.reason,
			finished_at = excluded.finished_at
	`,
		run.ID, run.Task, string(run.Engine), string(run.Status),
		run.FinalAnswer, run.Reason,
		run.StartedAt.UTC(), nullableTime(run.FinishedAt),
		run.Budget.MaxSteps, int64(run.Budget.MaxDuration),
	)
	if err != nil {
		return errors.New(errors.CodeInternal, "saving run", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_steps WHERE run_id = ?`, run.ID); err != nil {
		return errors.New(errors.CodeInternal, "clearing step trace", err)
	}
	for seq, step := range run.Steps {
		argsJSON, err := json.Marshal(step.Args)
		if err != nil {
			return errors.New(errors.CodeInternal, "encoding step args", err)
		}
		resultJSON, err := json.Marshal(step.Result)
		if err != nil {
			return errors.New(errors.CodeInternal, "encoding step result", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_steps (run_id, seq, step_index, thought, capability, args_json, result_json, error_text, latency_ns, retries)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			run.ID, seq, step.Index, step.Thought, step.Capability,
			string(argsJSON), string(resultJSON), step.Error,
			int64(step.Latency), step.Retries,
		)
		if err != nil {
			return errors.New(errors.CodeInternal, "saving step trace", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.New(errors.CodeInternal, "committing save transaction", err)
	}
	return nil
}

// GetRun loads one run with its full step trace.
func (s *Store) GetRun(ctx context.Context, id string) (*engine.TaskRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, task, engine, status, final_answer, reason, started_at, finished_at, max_steps, max_duration_ns
		FROM task_runs WHERE id = ?
	`, id)

	var (
		run        engine.TaskRun
		engineName string
		status     string
		finished   sql.NullTime
		durationNS int64
	)
	err := row.Scan(&run.ID, &run.Task, &engineName, &status,
		&run.FinalAnswer, &run.Reason, &run.StartedAt, &finished,
		&run.Budget.MaxSteps, &durationNS)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.CodeNotFound, fmt.Sprintf("run %q not found", id), nil)
	}
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "loading run", err)
	}
	run.Engine = engine.Variant(engineName)
	run.Status = engine.RunStatus(status)
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	run.Budget.MaxDuration = time.Duration(durationNS)

	steps, err := s.loadSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	run.Steps = steps
	return &run, nil
}

func (s *Store) loadSteps(ctx context.Context, runID string) ([]engine.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_index, thought, capability, args_json, result_json, error_text, latency_ns, retries
		FROM task_steps WHERE run_id = ? ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "loading step trace", err)
	}
	defer rows.Close()

	var steps []engine.Step
	for rows.Next() {
		var (
			step       engine.Step
			argsJSON   string
			resultJSON string
			latencyNS  int64
		)
		if err := rows.Scan(&step.Index, &step.Thought, &step.Capability,
			&argsJSON, &resultJSON, &step.Error, &latencyNS, &step.Retries); err != nil {
			return nil, errors.New(errors.CodeInternal, "scanning step", err)
		}
		if argsJSON != "" && argsJSON != "null" {
			if err := json.Unmarshal([]byte(argsJSON), &step.Args); err != nil {
				return nil, errors.New(errors.CodeInternal, "decoding step args", err)
			}
		}
		if resultJSON != "" && resultJSON != "null" {
			var result any
			if err := json.Unmarshal([]byte(resultJSON), &result); err != nil {
				return nil, errors.New(errors.CodeInternal, "decoding step result", err)
			}
			step.Result = result
		}
		step.Latency = time.Duration(latencyNS)
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// Filter narrows ListRuns.
type Filter struct {
	Status engine.RunStatus
	Limit  int
}

// RunSummary is a run without its step trace.
type RunSummary struct {
	ID          string           `json:"id"`
	Task        string           `json:"task"`
	Engine      engine.Variant   `json:"engine"`
	Status      engine.RunStatus `json:"status"`
	Reason      string           `json:"reason,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at,omitempty"`
	FinalAnswer string           `json:"final_answer,omitempty"`
}

// ListRuns returns run summaries, newest first.
func (s *Store) ListRuns(ctx context.Context, filter Filter) ([]RunSummary, error) {
	query := `
		SELECT id, task, engine, status, reason, started_at, finished_at, final_answer
		FROM task_runs
	`
	var args []any
	if filter.Status != "" {
		query += " WHERE status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "listing runs", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			summary  RunSummary
			engName  string
			status   string
			finished sql.NullTime
		)
		if err := rows.Scan(&summary.ID, &summary.Task, &engName, &status,
			&summary.Reason, &summary.StartedAt, &finished, &summary.FinalAnswer); err != nil {
			return nil, errors.New(errors.CodeInternal, "scanning run summary", err)
		}
		summary.Engine = engine.Variant(engName)
		summary.Status = engine.RunStatus(status)
		if finished.Valid {
			summary.FinishedAt = finished.Time
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
