package executor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chaoschain/chaoscore/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteExecutionStore is a durable ExecutionStore backed by SQLite.
type SQLiteExecutionStore struct {
	db *sql.DB
}

// NewSQLiteExecutionStore creates the schema if needed.
func NewSQLiteExecutionStore(db *sql.DB) (*SQLiteExecutionStore, error) {
	s := &SQLiteExecutionStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteExecutionStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS executions (
		execution_id TEXT PRIMARY KEY,
		task_ref TEXT NOT NULL,
		input_hash TEXT NOT NULL,
		output_hash TEXT,
		environment TEXT NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		status TEXT NOT NULL,
		logs JSON
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteExecutionStore) Put(ctx context.Context, exec *contracts.Execution) error {
	logsJSON, _ := json.Marshal(exec.Logs)
	query := `INSERT INTO executions (
		execution_id, task_ref, input_hash, output_hash, environment,
		started_at, completed_at, status, logs
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (execution_id) DO UPDATE SET
		output_hash = excluded.output_hash,
		completed_at = excluded.completed_at,
		status = excluded.status,
		logs = excluded.logs`

	var completedAt string
	if !exec.CompletedAt.IsZero() {
		completedAt = exec.CompletedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := s.db.ExecContext(ctx, query,
		exec.ExecutionID, exec.TaskRef, exec.InputHash, exec.OutputHash, exec.Environment,
		exec.StartedAt.UTC().Format(time.RFC3339Nano), completedAt, string(exec.Status), string(logsJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert execution: %w", err)
	}
	return nil
}

func (s *SQLiteExecutionStore) Get(ctx context.Context, executionID string) (*contracts.Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT execution_id, task_ref, input_hash, output_hash, environment,
		started_at, completed_at, status, logs
		FROM executions WHERE execution_id = ?`, executionID)

	var exec contracts.Execution
	var outputHash, completedAt, logsJSON sql.NullString
	var startedAt, status string
	err := row.Scan(&exec.ExecutionID, &exec.TaskRef, &exec.InputHash, &outputHash, &exec.Environment,
		&startedAt, &completedAt, &status, &logsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contracts.ErrExecutionNotFound
		}
		return nil, err
	}

	exec.OutputHash = outputHash.String
	exec.StartedAt = parseExecTime(startedAt)
	if completedAt.Valid && completedAt.String != "" {
		exec.CompletedAt = parseExecTime(completedAt.String)
	}
	exec.Status = contracts.ExecutionStatus(status)
	if logsJSON.Valid && logsJSON.String != "" {
		_ = json.Unmarshal([]byte(logsJSON.String), &exec.Logs)
	}
	return &exec, nil
}

func parseExecTime(value string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
