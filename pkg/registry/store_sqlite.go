package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chaoschain/chaoscore/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteActionStore is a durable ActionStore backed by SQLite. The primary
// key on action_id makes check-then-insert atomic, and status swaps run as a
// single conditional UPDATE.
type SQLiteActionStore struct {
	db *sql.DB
}

// NewSQLiteActionStore creates the schema if needed.
func NewSQLiteActionStore(db *sql.DB) (*SQLiteActionStore, error) {
	s := &SQLiteActionStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteActionStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS actions (
		action_id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		action_type TEXT NOT NULL,
		description TEXT,
		inputs JSON,
		outputs JSON,
		execution_id TEXT,
		status TEXT NOT NULL,
		reject_reason TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_actions_agent ON actions(agent_id);
	CREATE INDEX IF NOT EXISTS idx_actions_status ON actions(status);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteActionStore) Insert(ctx context.Context, action *contracts.Action) error {
	inputsJSON, _ := json.Marshal(action.Inputs)
	outputsJSON, _ := json.Marshal(action.Outputs)

	query := `INSERT INTO actions (
		action_id, agent_id, action_type, description, inputs, outputs,
		execution_id, status, reject_reason, created_at, updated_at, version
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		action.ActionID, action.AgentID, action.ActionType, action.Description,
		string(inputsJSON), string(outputsJSON), action.ExecutionID,
		string(action.Status), action.RejectReason,
		action.CreatedAt.UTC().Format(time.RFC3339Nano),
		action.UpdatedAt.UTC().Format(time.RFC3339Nano),
		action.Version,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "PRIMARY KEY") {
			return contracts.ErrDuplicateAction
		}
		return fmt.Errorf("failed to insert action: %w", err)
	}
	return nil
}

const actionColumns = `action_id, agent_id, action_type, description, inputs, outputs,
	execution_id, status, reject_reason, created_at, updated_at, version`

func (s *SQLiteActionStore) Get(ctx context.Context, actionID string) (*contracts.Action, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE action_id = ?`, actionID)
	action, err := scanAction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contracts.ErrActionNotFound
		}
		return nil, err
	}
	return action, nil
}

func (s *SQLiteActionStore) Query(ctx context.Context, filter contracts.ActionFilter, page contracts.Page) ([]*contracts.Action, error) {
	query := `SELECT ` + actionColumns + ` FROM actions WHERE 1=1`
	var args []any

	if filter.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, filter.AgentID)
	}
	if filter.ActionType != "" {
		query += ` AND action_type = ?`
		args = append(args, filter.ActionType)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	if !filter.Until.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, filter.Until.UTC().Format(time.RFC3339Nano))
	}

	query += ` ORDER BY created_at ASC, action_id ASC`
	if page.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, page.Limit)
	} else {
		query += ` LIMIT -1`
	}
	if page.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, page.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var actions []*contracts.Action
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

func (s *SQLiteActionStore) CompareAndSwapStatus(ctx context.Context, actionID string, from, to contracts.ActionStatus, reason string, at time.Time) (bool, error) {
	query := `UPDATE actions
		SET status = ?, reject_reason = CASE WHEN ? != '' THEN ? ELSE reject_reason END,
			updated_at = ?, version = version + 1
		WHERE action_id = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, query,
		string(to), reason, reason, at.UTC().Format(time.RFC3339Nano), actionID, string(from))
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (*contracts.Action, error) {
	var action contracts.Action
	var description, inputsJSON, outputsJSON, executionID, rejectReason sql.NullString
	var status, createdAt, updatedAt string

	err := row.Scan(&action.ActionID, &action.AgentID, &action.ActionType, &description,
		&inputsJSON, &outputsJSON, &executionID, &status, &rejectReason,
		&createdAt, &updatedAt, &action.Version)
	if err != nil {
		return nil, err
	}

	action.Description = description.String
	action.ExecutionID = executionID.String
	action.Status = contracts.ActionStatus(status)
	action.RejectReason = rejectReason.String
	action.CreatedAt = parseActionTime(createdAt)
	action.UpdatedAt = parseActionTime(updatedAt)
	if inputsJSON.Valid && inputsJSON.String != "" {
		_ = json.Unmarshal([]byte(inputsJSON.String), &action.Inputs)
	}
	if outputsJSON.Valid && outputsJSON.String != "" {
		_ = json.Unmarshal([]byte(outputsJSON.String), &action.Outputs)
	}
	return &action, nil
}

func parseActionTime(value string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}

// SQLiteOutcomeStore is a durable OutcomeStore backed by SQLite.
type SQLiteOutcomeStore struct {
	db *sql.DB
}

// NewSQLiteOutcomeStore creates the schema if needed.
func NewSQLiteOutcomeStore(db *sql.DB) (*SQLiteOutcomeStore, error) {
	s := &SQLiteOutcomeStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteOutcomeStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS outcomes (
		outcome_id TEXT NOT NULL,
		action_id TEXT PRIMARY KEY,
		success INTEGER NOT NULL,
		impact_score REAL NOT NULL,
		results JSON,
		recorded_at TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteOutcomeStore) Insert(ctx context.Context, outcome *contracts.Outcome) error {
	resultsJSON, _ := json.Marshal(outcome.Results)
	query := `INSERT INTO outcomes (outcome_id, action_id, success, impact_score, results, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	success := 0
	if outcome.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx, query,
		outcome.OutcomeID, outcome.ActionID, success, outcome.ImpactScore,
		string(resultsJSON), outcome.RecordedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "PRIMARY KEY") {
			return contracts.ErrOutcomeExists
		}
		return fmt.Errorf("failed to insert outcome: %w", err)
	}
	return nil
}

func (s *SQLiteOutcomeStore) GetByAction(ctx context.Context, actionID string) (*contracts.Outcome, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT outcome_id, action_id, success, impact_score, results, recorded_at
		 FROM outcomes WHERE action_id = ?`, actionID)

	var outcome contracts.Outcome
	var success int
	var resultsJSON sql.NullString
	var recordedAt string
	err := row.Scan(&outcome.OutcomeID, &outcome.ActionID, &success, &outcome.ImpactScore, &resultsJSON, &recordedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contracts.ErrActionNotFound
		}
		return nil, err
	}
	outcome.Success = success == 1
	outcome.RecordedAt = parseActionTime(recordedAt)
	if resultsJSON.Valid && resultsJSON.String != "" {
		_ = json.Unmarshal([]byte(resultsJSON.String), &outcome.Results)
	}
	return &outcome, nil
}
