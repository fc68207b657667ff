package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/chaoschain/chaoscore/pkg/contracts"
)

// PostgresActionStore is a durable ActionStore backed by PostgreSQL, for
// deployments where the registry is shared across replicas.
type PostgresActionStore struct {
	db *sql.DB
}

// NewPostgresActionStore wraps an open connection. Schema is managed by
// migrations, see migrations/postgres.
func NewPostgresActionStore(db *sql.DB) *PostgresActionStore {
	return &PostgresActionStore{db: db}
}

func (s *PostgresActionStore) Insert(ctx context.Context, action *contracts.Action) error {
	inputsJSON, _ := json.Marshal(action.Inputs)
	outputsJSON, _ := json.Marshal(action.Outputs)

	query := `INSERT INTO actions (
		action_id, agent_id, action_type, description, inputs, outputs,
		execution_id, status, reject_reason, created_at, updated_at, version
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.db.ExecContext(ctx, query,
		action.ActionID, action.AgentID, action.ActionType, action.Description,
		string(inputsJSON), string(outputsJSON), action.ExecutionID,
		string(action.Status), action.RejectReason,
		action.CreatedAt.UTC(), action.UpdatedAt.UTC(), action.Version,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return contracts.ErrDuplicateAction
		}
		return fmt.Errorf("failed to insert action: %w", err)
	}
	return nil
}

func (s *PostgresActionStore) Get(ctx context.Context, actionID string) (*contracts.Action, error) {
	query := `SELECT action_id, agent_id, action_type, description, inputs, outputs,
		execution_id, status, reject_reason, created_at, updated_at, version
		FROM actions WHERE action_id = $1`
	row := s.db.QueryRowContext(ctx, query, actionID)
	action, err := scanPGAction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contracts.ErrActionNotFound
		}
		return nil, err
	}
	return action, nil
}

func (s *PostgresActionStore) Query(ctx context.Context, filter contracts.ActionFilter, page contracts.Page) ([]*contracts.Action, error) {
	query := `SELECT action_id, agent_id, action_type, description, inputs, outputs,
		execution_id, status, reject_reason, created_at, updated_at, version
		FROM actions WHERE 1=1`
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.AgentID != "" {
		query += ` AND agent_id = ` + arg(filter.AgentID)
	}
	if filter.ActionType != "" {
		query += ` AND action_type = ` + arg(filter.ActionType)
	}
	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ` + arg(filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		query += ` AND created_at <= ` + arg(filter.Until.UTC())
	}

	query += ` ORDER BY created_at ASC, action_id ASC`
	if page.Limit > 0 {
		query += ` LIMIT ` + arg(page.Limit)
	}
	if page.Offset > 0 {
		query += ` OFFSET ` + arg(page.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var actions []*contracts.Action
	for rows.Next() {
		action, err := scanPGAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

func (s *PostgresActionStore) CompareAndSwapStatus(ctx context.Context, actionID string, from, to contracts.ActionStatus, reason string, at time.Time) (bool, error) {
	query := `UPDATE actions
		SET status = $1,
			reject_reason = CASE WHEN $2 <> '' THEN $2 ELSE reject_reason END,
			updated_at = $3, version = version + 1
		WHERE action_id = $4 AND status = $5`
	res, err := s.db.ExecContext(ctx, query, string(to), reason, at.UTC(), actionID, string(from))
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func scanPGAction(row rowScanner) (*contracts.Action, error) {
	var action contracts.Action
	var description, inputsJSON, outputsJSON, executionID, rejectReason sql.NullString
	var status string
	var createdAt, updatedAt time.Time

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
	action.CreatedAt = createdAt.UTC()
	action.UpdatedAt = updatedAt.UTC()
	if inputsJSON.Valid && inputsJSON.String != "" {
		_ = json.Unmarshal([]byte(inputsJSON.String), &action.Inputs)
	}
	if outputsJSON.Valid && outputsJSON.String != "" {
		_ = json.Unmarshal([]byte(outputsJSON.String), &action.Outputs)
	}
	return &action, nil
}
