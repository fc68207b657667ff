package reward

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

// SQLiteDistributionStore is a durable DistributionStore backed by SQLite.
type SQLiteDistributionStore struct {
	db *sql.DB
}

// NewSQLiteDistributionStore creates the schema if needed.
func NewSQLiteDistributionStore(db *sql.DB) (*SQLiteDistributionStore, error) {
	s := &SQLiteDistributionStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDistributionStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS distributions (
		action_id TEXT PRIMARY KEY,
		shares JSON NOT NULL,
		total REAL NOT NULL,
		distributed_at TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteDistributionStore) Insert(ctx context.Context, dist *contracts.Distribution) error {
	sharesJSON, err := json.Marshal(dist.Shares)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO distributions (action_id, shares, total, distributed_at) VALUES (?, ?, ?, ?)`,
		dist.ActionID, string(sharesJSON), dist.Total,
		dist.DistributedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "PRIMARY KEY") {
			return contracts.ErrAlreadyDistributed
		}
		return fmt.Errorf("failed to insert distribution: %w", err)
	}
	return nil
}

func (s *SQLiteDistributionStore) GetByAction(ctx context.Context, actionID string) (*contracts.Distribution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT action_id, shares, total, distributed_at FROM distributions WHERE action_id = ?`, actionID)

	var dist contracts.Distribution
	var sharesJSON, distributedAt string
	err := row.Scan(&dist.ActionID, &sharesJSON, &dist.Total, &distributedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contracts.ErrActionNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(sharesJSON), &dist.Shares); err != nil {
		return nil, err
	}
	if t, perr := time.Parse(time.RFC3339Nano, distributedAt); perr == nil {
		dist.DistributedAt = t
	}
	return &dist, nil
}
