package reputation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/chaoschain/chaoscore/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteScoreStore is a durable ScoreStore backed by SQLite.
type SQLiteScoreStore struct {
	db *sql.DB
}

// NewSQLiteScoreStore creates the schema if needed.
func NewSQLiteScoreStore(db *sql.DB) (*SQLiteScoreStore, error) {
	s := &SQLiteScoreStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteScoreStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS reputation_scores (
		agent_id TEXT NOT NULL,
		domain TEXT NOT NULL,
		score REAL NOT NULL,
		sample_count INTEGER NOT NULL,
		last_updated TEXT NOT NULL,
		version INTEGER NOT NULL,
		PRIMARY KEY (agent_id, domain)
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteScoreStore) Get(ctx context.Context, agentID, domain string) (contracts.ReputationScore, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT agent_id, domain, score, sample_count, last_updated, version
		 FROM reputation_scores WHERE agent_id = ? AND domain = ?`, agentID, domain)
	score, err := scanScore(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return contracts.ReputationScore{}, contracts.ErrAgentUnknown
		}
		return contracts.ReputationScore{}, err
	}
	return score, nil
}

func (s *SQLiteScoreStore) CompareAndSwap(ctx context.Context, score contracts.ReputationScore, expectedVersion uint64) (bool, error) {
	if expectedVersion == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO reputation_scores (agent_id, domain, score, sample_count, last_updated, version)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (agent_id, domain) DO NOTHING`,
			score.AgentID, score.Domain, score.Score, score.SampleCount,
			score.LastUpdated.UTC().Format(time.RFC3339Nano), score.Version)
		if err != nil {
			return false, err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		return rows == 1, nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE reputation_scores
		 SET score = ?, sample_count = ?, last_updated = ?, version = ?
		 WHERE agent_id = ? AND domain = ? AND version = ?`,
		score.Score, score.SampleCount, score.LastUpdated.UTC().Format(time.RFC3339Nano),
		score.Version, score.AgentID, score.Domain, expectedVersion)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (s *SQLiteScoreStore) ListByDomain(ctx context.Context, domain string) ([]contracts.ReputationScore, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT agent_id, domain, score, sample_count, last_updated, version
		 FROM reputation_scores WHERE domain = ?`, domain)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var scores []contracts.ReputationScore
	for rows.Next() {
		score, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		scores = append(scores, score)
	}
	return scores, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScore(row rowScanner) (contracts.ReputationScore, error) {
	var score contracts.ReputationScore
	var lastUpdated string
	err := row.Scan(&score.AgentID, &score.Domain, &score.Score, &score.SampleCount, &lastUpdated, &score.Version)
	if err != nil {
		return contracts.ReputationScore{}, err
	}
	if t, perr := time.Parse(time.RFC3339Nano, lastUpdated); perr == nil {
		score.LastUpdated = t
	}
	return score, nil
}
