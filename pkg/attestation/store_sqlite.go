package attestation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/chaoschain/chaoscore/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a durable Store backed by SQLite. The unique index on
// execution_id enforces the one-attestation-per-execution invariant in the
// database, not in application code.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates the schema if needed.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS attestations (
		attestation_id TEXT PRIMARY KEY,
		execution_id TEXT NOT NULL UNIQUE,
		input_hash TEXT NOT NULL,
		output_hash TEXT NOT NULL,
		environment TEXT NOT NULL,
		quote TEXT NOT NULL,
		signer_id TEXT NOT NULL,
		signer_key TEXT NOT NULL,
		issued_at TEXT NOT NULL,
		status TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Put(ctx context.Context, att *contracts.Attestation) error {
	query := `INSERT INTO attestations (
		attestation_id, execution_id, input_hash, output_hash, environment,
		quote, signer_id, signer_key, issued_at, status
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		att.AttestationID, att.ExecutionID, att.InputHash, att.OutputHash, att.Environment,
		att.Quote, att.SignerID, att.SignerKey, att.IssuedAt.UTC().Format(time.RFC3339Nano), string(att.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to insert attestation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, attestationID string) (*contracts.Attestation, error) {
	return s.queryOne(ctx, `SELECT attestation_id, execution_id, input_hash, output_hash, environment,
		quote, signer_id, signer_key, issued_at, status
		FROM attestations WHERE attestation_id = ?`, attestationID)
}

func (s *SQLiteStore) GetByExecution(ctx context.Context, executionID string) (*contracts.Attestation, error) {
	return s.queryOne(ctx, `SELECT attestation_id, execution_id, input_hash, output_hash, environment,
		quote, signer_id, signer_key, issued_at, status
		FROM attestations WHERE execution_id = ?`, executionID)
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, attestationID string, status contracts.AttestationStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE attestations SET status = ? WHERE attestation_id = ?`, string(status), attestationID)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return contracts.ErrAttestationNotFound
	}
	return nil
}

func (s *SQLiteStore) queryOne(ctx context.Context, query string, arg any) (*contracts.Attestation, error) {
	row := s.db.QueryRowContext(ctx, query, arg)
	var att contracts.Attestation
	var issuedAt, status string
	err := row.Scan(&att.AttestationID, &att.ExecutionID, &att.InputHash, &att.OutputHash, &att.Environment,
		&att.Quote, &att.SignerID, &att.SignerKey, &issuedAt, &status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contracts.ErrAttestationNotFound
		}
		return nil, err
	}
	att.IssuedAt = parseTime(issuedAt)
	att.Status = contracts.AttestationStatus(status)
	return &att, nil
}

func parseTime(value string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	return time.Time{}
}
