package anchor

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

// SQLiteStore is a durable anchor record store backed by SQLite.
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
	CREATE TABLE IF NOT EXISTS anchor_records (
		action_id TEXT PRIMARY KEY,
		ledger_ref TEXT NOT NULL,
		payload_hash TEXT NOT NULL,
		verifiers JSON,
		batch_id TEXT,
		merkle_root TEXT,
		anchored_at TEXT NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Insert(ctx context.Context, record *contracts.AnchorRecord) error {
	verifiersJSON, _ := json.Marshal(record.Verifiers)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO anchor_records (action_id, ledger_ref, payload_hash, verifiers, batch_id, merkle_root, anchored_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ActionID, record.LedgerRef, record.PayloadHash, string(verifiersJSON),
		record.BatchID, record.MerkleRoot, record.AnchoredAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") || strings.Contains(err.Error(), "PRIMARY KEY") {
			return contracts.ErrAnchorExists
		}
		return fmt.Errorf("failed to insert anchor record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetByAction(ctx context.Context, actionID string) (*contracts.AnchorRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT action_id, ledger_ref, payload_hash, verifiers, batch_id, merkle_root, anchored_at
		 FROM anchor_records WHERE action_id = ?`, actionID)

	record, err := scanAnchorRecord(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, contracts.ErrActionNotFound
		}
		return nil, err
	}
	return record, nil
}

func (s *SQLiteStore) ListByBatch(ctx context.Context, batchID string) ([]*contracts.AnchorRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT action_id, ledger_ref, payload_hash, verifiers, batch_id, merkle_root, anchored_at
		 FROM anchor_records WHERE batch_id = ? ORDER BY action_id`, batchID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []*contracts.AnchorRecord
	for rows.Next() {
		record, err := scanAnchorRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func scanAnchorRecord(scan func(...any) error) (*contracts.AnchorRecord, error) {
	var record contracts.AnchorRecord
	var verifiersJSON, batchID, merkleRoot sql.NullString
	var anchoredAt string
	err := scan(&record.ActionID, &record.LedgerRef, &record.PayloadHash,
		&verifiersJSON, &batchID, &merkleRoot, &anchoredAt)
	if err != nil {
		return nil, err
	}
	record.BatchID = batchID.String
	record.MerkleRoot = merkleRoot.String
	if verifiersJSON.Valid && verifiersJSON.String != "" {
		_ = json.Unmarshal([]byte(verifiersJSON.String), &record.Verifiers)
	}
	if t, perr := time.Parse(time.RFC3339Nano, anchoredAt); perr == nil {
		record.AnchoredAt = t
	}
	return &record, nil
}
