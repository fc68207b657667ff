package attestation

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chaoschain/chaoscore/pkg/contracts"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	return store
}

func TestSQLiteStorePutGet(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	att := &contracts.Attestation{
		AttestationID: "att-1",
		ExecutionID:   "exec-1",
		InputHash:     "aa",
		OutputHash:    "bb",
		Environment:   "sgx-sim",
		Quote:         "deadbeef",
		SignerID:      "sim-enclave",
		SignerKey:     "cafe",
		IssuedAt:      time.Now().UTC(),
		Status:        contracts.AttestationUnverified,
	}
	require.NoError(t, store.Put(ctx, att))

	got, err := store.Get(ctx, "att-1")
	require.NoError(t, err)
	require.Equal(t, att.ExecutionID, got.ExecutionID)
	require.Equal(t, att.Quote, got.Quote)
	require.Equal(t, contracts.AttestationUnverified, got.Status)

	byExec, err := store.GetByExecution(ctx, "exec-1")
	require.NoError(t, err)
	require.Equal(t, "att-1", byExec.AttestationID)
}

func TestSQLiteStoreUniqueExecution(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	first := &contracts.Attestation{AttestationID: "att-1", ExecutionID: "exec-1", InputHash: "a", OutputHash: "b", Environment: "sgx-sim", Quote: "q", SignerID: "s", SignerKey: "k", IssuedAt: time.Now(), Status: contracts.AttestationUnverified}
	require.NoError(t, store.Put(ctx, first))

	second := *first
	second.AttestationID = "att-2"
	require.Error(t, store.Put(ctx, &second))
}

func TestSQLiteStoreUpdateStatus(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	att := &contracts.Attestation{AttestationID: "att-1", ExecutionID: "exec-1", InputHash: "a", OutputHash: "b", Environment: "sgx-sim", Quote: "q", SignerID: "s", SignerKey: "k", IssuedAt: time.Now(), Status: contracts.AttestationUnverified}
	require.NoError(t, store.Put(ctx, att))

	require.NoError(t, store.UpdateStatus(ctx, "att-1", contracts.AttestationValid))
	got, err := store.Get(ctx, "att-1")
	require.NoError(t, err)
	require.Equal(t, contracts.AttestationValid, got.Status)

	require.ErrorIs(t, store.UpdateStatus(ctx, "missing", contracts.AttestationValid), contracts.ErrAttestationNotFound)
}

func TestSQLiteStoreGetMissing(t *testing.T) {
	store := newSQLiteStore(t)
	_, err := store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, contracts.ErrAttestationNotFound)
}
