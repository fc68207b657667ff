package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chaoschain/chaoscore/pkg/contracts"
)

func newTestRegistry() *Registry {
	return New(NewMemoryActionStore(), NewMemoryOutcomeStore()).
		WithClock(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) })
}

func sampleAction(id string) *contracts.Action {
	return &contracts.Action{
		ActionID:    id,
		AgentID:     "agent-1",
		ActionType:  "ANALYZE",
		Description: "analyze market data",
		Inputs:      contracts.Payload{"dataset": "btc-1h"},
	}
}

func TestRecordAssignsIDAndStatus(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	id, err := r.Record(ctx, sampleAction(""))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := r.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, contracts.StatusRecorded, got.Status)
	require.Equal(t, uint64(1), got.Version)
	require.Equal(t, got.CreatedAt, got.UpdatedAt)
}

func TestRecordRequiresAgentAndType(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	_, err := r.Record(ctx, &contracts.Action{ActionType: "ANALYZE"})
	require.Error(t, err)
	_, err = r.Record(ctx, &contracts.Action{AgentID: "agent-1"})
	require.Error(t, err)
}

func TestRecordIdempotentOnIdenticalContent(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	id1, err := r.Record(ctx, sampleAction("act-1"))
	require.NoError(t, err)

	id2, err := r.Record(ctx, sampleAction("act-1"))
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestRecordConflictingContentFails(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	_, err := r.Record(ctx, sampleAction("act-1"))
	require.NoError(t, err)

	other := sampleAction("act-1")
	other.Inputs = contracts.Payload{"dataset": "eth-1h"}
	_, err = r.Record(ctx, other)
	require.ErrorIs(t, err, contracts.ErrDuplicateAction)
}

func TestGetUnknownAction(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Get(context.Background(), "missing")
	require.ErrorIs(t, err, contracts.ErrActionNotFound)
}

func TestTransitionHappyPath(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	id, err := r.Record(ctx, sampleAction(""))
	require.NoError(t, err)

	require.NoError(t, r.TransitionStatus(ctx, id, contracts.StatusVerified))
	require.NoError(t, r.TransitionStatus(ctx, id, contracts.StatusAnchored))
	require.NoError(t, r.TransitionStatus(ctx, id, contracts.StatusOutcomeRecorded))
	require.NoError(t, r.TransitionStatus(ctx, id, contracts.StatusRewarded))

	got, err := r.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, contracts.StatusRewarded, got.Status)
	require.Equal(t, uint64(5), got.Version)
}

func TestTransitionBackwardRejected(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	id, err := r.Record(ctx, sampleAction(""))
	require.NoError(t, err)
	require.NoError(t, r.TransitionStatus(ctx, id, contracts.StatusVerified))

	err = r.TransitionStatus(ctx, id, contracts.StatusRecorded)
	require.ErrorIs(t, err, contracts.ErrInvalidTransition)

	var terr *contracts.TransitionError
	require.ErrorAs(t, err, &terr)
	require.Equal(t, contracts.StatusVerified, terr.From)
}

func TestRejectCarriesReason(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	id, err := r.Record(ctx, sampleAction(""))
	require.NoError(t, err)
	require.NoError(t, r.Reject(ctx, id, "attestation signature invalid"))

	got, err := r.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, contracts.StatusRejected, got.Status)
	require.Equal(t, "attestation signature invalid", got.RejectReason)
}

func TestRejectedIsTerminal(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	id, err := r.Record(ctx, sampleAction(""))
	require.NoError(t, err)
	require.NoError(t, r.Reject(ctx, id, "bad payload"))

	err = r.TransitionStatus(ctx, id, contracts.StatusVerified)
	require.ErrorIs(t, err, contracts.ErrInvalidTransition)
}

func TestRejectOnlyBeforeAnchoring(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	id, err := r.Record(ctx, sampleAction(""))
	require.NoError(t, err)
	require.NoError(t, r.TransitionStatus(ctx, id, contracts.StatusVerified))
	require.NoError(t, r.TransitionStatus(ctx, id, contracts.StatusAnchored))

	err = r.Reject(ctx, id, "too late")
	require.ErrorIs(t, err, contracts.ErrInvalidTransition)
}

func TestConcurrentTransitionsExactlyOneWins(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	id, err := r.Record(ctx, sampleAction(""))
	require.NoError(t, err)

	const racers = 8
	errs := make(chan error, racers)
	for i := 0; i < racers; i++ {
		go func() {
			errs <- r.TransitionStatus(ctx, id, contracts.StatusVerified)
		}()
	}

	var wins, losses int
	for i := 0; i < racers; i++ {
		if err := <-errs; err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, contracts.ErrInvalidTransition)
			losses++
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, racers-1, losses)
}

func TestQueryFiltersAndPaginates(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	r := New(NewMemoryActionStore(), NewMemoryOutcomeStore()).
		WithClock(func() time.Time {
			tick++
			return base.Add(time.Duration(tick) * time.Minute)
		})
	ctx := context.Background()

	for i, agent := range []string{"agent-1", "agent-2", "agent-1", "agent-1"} {
		a := sampleAction("")
		a.AgentID = agent
		if i == 3 {
			a.ActionType = "TRADE"
		}
		_, err := r.Record(ctx, a)
		require.NoError(t, err)
	}

	all, err := r.Query(ctx, contracts.ActionFilter{AgentID: "agent-1"}, contracts.Page{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	trades, err := r.Query(ctx, contracts.ActionFilter{ActionType: "TRADE"}, contracts.Page{})
	require.NoError(t, err)
	require.Len(t, trades, 1)

	page, err := r.Query(ctx, contracts.ActionFilter{AgentID: "agent-1"}, contracts.Page{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)

	// Deterministic ordering: oldest first.
	require.True(t, all[0].CreatedAt.Before(all[1].CreatedAt))
}

func TestRecordOutcomeOncePerAction(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	id, err := r.Record(ctx, sampleAction(""))
	require.NoError(t, err)

	outcomeID, err := r.RecordOutcome(ctx, &contracts.Outcome{
		ActionID:    id,
		Success:     true,
		ImpactScore: 0.8,
	})
	require.NoError(t, err)
	require.NotEmpty(t, outcomeID)

	_, err = r.RecordOutcome(ctx, &contracts.Outcome{ActionID: id, Success: false})
	require.ErrorIs(t, err, contracts.ErrOutcomeExists)

	got, err := r.GetOutcome(ctx, id)
	require.NoError(t, err)
	require.Equal(t, outcomeID, got.OutcomeID)
	require.InDelta(t, 0.8, got.ImpactScore, 1e-9)
}

func TestTransitionUnknownAction(t *testing.T) {
	r := newTestRegistry()
	err := r.TransitionStatus(context.Background(), "missing", contracts.StatusVerified)
	require.True(t, errors.Is(err, contracts.ErrActionNotFound))
}
