package reputation

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chaoschain/chaoscore/pkg/contracts"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]contracts.ReputationScore
	puts    int
	deletes int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]contracts.ReputationScore)}
}

func (c *memoryCache) Get(ctx context.Context, agentID, domain string) (contracts.ReputationScore, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	score, ok := c.entries[domain+"/"+agentID]
	return score, ok, nil
}

func (c *memoryCache) Put(ctx context.Context, score contracts.ReputationScore) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[score.Domain+"/"+score.AgentID] = score
	c.puts++
	return nil
}

func (c *memoryCache) Delete(ctx context.Context, agentID, domain string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, domain+"/"+agentID)
	c.deletes++
	return nil
}

func newTestCalculator(cache Cache) *Calculator {
	return NewCalculator(NewMemoryScoreStore(), cache, DefaultParams()).
		WithClock(func() time.Time { return t0 })
}

func TestUpdateAndGet(t *testing.T) {
	c := newTestCalculator(nil)
	ctx := context.Background()

	score, err := c.Update(ctx, "agent-1", "ANALYZE", true, 1.0)
	require.NoError(t, err)
	require.InDelta(t, 55, score.Score, 1e-9)

	got, err := c.Get(ctx, "agent-1", "ANALYZE")
	require.NoError(t, err)
	require.Equal(t, score, got)
}

func TestGetUnknownAgentReportsInitialScore(t *testing.T) {
	c := newTestCalculator(nil)

	got, err := c.Get(context.Background(), "stranger", "ANALYZE")
	require.NoError(t, err)
	require.Equal(t, DefaultParams().InitialScore, got.Score)
	require.Zero(t, got.SampleCount)
}

func TestOutcomeEventFeedsScore(t *testing.T) {
	c := newTestCalculator(nil)
	ctx := context.Background()

	err := c.OutcomeRecorded(ctx,
		&contracts.Action{ActionID: "act-1", AgentID: "agent-1", ActionType: "ANALYZE"},
		&contracts.Outcome{ActionID: "act-1", Success: true, ImpactScore: 0.5})
	require.NoError(t, err)

	got, err := c.Get(ctx, "agent-1", "ANALYZE")
	require.NoError(t, err)
	require.Equal(t, 1, got.SampleCount)
	require.Greater(t, got.Score, DefaultParams().InitialScore)
}

func TestConcurrentUpdatesAllLand(t *testing.T) {
	c := newTestCalculator(nil)
	ctx := context.Background()

	const writers = 8
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func() {
			_, err := c.Update(ctx, "agent-1", "ANALYZE", true, 0.5)
			errs <- err
		}()
	}
	for i := 0; i < writers; i++ {
		require.NoError(t, <-errs)
	}

	got, err := c.Get(ctx, "agent-1", "ANALYZE")
	require.NoError(t, err)
	require.Equal(t, writers, got.SampleCount)
}

func TestCacheReadThroughAndInvalidation(t *testing.T) {
	cache := newMemoryCache()
	c := newTestCalculator(cache)
	ctx := context.Background()

	_, err := c.Update(ctx, "agent-1", "ANALYZE", true, 1.0)
	require.NoError(t, err)
	require.Equal(t, 1, cache.deletes)

	// First read fills the cache, the second is served from it.
	first, err := c.Get(ctx, "agent-1", "ANALYZE")
	require.NoError(t, err)
	require.Equal(t, 1, cache.puts)

	second, err := c.Get(ctx, "agent-1", "ANALYZE")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, cache.puts)

	// A new outcome invalidates the cached entry.
	_, err = c.Update(ctx, "agent-1", "ANALYZE", false, 1.0)
	require.NoError(t, err)
	require.Equal(t, 2, cache.deletes)

	third, err := c.Get(ctx, "agent-1", "ANALYZE")
	require.NoError(t, err)
	require.Less(t, third.Score, second.Score)
}

func TestRankDeterministicOrder(t *testing.T) {
	c := newTestCalculator(nil)
	ctx := context.Background()

	_, err := c.Update(ctx, "agent-b", "ANALYZE", true, 1.0)
	require.NoError(t, err)
	_, err = c.Update(ctx, "agent-a", "ANALYZE", true, 1.0)
	require.NoError(t, err)
	_, err = c.Update(ctx, "agent-c", "ANALYZE", false, 1.0)
	require.NoError(t, err)
	_, err = c.Update(ctx, "agent-d", "TRADE", true, 1.0)
	require.NoError(t, err)

	ranked, err := c.Rank(ctx, "ANALYZE", 0)
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	// Equal scores break ties by agent id.
	require.Equal(t, "agent-a", ranked[0].AgentID)
	require.Equal(t, "agent-b", ranked[1].AgentID)
	require.Equal(t, "agent-c", ranked[2].AgentID)

	top, err := c.Rank(ctx, "ANALYZE", 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
}

func TestSQLiteScoreStoreCAS(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLiteScoreStore(db)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Get(ctx, "agent-1", "ANALYZE")
	require.ErrorIs(t, err, contracts.ErrAgentUnknown)

	first := contracts.ReputationScore{
		AgentID: "agent-1", Domain: "ANALYZE",
		Score: 55, SampleCount: 1, LastUpdated: t0, Version: 1,
	}
	swapped, err := store.CompareAndSwap(ctx, first, 0)
	require.NoError(t, err)
	require.True(t, swapped)

	// A second first-write loses.
	swapped, err = store.CompareAndSwap(ctx, first, 0)
	require.NoError(t, err)
	require.False(t, swapped)

	second := first
	second.Score = 60
	second.SampleCount = 2
	second.Version = 2
	swapped, err = store.CompareAndSwap(ctx, second, 1)
	require.NoError(t, err)
	require.True(t, swapped)

	// Stale version loses.
	swapped, err = store.CompareAndSwap(ctx, second, 1)
	require.NoError(t, err)
	require.False(t, swapped)

	got, err := store.Get(ctx, "agent-1", "ANALYZE")
	require.NoError(t, err)
	require.InDelta(t, 60, got.Score, 1e-9)
	require.Equal(t, uint64(2), got.Version)

	scores, err := store.ListByDomain(ctx, "ANALYZE")
	require.NoError(t, err)
	require.Len(t, scores, 1)
}
