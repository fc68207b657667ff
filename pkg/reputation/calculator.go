package reputation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/chaoschain/chaoscore/pkg/contracts"
)

// Cache is an optional read-through cache in front of the score store.
type Cache interface {
	Get(ctx context.Context, agentID, domain string) (contracts.ReputationScore, bool, error)
	Put(ctx context.Context, score contracts.ReputationScore) error
	Delete(ctx context.Context, agentID, domain string) error
}

// casRetries bounds the update loop under write contention.
const casRetries = 8

// Calculator folds outcomes into reputation scores and serves reads and
// rankings. It implements the outcome event sink, so wiring it behind the
// assessor keeps scores current without a separate pipeline.
type Calculator struct {
	store  ScoreStore
	cache  Cache
	params Params
	clock  func() time.Time
}

// NewCalculator creates a Calculator. cache may be nil.
func NewCalculator(store ScoreStore, cache Cache, params Params) *Calculator {
	return &Calculator{
		store:  store,
		cache:  cache,
		params: params.withDefaults(),
		clock:  time.Now,
	}
}

// WithClock overrides the clock for testing.
func (c *Calculator) WithClock(clock func() time.Time) *Calculator {
	c.clock = clock
	return c
}

// OutcomeRecorded feeds an outcome event into the score for the acting
// agent, keyed by action type as the reputation domain.
func (c *Calculator) OutcomeRecorded(ctx context.Context, action *contracts.Action, outcome *contracts.Outcome) error {
	_, err := c.Update(ctx, action.AgentID, action.ActionType, outcome.Success, outcome.ImpactScore)
	return err
}

// Update folds one observation into the (agent, domain) score. Updates are
// compare-and-swap on the stored version, retried on conflict, so concurrent
// observers never lose writes.
func (c *Calculator) Update(ctx context.Context, agentID, domain string, success bool, impact float64) (contracts.ReputationScore, error) {
	now := c.clock().UTC()

	for attempt := 0; attempt < casRetries; attempt++ {
		prev, err := c.store.Get(ctx, agentID, domain)
		if err != nil {
			if !errors.Is(err, contracts.ErrAgentUnknown) {
				return contracts.ReputationScore{}, err
			}
			prev = contracts.ReputationScore{AgentID: agentID, Domain: domain}
		}

		next := Apply(prev, success, impact, now, c.params)
		swapped, err := c.store.CompareAndSwap(ctx, next, prev.Version)
		if err != nil {
			return contracts.ReputationScore{}, err
		}
		if !swapped {
			continue
		}

		if c.cache != nil {
			if err := c.cache.Delete(ctx, agentID, domain); err != nil {
				return next, fmt.Errorf("score updated but cache invalidation failed: %w", err)
			}
		}
		return next, nil
	}
	return contracts.ReputationScore{}, fmt.Errorf("reputation update for agent %s in %s lost %d races", agentID, domain, casRetries)
}

// Get returns the stored score, read through the cache when one is
// configured. Unknown agents report the initial score with zero samples.
func (c *Calculator) Get(ctx context.Context, agentID, domain string) (contracts.ReputationScore, error) {
	if c.cache != nil {
		if score, hit, err := c.cache.Get(ctx, agentID, domain); err == nil && hit {
			return score, nil
		}
	}

	score, err := c.store.Get(ctx, agentID, domain)
	if err != nil {
		if errors.Is(err, contracts.ErrAgentUnknown) {
			return contracts.ReputationScore{
				AgentID: agentID,
				Domain:  domain,
				Score:   c.params.InitialScore,
			}, nil
		}
		return contracts.ReputationScore{}, err
	}

	if c.cache != nil {
		_ = c.cache.Put(ctx, score)
	}
	return score, nil
}

// Rank returns the domain leaderboard: score descending, then sample count
// descending, then agent id ascending so equal scores order deterministically.
func (c *Calculator) Rank(ctx context.Context, domain string, limit int) ([]contracts.ReputationScore, error) {
	scores, err := c.store.ListByDomain(ctx, domain)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		if scores[i].SampleCount != scores[j].SampleCount {
			return scores[i].SampleCount > scores[j].SampleCount
		}
		return scores[i].AgentID < scores[j].AgentID
	})

	if limit > 0 && limit < len(scores) {
		scores = scores[:limit]
	}
	return scores, nil
}
