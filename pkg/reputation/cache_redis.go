package reputation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chaoschain/chaoscore/pkg/contracts"
)

// RedisCache caches reputation scores in Redis with a TTL. Misses and
// deserialization failures are reported as misses, never as errors the
// caller must handle: the store stays authoritative.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache wraps a Redis client. A non-positive ttl defaults to one
// minute.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisCache{client: client, ttl: ttl, prefix: "chaoscore:reputation"}
}

func (c *RedisCache) key(agentID, domain string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, domain, agentID)
}

func (c *RedisCache) Get(ctx context.Context, agentID, domain string) (contracts.ReputationScore, bool, error) {
	raw, err := c.client.Get(ctx, c.key(agentID, domain)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return contracts.ReputationScore{}, false, nil
		}
		return contracts.ReputationScore{}, false, err
	}

	var score contracts.ReputationScore
	if err := json.Unmarshal([]byte(raw), &score); err != nil {
		return contracts.ReputationScore{}, false, nil
	}
	return score, true, nil
}

func (c *RedisCache) Put(ctx context.Context, score contracts.ReputationScore) error {
	raw, err := json.Marshal(score)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(score.AgentID, score.Domain), raw, c.ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, agentID, domain string) error {
	return c.client.Del(ctx, c.key(agentID, domain)).Err()
}
