package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultTTL is how long an answer stays cached
const DefaultTTL = 600 * time.Second

// AnswerCache stores JSON-encoded answers in a Store.
// Invalidation is TTL-only.
type AnswerCache struct {
	store  Store
	ttl    time.Duration
	logger *zap.Logger
}

// NewAnswerCache creates an AnswerCache. A non-positive ttl selects DefaultTTL.
func NewAnswerCache(store Store, ttl time.Duration, logger *zap.Logger) *AnswerCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &AnswerCache{
		store:  store,
		ttl:    ttl,
		logger: logger,
	}
}

// TTL returns the configured entry lifetime
func (c *AnswerCache) TTL() time.Duration {
	return c.ttl
}

// Get decodes the entry under key into dst. It returns false on a miss.
func (c *AnswerCache) Get(ctx context.Context, key string, dst interface{}) (bool, error) {
	data, found, err := c.store.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached answer: %w", err)
	}
	return true, nil
}

// Set encodes value and stores it under key for the configured TTL
func (c *AnswerCache) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal answer: %w", err)
	}
	return c.store.Set(ctx, key, data, c.ttl)
}

// Ping reports whether the backing store is reachable
func (c *AnswerCache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// InvalidateAgent is a hook for agent or knowledge base edits. Keys are
// one-way hashes, so entries cannot be enumerated per agent; stale answers
// age out with the TTL. Nothing calls it yet: agent and knowledge base edits
// happen outside this service and do not invalidate entries.
func (c *AnswerCache) InvalidateAgent(_ context.Context, agentID string) {
	c.logger.Info("answer cache invalidation requested; entries expire by TTL",
		zap.String("agent_id", agentID),
		zap.Duration("ttl", c.ttl),
	)
}
