package overdraft

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fleetops/driver-ledger/internal/domain/ledger"
	"github.com/fleetops/driver-ledger/internal/pkg/logger"
)

const (
	cachePrefix   = "overdraft:trend"
	generationKey = cachePrefix + ":gen"
)

// TrendCache stores trend series in Redis. Keys embed a generation number;
// invalidating bumps the generation so every older series is ignored at once
// and expires on its own TTL. A nil client or non-positive TTL disables it.
type TrendCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewTrendCache(client *redis.Client, ttl time.Duration) *TrendCache {
	return &TrendCache{client: client, ttl: ttl}
}

func (c *TrendCache) Enabled() bool {
	return c != nil && c.client != nil && c.ttl > 0
}

func (c *TrendCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

func key(gen int64, days int) string {
	return fmt.Sprintf("%s:%d:%d", cachePrefix, gen, days)
}

// Get returns (nil, false) on any miss or error.
func (c *TrendCache) Get(ctx context.Context, days int) (*Trend, bool) {
	if !c.Enabled() {
		return nil, false
	}
	gen, err := c.generation(ctx)
	if err != nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, key(gen, days)).Bytes()
	if err != nil {
		return nil, false
	}
	var t Trend
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, false
	}
	return &t, true
}

// Set stores t under the generation read before it was computed, so a write
// that lands during the computation leaves the stored series unreachable.
func (c *TrendCache) Set(ctx context.Context, gen int64, days int, t *Trend) {
	if !c.Enabled() {
		return
	}
	data, err := json.Marshal(t)
	if err != nil {
		logger.FromContext(ctx).Warn().Err(err).Int("days", days).Msg("trend cache marshal failed")
		return
	}
	if err := c.client.Set(ctx, key(gen, days), data, c.ttl).Err(); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Int("days", days).Msg("trend cache write failed")
	}
}

// Generation returns the current generation for a subsequent Set. ok is false
// when the cache is disabled or unreachable.
func (c *TrendCache) Generation(ctx context.Context) (int64, bool) {
	if !c.Enabled() {
		return 0, false
	}
	gen, err := c.generation(ctx)
	if err != nil {
		return 0, false
	}
	return gen, true
}

// Invalidate drops every cached series.
func (c *TrendCache) Invalidate(ctx context.Context) {
	if !c.Enabled() {
		return
	}
	if err := c.client.Incr(ctx, generationKey).Err(); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("trend cache invalidation failed")
	}
}

// Any ledger write can change every past day's replay, backdated ones included,
// and a limit change can move a driver between warning and critical.

func (c *TrendCache) TransactionRecorded(ctx context.Context, _ ledger.Receipt) {
	c.Invalidate(context.WithoutCancel(ctx))
}

func (c *TrendCache) TransactionDeleted(ctx context.Context, _ ledger.Receipt) {
	c.Invalidate(context.WithoutCancel(ctx))
}

func (c *TrendCache) SpendingLimitChanged(ctx context.Context, _ uuid.UUID, _ int64) {
	c.Invalidate(context.WithoutCancel(ctx))
}
