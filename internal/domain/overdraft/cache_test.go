package overdraft

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fleetops/driver-ledger/internal/domain/ledger"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("LEDGER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LEDGER_TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("Skipping: redis not available: %v", err)
	}
	t.Cleanup(func() {
		client.Del(context.Background(), generationKey)
		client.Close()
	})
	return client
}

func TestTrendCacheDisabled(t *testing.T) {
	for _, c := range []*TrendCache{nil, NewTrendCache(nil, time.Minute), NewTrendCache(redis.NewClient(&redis.Options{}), 0)} {
		if c.Enabled() {
			t.Fatal("cache must be disabled")
		}
		c.Set(context.Background(), 0, 7, &Trend{})
		if _, ok := c.Get(context.Background(), 7); ok {
			t.Fatal("disabled cache must always miss")
		}
		if _, ok := c.Generation(context.Background()); ok {
			t.Fatal("disabled cache has no generation")
		}
		c.Invalidate(context.Background())
	}
}

func TestTrendCacheRoundTripAndInvalidate(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	cache := NewTrendCache(client, time.Minute)

	gen, ok := cache.Generation(ctx)
	if !ok {
		t.Fatal("expected a generation")
	}
	want := &Trend{PeriodDays: 7, Data: []TrendPoint{{Date: "2026-10-14", TotalSystemOverdraft: 42, DriversOverdrawn: 1}}}
	cache.Set(ctx, gen, 7, want)
	t.Cleanup(func() { client.Del(context.Background(), key(gen, 7)) })

	got, ok := cache.Get(ctx, 7)
	if !ok || got.Data[0] != want.Data[0] {
		t.Fatalf("expected cached trend, got %+v ok=%v", got, ok)
	}

	cache.TransactionRecorded(ctx, ledger.Receipt{})
	if _, ok := cache.Get(ctx, 7); ok {
		t.Fatal("ledger write must invalidate cached trends")
	}

	// A series computed before the write is stored under the old generation.
	cache.Set(ctx, gen, 7, want)
	if _, ok := cache.Get(ctx, 7); ok {
		t.Fatal("stale generation must not be served")
	}

	gen, _ = cache.Generation(ctx)
	cache.Set(ctx, gen, 7, want)
	t.Cleanup(func() { client.Del(context.Background(), key(gen, 7)) })
	cache.SpendingLimitChanged(ctx, uuid.New(), 100)
	if _, ok := cache.Get(ctx, 7); ok {
		t.Fatal("limit change must invalidate cached trends")
	}
}
