package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	xerrors "github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/errors"
)

func TestNewPredictionCacheWithClientDefaults(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	cache := NewPredictionCacheWithClient(client, "", 0)
	if cache.TTL() != DefaultTTL {
		t.Fatalf("unexpected ttl: %v", cache.TTL())
	}
	if got := cache.key("abc"); got != DefaultPrefix+"abc" {
		t.Fatalf("unexpected key: %q", got)
	}
	if err := cache.Close(); err != nil {
		t.Fatalf("Close on borrowed client should be a no-op: %v", err)
	}
}

func TestPredictionCacheReportsUnreachableServer(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	cache := NewPredictionCacheWithClient(client, "test:", time.Minute)

	_, _, err := cache.Get(context.Background(), "k")
	if xerrors.CodeOf(err) != xerrors.CodeCacheFailure {
		t.Fatalf("expected cache failure, got %v", err)
	}
	if err := cache.Set(context.Background(), "k", []byte("v")); xerrors.CodeOf(err) != xerrors.CodeCacheFailure {
		t.Fatalf("expected cache failure, got %v", err)
	}
}

func TestNewPredictionCacheRequiresAddress(t *testing.T) {
	if _, err := NewPredictionCache(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty address")
	}
}

func TestPredictionCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("VITALS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VITALS_TEST_REDIS_ADDR 未设置，跳过 Redis 集成测试")
	}
	ctx := context.Background()
	cache, err := NewPredictionCache(ctx, Config{Address: addr, Prefix: "vitals:test:", TTL: time.Minute})
	if err != nil {
		t.Fatalf("NewPredictionCache returned error: %v", err)
	}
	defer cache.Close()

	key := "roundtrip-" + time.Now().Format("150405.000000")
	if _, ok, err := cache.Get(ctx, key); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := cache.Set(ctx, key, []byte(`{"prediction":"Normal"}`)); err != nil {
		t.Fatalf("Set returned error: %v", err)
	}
	value, ok, err := cache.Get(ctx, key)
	if err != nil || !ok || string(value) != `{"prediction":"Normal"}` {
		t.Fatalf("unexpected hit: %q ok=%v err=%v", value, ok, err)
	}
}
