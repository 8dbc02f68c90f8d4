package kv_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/justLukaBB/creditor-email-matcher/pkg/store/kv"
)

// newTestRedisStore points a kv.RedisStore at an in-process miniredis
// server so the TxPipeline incr+expire path runs against real RESP
// semantics without a network dependency.
func newTestRedisStore(t *testing.T) (*kv.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := kv.NewRedisStoreWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	return store, mr
}

func TestRedisStoreIncrByFloatAccumulates(t *testing.T) {
	store, mr := newTestRedisStore(t)
	defer mr.Close()
	ctx := context.Background()

	total, err := store.IncrByFloat(ctx, "daily_cost", 1.50, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1.50 {
		t.Fatalf("expected 1.50, got %v", total)
	}

	total, err = store.IncrByFloat(ctx, "daily_cost", 2.25, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3.75 {
		t.Fatalf("expected 3.75, got %v", total)
	}

	ttl := mr.TTL("daily_cost")
	if ttl <= 0 {
		t.Fatalf("expected a positive TTL on daily_cost, got %v", ttl)
	}
}

func TestRedisStoreGetFloatMissingKey(t *testing.T) {
	store, mr := newTestRedisStore(t)
	defer mr.Close()

	_, ok, err := store.GetFloat(context.Background(), "never_set")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected ok=false for a missing key")
	}
}

func TestRedisStoreSetGetRoundTrip(t *testing.T) {
	store, mr := newTestRedisStore(t)
	defer mr.Close()
	ctx := context.Background()

	if err := store.Set(ctx, "token", "abc123", time.Minute); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok, err := store.Get(ctx, "token")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || got != "abc123" {
		t.Fatalf("expected (abc123, true), got (%q, %v)", got, ok)
	}
}

func TestStubRoundTrip(t *testing.T) {
	store := kv.NewStub()
	ctx := context.Background()

	total, err := store.IncrByFloat(ctx, "k", 5, time.Minute)
	if err != nil || total != 5 {
		t.Fatalf("expected (5, nil), got (%v, %v)", total, err)
	}
	total, _ = store.IncrByFloat(ctx, "k", 5, time.Minute)
	if total != 10 {
		t.Fatalf("expected cumulative 10, got %v", total)
	}

	v, ok, _ := store.GetFloat(ctx, "missing")
	if ok || v != 0 {
		t.Fatalf("expected (0, false) for missing key, got (%v, %v)", v, ok)
	}
}
