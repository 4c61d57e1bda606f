package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type entry struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	if err := mc.Set(ctx, "a", entry{Name: "BTC", Price: 1.5}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	var got entry
	if err := mc.Get(ctx, "a", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "BTC" || got.Price != 1.5 {
		t.Fatalf("unexpected value %+v", got)
	}

	typed, err := GetTyped[entry](ctx, mc, "a")
	if err != nil || typed != got {
		t.Fatalf("typed get: %+v %v", typed, err)
	}
}

func TestMemoryCacheMissAndExpiry(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	var s string
	if err := mc.Get(ctx, "nope", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}

	_ = mc.Set(ctx, "short", "v", time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if err := mc.Get(ctx, "short", &s); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected expired miss, got %v", err)
	}
}

func TestMemoryCacheEvictsOldest(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache(WithMemoryMaxSize(2))
	defer mc.Close()

	_ = mc.Set(ctx, "a", "1", time.Minute)
	time.Sleep(time.Millisecond)
	_ = mc.Set(ctx, "b", "2", time.Minute)
	time.Sleep(time.Millisecond)
	_ = mc.Set(ctx, "c", "3", time.Minute)

	if mc.Len() != 2 {
		t.Fatalf("expected 2 items, got %d", mc.Len())
	}
	if ok, _ := mc.Exists(ctx, "a"); ok {
		t.Fatalf("oldest key should be evicted")
	}
}

func TestMemoryCacheDeleteByPattern(t *testing.T) {
	ctx := context.Background()
	mc := NewMemoryCache()
	defer mc.Close()

	_ = mc.Set(ctx, "analysis:BTC:1h:1", "x", time.Minute)
	_ = mc.Set(ctx, "analysis:BTC:4h:2", "x", time.Minute)
	_ = mc.Set(ctx, "analysis:ETH:1h:1", "x", time.Minute)

	if err := mc.DeleteByPattern(ctx, BuildPattern("analysis:BTC:")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := mc.Exists(ctx, "analysis:BTC:1h:1", "analysis:BTC:4h:2"); ok {
		t.Fatalf("BTC keys should be gone")
	}
	if ok, _ := mc.Exists(ctx, "analysis:ETH:1h:1"); !ok {
		t.Fatalf("ETH key should remain")
	}
}

func TestLayeredCachePromotesFromRemote(t *testing.T) {
	ctx := context.Background()
	remote := NewMemoryCache()
	lc := NewLayeredCache(remote, WithLayeredMemoryTTL(time.Minute))
	defer lc.Close()

	_ = remote.Set(ctx, "k", entry{Name: "ETH", Price: 2}, time.Minute)

	var got entry
	if err := lc.Get(ctx, "k", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "ETH" {
		t.Fatalf("unexpected %+v", got)
	}

	_ = remote.Delete(ctx, "k")
	got = entry{}
	if err := lc.Get(ctx, "k", &got); err != nil || got.Name != "ETH" {
		t.Fatalf("expected L1 hit after promotion, got %+v %v", got, err)
	}

	_ = lc.Delete(ctx, "k")
	if err := lc.Get(ctx, "k", &got); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss after delete, got %v", err)
	}
}
