package cache

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	return c, mr
}

func TestRedisCacheGetMissingKey(t *testing.T) {
	c, _ := newTestCache(t)
	value, err := c.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if value != "" {
		t.Fatalf("expected empty value, got %q", value)
	}
}

func TestRedisCacheBLMoveTakesTail(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	for _, v := range []string{"first", "second"} {
		if _, err := mr.Lpush("queue", v); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	value, ok, err := c.BLMove(ctx, "queue", "queue:held", time.Second)
	if err != nil || !ok {
		t.Fatalf("blmove failed: ok=%v err=%v", ok, err)
	}
	if value != "first" {
		t.Fatalf("unexpected move %s", value)
	}
	held, err := c.LRange(ctx, "queue:held", 0, -1)
	if err != nil {
		t.Fatalf("lrange failed: %v", err)
	}
	if len(held) != 1 || held[0] != "first" {
		t.Fatalf("moved element not held: %v", held)
	}
	left, _ := mr.List("queue")
	if len(left) != 1 || left[0] != "second" {
		t.Fatalf("unexpected source list %v", left)
	}
}

func TestRedisCacheBLMoveTimeout(t *testing.T) {
	c, mr := newTestCache(t)
	_, ok, err := c.BLMove(context.Background(), "empty", "empty:held", time.Second)
	if err != nil {
		t.Fatalf("blmove failed: %v", err)
	}
	if ok {
		t.Fatalf("expected timeout")
	}
	if mr.Exists("empty:held") {
		t.Fatalf("timeout must not create the destination")
	}
}

func TestRedisCacheRPushJumpsQueue(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	if _, err := mr.Lpush("queue", "waiting"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := c.RPush(ctx, "queue", "retry"); err != nil {
		t.Fatalf("rpush failed: %v", err)
	}
	value, ok, err := c.BLMove(ctx, "queue", "queue:held", time.Second)
	if err != nil || !ok || value != "retry" {
		t.Fatalf("expected retry first, got %q ok=%v err=%v", value, ok, err)
	}
}

func TestRedisConfigDefaults(t *testing.T) {
	cfg := RedisConfig{Addr: "x", PoolSize: 4}
	cfg.ApplyDefaults()
	if cfg.PoolSize != 4 {
		t.Fatalf("explicit pool size overwritten: %d", cfg.PoolSize)
	}
	if cfg.DialTimeout == 0 || cfg.MaxRetries == 0 {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestRedisCacheLockOwnership(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	ok, err := c.TryLock(ctx, "lock", "owner-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first lock failed: ok=%v err=%v", ok, err)
	}
	ok, err = c.TryLock(ctx, "lock", "owner-b", time.Minute)
	if err != nil || ok {
		t.Fatalf("second lock should fail: ok=%v err=%v", ok, err)
	}

	if err := c.Unlock(ctx, "lock", "owner-b"); err != nil {
		t.Fatalf("foreign unlock failed: %v", err)
	}
	if !mr.Exists("lock") {
		t.Fatalf("foreign unlock must not release the lock")
	}
	if err := c.Unlock(ctx, "lock", "owner-a"); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if mr.Exists("lock") {
		t.Fatalf("lock should be released")
	}
}

func TestGetOrLoad(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	loads := 0
	load := func(context.Context) (int, error) {
		loads++
		return 42, nil
	}
	marshal := func(v int) (string, error) { return strconv.Itoa(v), nil }

	for i := 0; i < 2; i++ {
		got, err := GetOrLoad(ctx, c, "answer", time.Minute, marshal, strconv.Atoi, load)
		if err != nil {
			t.Fatalf("get or load failed: %v", err)
		}
		if got != 42 {
			t.Fatalf("unexpected value %d", got)
		}
	}
	if loads != 1 {
		t.Fatalf("expected a single load, got %d", loads)
	}
	if ttl := mr.TTL("answer"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	wantErr := errors.New("boom")
	_, err := GetOrLoad(ctx, c, "other", time.Minute, marshal, strconv.Atoi, func(context.Context) (int, error) {
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected load error, got %v", err)
	}
}
