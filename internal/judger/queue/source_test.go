package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"judger/internal/common/cache"
	pkgerrors "judger/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestSource(t *testing.T, cfg Config) (*Source, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	return NewSource(c, cfg), mr
}

const job = `{"solutionID":"s1","problemFiles":[],"solutionFiles":["f"],"data":{}}`

func TestPop(t *testing.T) {
	src, mr := newTestSource(t, Config{WorkerID: 1})
	if _, err := mr.Lpush("traditional", job); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	payload, ok, err := src.Pop(context.Background(), "traditional", time.Second)
	if err != nil || !ok {
		t.Fatalf("pop failed: ok=%v err=%v", ok, err)
	}
	if payload != job {
		t.Fatalf("unexpected payload %s", payload)
	}

	_, ok, err = src.Pop(context.Background(), "traditional", time.Second)
	if err != nil {
		t.Fatalf("pop failed: %v", err)
	}
	if ok {
		t.Fatalf("expected timeout on empty queue")
	}
}

func TestPopHoldsJobUntilRelease(t *testing.T) {
	src, mr := newTestSource(t, Config{WorkerID: 2})
	ctx := context.Background()
	if _, err := mr.Lpush("traditional", job); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	if _, ok, err := src.Pop(ctx, "traditional", time.Second); err != nil || !ok {
		t.Fatalf("pop failed: ok=%v err=%v", ok, err)
	}
	held, _ := mr.List("judger:processing:2:traditional")
	if len(held) != 1 || held[0] != job {
		t.Fatalf("popped job not held: %v", held)
	}
	if ttl := mr.TTL("judger:processing:2:traditional"); ttl != defaultInflightTTL {
		t.Fatalf("unexpected processing ttl %v", ttl)
	}
	if err := src.Release(ctx, "traditional"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if mr.Exists("judger:processing:2:traditional") {
		t.Fatalf("processing list should be gone")
	}

	orphans, err := src.Recover(ctx, []string{"traditional"})
	if err != nil || len(orphans) != 0 {
		t.Fatalf("expected nothing to recover, got %v %v", orphans, err)
	}
}

// crash pops a job and abandons it, as a worker killed mid-judgement would.
func crash(t *testing.T, src *Source, mr *miniredis.Miniredis, channel, payload string) {
	t.Helper()
	if _, err := mr.Lpush(channel, payload); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	got, ok, err := src.Pop(context.Background(), channel, time.Second)
	if err != nil || !ok || got != payload {
		t.Fatalf("pop failed: %q ok=%v err=%v", got, ok, err)
	}
}

func TestRecoverRequeuesWithinBudget(t *testing.T) {
	src, mr := newTestSource(t, Config{WorkerID: 0, MaxRequeue: 1})
	ctx := context.Background()
	crash(t, src, mr, "traditional", job)
	if _, err := mr.Lpush("traditional", "other-job"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	orphans, err := src.Recover(ctx, []string{"traditional"})
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if len(orphans) != 1 {
		t.Fatalf("expected one orphan, got %v", orphans)
	}
	orphan := orphans[0]
	if !orphan.Requeued || orphan.SolutionID != "s1" || orphan.Attempts != 1 || orphan.Channel != "traditional" {
		t.Fatalf("unexpected orphan %v", orphan)
	}
	if ttl := mr.TTL("judger:requeue:s1"); ttl != defaultRequeueTTL {
		t.Fatalf("requeue counter ttl %v", ttl)
	}

	// The orphan sits at the consuming end and is popped before older jobs.
	payload, ok, err := src.Pop(ctx, "traditional", time.Second)
	if err != nil || !ok || payload != job {
		t.Fatalf("expected orphan first, got %q ok=%v err=%v", payload, ok, err)
	}
}

func TestRecoverDeadLettersAfterBudget(t *testing.T) {
	src, mr := newTestSource(t, Config{WorkerID: 0, MaxRequeue: 1})
	ctx := context.Background()

	crash(t, src, mr, "traditional", job)
	if _, err := src.Recover(ctx, []string{"traditional"}); err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	// The requeued job is popped again and abandoned a second time.
	if _, ok, err := src.Pop(ctx, "traditional", time.Second); err != nil || !ok {
		t.Fatalf("pop failed: ok=%v err=%v", ok, err)
	}
	orphans, err := src.Recover(ctx, []string{"traditional"})
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if len(orphans) != 1 || orphans[0].Requeued || orphans[0].Attempts != 2 {
		t.Fatalf("unexpected orphans %v", orphans)
	}

	list, err := mr.List("judger:deadletter")
	if err != nil {
		t.Fatalf("read dead letters failed: %v", err)
	}
	if len(list) != 1 || list[0] != job {
		t.Fatalf("unexpected dead letters %v", list)
	}
	if mr.Exists("traditional") {
		queued, _ := mr.List("traditional")
		t.Fatalf("dead-lettered job was requeued: %v", queued)
	}
}

func TestRecoverUndecodableJobGoesToDeadLetter(t *testing.T) {
	src, mr := newTestSource(t, Config{WorkerID: 4})
	ctx := context.Background()
	crash(t, src, mr, "traditional", "not-json")

	orphans, err := src.Recover(ctx, []string{"traditional"})
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if len(orphans) != 1 || orphans[0].Requeued || orphans[0].SolutionID != "" {
		t.Fatalf("unexpected orphans %v", orphans)
	}
	list, _ := mr.List("judger:deadletter")
	if len(list) != 1 || list[0] != "not-json" {
		t.Fatalf("unexpected dead letters %v", list)
	}
}

func TestRecoverScansEveryChannel(t *testing.T) {
	src, mr := newTestSource(t, Config{WorkerID: 1})
	ctx := context.Background()
	other := `{"solutionID":"s2","problemFiles":[],"solutionFiles":["g"],"data":{}}`
	crash(t, src, mr, "traditional", job)
	crash(t, src, mr, "interactive", other)

	orphans, err := src.Recover(ctx, []string{"traditional", "interactive"})
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if len(orphans) != 2 || orphans[0].SolutionID != "s1" || orphans[1].SolutionID != "s2" {
		t.Fatalf("unexpected orphans %v", orphans)
	}
	for _, key := range []string{"judger:processing:1:traditional", "judger:processing:1:interactive"} {
		if mr.Exists(key) {
			t.Fatalf("%s should be cleared after recovery", key)
		}
	}
}

// expireFails rejects every Expire and passes everything else through.
type expireFails struct {
	cache.Cache
}

func (expireFails) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return errors.New("expire rejected")
}

func TestRecoverReportsCounterExpiryFailure(t *testing.T) {
	src, mr := newTestSource(t, Config{WorkerID: 3})
	ctx := context.Background()
	crash(t, src, mr, "traditional", job)

	broken := NewSource(expireFails{Cache: src.cache}, Config{WorkerID: 3})
	_, err := broken.Recover(ctx, []string{"traditional"})
	if !pkgerrors.Is(err, pkgerrors.CacheError) {
		t.Fatalf("expected cache error, got %v", err)
	}
	// The job stays held so the next start retries the recovery.
	held, _ := mr.List("judger:processing:3:traditional")
	if len(held) != 1 || held[0] != job {
		t.Fatalf("job should stay held, got %v", held)
	}
	if mr.Exists("traditional") {
		t.Fatalf("job must not be requeued without a counter deadline")
	}
}

func TestPopToleratesExpiryFailure(t *testing.T) {
	src, mr := newTestSource(t, Config{WorkerID: 5})
	if _, err := mr.Lpush("traditional", job); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	broken := NewSource(expireFails{Cache: src.cache}, Config{WorkerID: 5})

	payload, ok, err := broken.Pop(context.Background(), "traditional", time.Second)
	if err != nil || !ok || payload != job {
		t.Fatalf("pop failed: %q ok=%v err=%v", payload, ok, err)
	}
	if !mr.Exists("judger:processing:5:traditional") {
		t.Fatalf("popped job should be held")
	}
}
