package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"judger/internal/common/cache"
	"judger/internal/common/db"
	"judger/internal/common/mq"
	"judger/internal/judger/model"
	pkgerrors "judger/pkg/errors"
	"judger/pkg/utils/contextkey"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type execCall struct {
	query string
	args  []interface{}
}

type fakeResult struct{}

func (fakeResult) RowsAffected() (int64, error) { return 1, nil }

type fakeRow struct {
	sol model.Solution
	err error
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = string(r.sol.Status)
	*dest[1].(*float64) = r.sol.Score
	*dest[2].(*string) = r.sol.Log
	*dest[3].(*int64) = r.sol.TimeMs
	*dest[4].(*int64) = r.sol.MemoryKB
	*dest[5].(*int64) = r.sol.UpdatedAt
	return nil
}

type fakeDB struct {
	execs   []execCall
	rows    map[string]model.Solution
	execErr error
	queries int
}

func (f *fakeDB) QueryRow(ctx context.Context, query string, args ...interface{}) db.Row {
	f.queries++
	sol, ok := f.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: sql.ErrNoRows}
	}
	return fakeRow{sol: sol}
}

func (f *fakeDB) Exec(ctx context.Context, query string, args ...interface{}) (db.Result, error) {
	if f.execErr != nil {
		return nil, f.execErr
	}
	f.execs = append(f.execs, execCall{query: query, args: args})
	return fakeResult{}, nil
}

type fakeProducer struct {
	topics   []string
	messages []*mq.Message
	err      error
}

func (f *fakeProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	if f.err != nil {
		return f.err
	}
	f.topics = append(f.topics, topic)
	f.messages = append(f.messages, message)
	return nil
}

func (f *fakeProducer) Close() error { return nil }

type fixture struct {
	repo     *SolutionRepository
	mr       *miniredis.Miniredis
	db       *fakeDB
	producer *fakeProducer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c, err := cache.NewRedisCacheWithClient(client)
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	f := &fixture{mr: mr, db: &fakeDB{rows: map[string]model.Solution{}}, producer: &fakeProducer{}}
	f.repo = NewSolutionRepository(c, f.db, NewMQVerdictPublisher(f.producer, ""), time.Hour)
	return f
}

func TestUpdateIntermediateSnapshotStaysInRedis(t *testing.T) {
	f := newFixture(t)
	sol := model.Solution{Status: model.StatusJudging, Log: "Initialized", UpdatedAt: 1}

	if err := f.repo.Update(context.Background(), "s1", sol); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	raw, err := f.mr.Get("judger:solution:s1")
	if err != nil {
		t.Fatalf("snapshot missing: %v", err)
	}
	var stored model.Solution
	if err := json.Unmarshal([]byte(raw), &stored); err != nil || stored.Log != "Initialized" {
		t.Fatalf("unexpected snapshot %q", raw)
	}
	if ttl := f.mr.TTL("judger:solution:s1"); ttl != time.Hour {
		t.Fatalf("unexpected ttl %v", ttl)
	}
	if len(f.db.execs) != 0 || len(f.producer.messages) != 0 {
		t.Fatalf("intermediate snapshot must not be persisted")
	}
}

func TestUpdateTerminalSnapshotWritesThrough(t *testing.T) {
	f := newFixture(t)
	ctx := context.WithValue(context.Background(), contextkey.TraceID, "trace-1")
	sol := model.Solution{Status: model.StatusAccepted, Score: 100, Log: "done", TimeMs: 12, MemoryKB: 2048, UpdatedAt: 99}

	if err := f.repo.Update(ctx, "s1", sol); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if len(f.db.execs) != 1 {
		t.Fatalf("expected one MySQL write, got %d", len(f.db.execs))
	}
	args := f.db.execs[0].args
	if args[0] != "Accepted" || args[1] != 100.0 || args[6] != "s1" {
		t.Fatalf("unexpected MySQL args %v", args)
	}
	if len(f.producer.messages) != 1 || f.producer.topics[0] != DefaultVerdictTopic {
		t.Fatalf("expected one verdict event on %s, got %v", DefaultVerdictTopic, f.producer.topics)
	}
	msg := f.producer.messages[0]
	var event VerdictEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		t.Fatalf("decode event failed: %v", err)
	}
	if msg.ID != "s1" || event.SolutionID != "s1" || event.Solution.Status != model.StatusAccepted || event.TraceID != "trace-1" {
		t.Fatalf("unexpected event %+v", event)
	}
	if v, _ := msg.GetHeader("trace_id"); v != "trace-1" {
		t.Fatalf("trace header missing")
	}
}

func TestUpdateFailures(t *testing.T) {
	f := newFixture(t)
	if err := f.repo.Update(context.Background(), "", model.Solution{}); !pkgerrors.Is(err, pkgerrors.ValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}

	f.db.execErr = errors.New("deadlock")
	err := f.repo.Update(context.Background(), "s1", model.Solution{Status: model.StatusWrongAnswer})
	if !pkgerrors.Is(err, pkgerrors.DatabaseError) {
		t.Fatalf("expected database error, got %v", err)
	}

	f.db.execErr = nil
	f.producer.err = errors.New("broker down")
	if err := f.repo.Update(context.Background(), "s2", model.Solution{Status: model.StatusWrongAnswer}); err != nil {
		t.Fatalf("publish failure must not fail the update: %v", err)
	}
}

func TestUpdateStampsTime(t *testing.T) {
	f := newFixture(t)
	if err := f.repo.Update(context.Background(), "s1", model.Solution{Status: model.StatusJudging}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, err := f.repo.Get(context.Background(), "s1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.UpdatedAt == 0 {
		t.Fatalf("expected updatedAt to be set")
	}
}

func TestGetFallsBackToMySQL(t *testing.T) {
	f := newFixture(t)
	f.db.rows["old"] = model.Solution{Status: model.StatusCompileError, Log: "error: x", UpdatedAt: 5}

	for i := 0; i < 2; i++ {
		got, err := f.repo.Get(context.Background(), "old")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.Status != model.StatusCompileError || got.Log != "error: x" {
			t.Fatalf("unexpected solution %+v", got)
		}
	}
	if f.db.queries != 1 {
		t.Fatalf("expected the loaded row to be cached, got %d queries", f.db.queries)
	}

	if _, err := f.repo.Get(context.Background(), "missing"); !pkgerrors.Is(err, pkgerrors.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetWithoutDatabase(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	c, _ := cache.NewRedisCacheWithClient(client)
	repo := NewSolutionRepository(c, nil, nil, 0)

	if err := repo.Update(context.Background(), "s1", model.Solution{Status: model.StatusAccepted, Score: 100}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if got, err := repo.Get(context.Background(), "s1"); err != nil || got.Score != 100 {
		t.Fatalf("unexpected result %+v %v", got, err)
	}
	if _, err := repo.Get(context.Background(), "s2"); !pkgerrors.Is(err, pkgerrors.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
