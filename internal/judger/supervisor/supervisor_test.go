package supervisor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"judger/internal/judger/model"
	"judger/internal/judger/rpc"
	"judger/pkg/utils/logger"
)

type fakeProcess struct {
	pid        int
	ignoreTerm bool

	toSupR  *io.PipeReader
	toSupW  *io.PipeWriter
	toWorkR *io.PipeReader
	toWorkW *io.PipeWriter

	exit chan struct{}
	once sync.Once

	mu      sync.Mutex
	signals []os.Signal
}

func newFakeProcess(pid int) *fakeProcess {
	p := &fakeProcess{pid: pid, exit: make(chan struct{})}
	p.toSupR, p.toSupW = io.Pipe()
	p.toWorkR, p.toWorkW = io.Pipe()
	return p
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Signal(sig os.Signal) error {
	p.mu.Lock()
	p.signals = append(p.signals, sig)
	p.mu.Unlock()
	if sig == syscall.SIGKILL || !p.ignoreTerm {
		p.stop()
	}
	return nil
}

func (p *fakeProcess) stop() {
	p.once.Do(func() {
		close(p.exit)
		_ = p.toSupW.Close()
	})
}

func (p *fakeProcess) Wait() error {
	<-p.exit
	return nil
}

func (p *fakeProcess) Conn() (io.Reader, io.Writer) { return p.toSupR, p.toWorkW }

func (p *fakeProcess) Close() error {
	_ = p.toSupR.Close()
	return p.toWorkW.Close()
}

func (p *fakeProcess) received() []os.Signal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]os.Signal(nil), p.signals...)
}

type fakeLauncher struct {
	mu         sync.Mutex
	launches   []int
	procs      []*fakeProcess
	exitAtOnce bool
	ignoreTerm bool
	fail       error
	onLaunch   func(id int, dir string)
}

func (l *fakeLauncher) Launch(id int, dir string) (Process, error) {
	if l.onLaunch != nil {
		l.onLaunch(id, dir)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches = append(l.launches, id)
	if l.fail != nil {
		return nil, l.fail
	}
	p := newFakeProcess(100 + len(l.procs))
	p.ignoreTerm = l.ignoreTerm
	l.procs = append(l.procs, p)
	if l.exitAtOnce {
		p.stop()
	}
	return p, nil
}

func (l *fakeLauncher) snapshot() ([]int, []*fakeProcess) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.launches...), append([]*fakeProcess(nil), l.procs...)
}

type fakeFiles struct{}

func (fakeFiles) Resolve(ctx context.Context, id string) (model.File, error) {
	if id == "missing" {
		return model.File{}, errors.New("file missing not found")
	}
	return model.File{ID: id, Path: "/cache/" + id}, nil
}

type fakeSolutions struct {
	mu    sync.Mutex
	saved map[string]model.Solution
}

func (f *fakeSolutions) Update(ctx context.Context, id string, solution model.Solution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[id] = solution
	return nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func allRunning(s *Supervisor, n int) func() bool {
	return func() bool {
		workers := s.Workers()
		if len(workers) != n {
			return false
		}
		for _, w := range workers {
			if w.State != StateRunning {
				return false
			}
		}
		return true
	}
}

func start(s *Supervisor) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return cancel, done
}

func TestRunStartsWorkersInCleanDirs(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, "worker_0", "stale")
	if err := os.MkdirAll(filepath.Dir(stale), 0755); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := os.WriteFile(stale, []byte("x"), 0644); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	var mu sync.Mutex
	dirs := map[int]string{}
	launcher := &fakeLauncher{onLaunch: func(id int, dir string) {
		if _, err := os.Stat(filepath.Join(dir, "stale")); err == nil {
			t.Errorf("worker %d started in a dirty directory", id)
		}
		mu.Lock()
		dirs[id] = dir
		mu.Unlock()
	}}
	s := New(Config{Workers: 2, TmpRoot: root}, launcher, NewHandler(fakeFiles{}, &fakeSolutions{}, nil), nil)

	cancel, done := start(s)
	waitFor(t, allRunning(s, 2))
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if dirs[0] != filepath.Join(root, "worker_0") || dirs[1] != filepath.Join(root, "worker_1") {
		t.Fatalf("unexpected worker dirs %v", dirs)
	}
	_, procs := launcher.snapshot()
	for _, p := range procs {
		if got := p.received(); !reflect.DeepEqual(got, []os.Signal{syscall.SIGTERM}) {
			t.Fatalf("expected a single SIGTERM, got %v", got)
		}
	}
	for _, w := range s.Workers() {
		if w.State != StateStopped {
			t.Fatalf("worker %d in state %s after shutdown", w.ID, w.State)
		}
	}
}

func TestRunRespawnsUntilBudgetExhausted(t *testing.T) {
	launcher := &fakeLauncher{exitAtOnce: true}
	s := New(Config{Workers: 1, TmpRoot: t.TempDir(), MaxRespawns: 2, RespawnDelay: time.Millisecond}, launcher, NewHandler(fakeFiles{}, &fakeSolutions{}, nil), nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	launches, _ := launcher.snapshot()
	if !reflect.DeepEqual(launches, []int{0, 0, 0}) {
		t.Fatalf("expected three launches of worker 0, got %v", launches)
	}
	workers := s.Workers()
	if len(workers) != 1 || workers[0].State != StateLost || workers[0].Restarts != 2 {
		t.Fatalf("unexpected worker state %+v", workers)
	}
}

func TestRunRetriesFailedLaunch(t *testing.T) {
	launcher := &fakeLauncher{fail: errors.New("exec format error")}
	s := New(Config{Workers: 1, TmpRoot: t.TempDir(), MaxRespawns: 1, RespawnDelay: time.Millisecond}, launcher, NewHandler(fakeFiles{}, &fakeSolutions{}, nil), nil)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if launches, _ := launcher.snapshot(); len(launches) != 2 {
		t.Fatalf("expected a retry after the failed launch, got %v", launches)
	}
}

func TestShutdownEscalatesToKill(t *testing.T) {
	launcher := &fakeLauncher{ignoreTerm: true}
	s := New(Config{Workers: 1, TmpRoot: t.TempDir(), ShutdownTimeout: 20 * time.Millisecond}, launcher, NewHandler(fakeFiles{}, &fakeSolutions{}, nil), nil)

	cancel, done := start(s)
	waitFor(t, allRunning(s, 1))
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run failed: %v", err)
	}
	_, procs := launcher.snapshot()
	if got := procs[0].received(); !reflect.DeepEqual(got, []os.Signal{syscall.SIGTERM, syscall.SIGKILL}) {
		t.Fatalf("expected SIGTERM then SIGKILL, got %v", got)
	}
}

func TestWorkerRequestsReachStores(t *testing.T) {
	solutions := &fakeSolutions{saved: map[string]model.Solution{}}
	logs := &syncBuffer{}
	log, err := logger.NewLoggerWithWriter(logger.Config{Format: "json"}, logs)
	if err != nil {
		t.Fatalf("new logger failed: %v", err)
	}
	launcher := &fakeLauncher{}
	s := New(Config{Workers: 1, TmpRoot: t.TempDir()}, launcher, NewHandler(fakeFiles{}, solutions, log), log)

	cancel, done := start(s)
	defer func() {
		cancel()
		<-done
	}()
	waitFor(t, allRunning(s, 1))
	_, procs := launcher.snapshot()
	client := rpc.NewClient(procs[0].toWorkR, procs[0].toSupW)

	ctx := context.Background()
	file, err := client.ResolveFile(ctx, "f1")
	if err != nil || file.Path != "/cache/f1" {
		t.Fatalf("unexpected file %+v: %v", file, err)
	}
	if _, err := client.ResolveFile(ctx, "missing"); err == nil || !strings.Contains(err.Error(), "missing not found") {
		t.Fatalf("expected resolver error, got %v", err)
	}
	if _, err := client.Write([]byte("compiling solution\n")); err != nil {
		t.Fatalf("log write failed: %v", err)
	}
	if err := client.UpdateSolution(ctx, "s1", model.Solution{Status: model.StatusAccepted, Score: 100}); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	solutions.mu.Lock()
	got := solutions.saved["s1"]
	solutions.mu.Unlock()
	if got.Status != model.StatusAccepted {
		t.Fatalf("solution not stored: %+v", got)
	}
	out := logs.String()
	if !strings.Contains(out, `"msg":"compiling solution"`) || !strings.Contains(out, `"worker_id":0`) {
		t.Fatalf("worker log not forwarded: %s", out)
	}
}

func TestRunRequiresTmpRoot(t *testing.T) {
	s := New(Config{Workers: 1}, &fakeLauncher{}, NewHandler(fakeFiles{}, &fakeSolutions{}, nil), nil)
	if err := s.Run(context.Background()); err == nil {
		t.Fatalf("expected error without tmp root")
	}
}
