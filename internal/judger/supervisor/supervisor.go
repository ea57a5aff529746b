// Package supervisor forks judge workers and serves their RPC requests.
package supervisor

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"syscall"
	"time"

	"judger/internal/judger/rpc"
	"judger/internal/judger/workdir"
	pkgerrors "judger/pkg/errors"
	"judger/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultRespawnDelay    = time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Worker states reported by Workers.
const (
	StateStarting   = "starting"
	StateRunning    = "running"
	StateRestarting = "restarting"
	StateStopped    = "stopped"
	StateLost       = "lost"
)

// Config controls the worker pool.
type Config struct {
	Workers         int           `yaml:"workers"`
	TmpRoot         string        `yaml:"tmpRoot"`
	RespawnDelay    time.Duration `yaml:"respawnDelay"`
	MaxRespawns     int           `yaml:"maxRespawns"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// WorkerInfo is a point-in-time view of one worker.
type WorkerInfo struct {
	ID        int       `json:"id"`
	PID       int       `json:"pid"`
	State     string    `json:"state"`
	Restarts  int       `json:"restarts"`
	StartedAt time.Time `json:"startedAt"`
}

// Supervisor keeps Config.Workers worker processes alive.
type Supervisor struct {
	cfg      Config
	launcher Launcher
	handler  rpc.Handler
	log      *logger.Logger

	mu      sync.Mutex
	workers map[int]*WorkerInfo
}

// New creates a supervisor. A nil log discards output.
func New(cfg Config, launcher Launcher, handler rpc.Handler, log *logger.Logger) *Supervisor {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.RespawnDelay <= 0 {
		cfg.RespawnDelay = defaultRespawnDelay
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Supervisor{
		cfg:      cfg,
		launcher: launcher,
		handler:  handler,
		log:      log,
		workers:  make(map[int]*WorkerInfo),
	}
}

// Run starts every worker and returns once all of them have stopped, either
// because ctx was cancelled or because they exhausted their respawn budget.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.cfg.TmpRoot == "" {
		return pkgerrors.New(pkgerrors.WorkerSpawnFailed).WithMessage("worker tmp root is required")
	}
	g, gctx := errgroup.WithContext(ctx)
	for id := 0; id < s.cfg.Workers; id++ {
		s.setState(id, func(w *WorkerInfo) { w.State = StateStarting })
		g.Go(func() error {
			s.supervise(gctx, id)
			return nil
		})
	}
	return g.Wait()
}

// Workers returns a snapshot ordered by worker id.
func (s *Supervisor) Workers() []WorkerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WorkerInfo, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TmpDir is the private directory of worker id.
func (s *Supervisor) TmpDir(id int) string {
	return filepath.Join(s.cfg.TmpRoot, fmt.Sprintf("worker_%d", id))
}

func (s *Supervisor) supervise(ctx context.Context, id int) {
	restarts := 0
	for {
		err := s.runOnce(ctx, id)
		if ctx.Err() != nil {
			s.setState(id, func(w *WorkerInfo) { w.State = StateStopped; w.PID = 0 })
			return
		}
		s.log.Warn(ctx, "worker exited", zap.Int("worker_id", id), zap.Error(err))
		if s.cfg.MaxRespawns > 0 && restarts >= s.cfg.MaxRespawns {
			s.setState(id, func(w *WorkerInfo) { w.State = StateLost; w.PID = 0 })
			s.log.Error(ctx, "worker lost, respawn budget exhausted",
				zap.Int("worker_id", id), zap.Int("restarts", restarts))
			return
		}
		restarts++
		s.setState(id, func(w *WorkerInfo) { w.State = StateRestarting; w.PID = 0; w.Restarts = restarts })

		timer := time.NewTimer(s.cfg.RespawnDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setState(id, func(w *WorkerInfo) { w.State = StateStopped })
			return
		case <-timer.C:
		}
	}
}

// runOnce starts worker id in a freshly emptied directory and serves it
// until it exits. On cancellation the worker is terminated.
func (s *Supervisor) runOnce(ctx context.Context, id int) error {
	dir := s.TmpDir(id)
	if err := workdir.Reset(dir); err != nil {
		return err
	}
	proc, err := s.launcher.Launch(id, dir)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.WorkerSpawnFailed, "launch worker %d failed: %v", id, err)
	}
	defer proc.Close()
	s.setState(id, func(w *WorkerInfo) {
		w.State = StateRunning
		w.PID = proc.Pid()
		w.StartedAt = time.Now()
	})
	s.log.Info(ctx, "worker started", zap.Int("worker_id", id), zap.Int("pid", proc.Pid()), zap.String("tmp_dir", dir))

	r, w := proc.Conn()
	server := rpc.NewServer(id, r, w, s.handler)
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := server.Serve(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn(ctx, "worker rpc stopped", zap.Int("worker_id", id), zap.Error(err))
		}
	}()

	exited := make(chan error, 1)
	go func() { exited <- proc.Wait() }()

	var exitErr error
	select {
	case exitErr = <-exited:
	case <-ctx.Done():
		exitErr = s.terminate(ctx, id, proc, exited)
	}

	// Descendants may still hold the worker's end of the pipe open.
	select {
	case <-served:
	case <-time.After(s.cfg.ShutdownTimeout):
		_ = proc.Close()
		<-served
	}
	return exitErr
}

func (s *Supervisor) terminate(ctx context.Context, id int, proc Process, exited <-chan error) error {
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		s.log.Warn(ctx, "signal worker failed", zap.Int("worker_id", id), zap.Error(err))
	}
	timer := time.NewTimer(s.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case err := <-exited:
		return err
	case <-timer.C:
	}
	s.log.Warn(ctx, "worker did not stop in time, killing", zap.Int("worker_id", id))
	if err := proc.Signal(syscall.SIGKILL); err != nil {
		s.log.Warn(ctx, "kill worker failed", zap.Int("worker_id", id), zap.Error(err))
	}
	return <-exited
}

func (s *Supervisor) setState(id int, update func(w *WorkerInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[id]
	if !ok {
		w = &WorkerInfo{ID: id}
		s.workers[id] = w
	}
	update(w)
}
