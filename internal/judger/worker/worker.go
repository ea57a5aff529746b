// Package worker runs the job loop of one judge worker process.
package worker

import (
	"context"
	"errors"
	"time"

	"judger/internal/judger/model"
	"judger/internal/judger/plugin"
	"judger/internal/judger/queue"
	"judger/internal/judger/rpc"
	pkgerrors "judger/pkg/errors"
	"judger/pkg/utils/contextkey"
	"judger/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultPopTimeout = 30 * time.Second
	defaultErrBackoff = time.Second
)

// JobSource pops jobs and holds the one being judged until it is released.
type JobSource interface {
	Pop(ctx context.Context, channel string, timeout time.Duration) (string, bool, error)
	Release(ctx context.Context, channel string) error
	Recover(ctx context.Context, channels []string) ([]*queue.Orphan, error)
}

// Supervisor is the worker's view of the supervisor connection.
type Supervisor interface {
	ResolveFile(ctx context.Context, id string) (model.File, error)
	UpdateSolution(ctx context.Context, id string, solution model.Solution) error
}

// Judge dispatches jobs to judge engines.
type Judge interface {
	Channels() []string
	Judge(ctx context.Context, job model.Job, report plugin.ReportFunc) error
}

// Config controls the worker loop.
type Config struct {
	WorkerID   int
	PopTimeout time.Duration
	ErrBackoff time.Duration
}

// Worker judges one job at a time, cycling over the judge channels.
type Worker struct {
	cfg      Config
	source   JobSource
	remote   Supervisor
	judge    Judge
	log      *logger.Logger
	channels []string
	cursor   int
	now      func() time.Time
}

// New creates a worker. A nil log discards output.
func New(cfg Config, source JobSource, remote Supervisor, judge Judge, log *logger.Logger) *Worker {
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = defaultPopTimeout
	}
	if cfg.ErrBackoff <= 0 {
		cfg.ErrBackoff = defaultErrBackoff
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Worker{
		cfg:    cfg,
		source: source,
		remote: remote,
		judge:  judge,
		log:    log,
		now:    time.Now,
	}
}

// Run recovers any job left by a previous incarnation and then judges jobs
// until ctx is cancelled or the supervisor connection is lost. Cancellation
// takes effect between jobs; a job in progress is always finished.
func (w *Worker) Run(ctx context.Context) error {
	w.channels = w.judge.Channels()
	if len(w.channels) == 0 {
		return pkgerrors.New(pkgerrors.ChannelNotSupported).WithMessage("no judge channels registered")
	}
	ctx = context.WithValue(ctx, contextkey.WorkerID, w.cfg.WorkerID)
	w.log.Info(ctx, "worker started", zap.Strings("channels", w.channels))

	if err := w.recover(ctx); err != nil {
		return err
	}

	for ctx.Err() == nil {
		channel := w.channels[w.cursor]
		payload, ok, err := w.source.Pop(ctx, channel, w.cfg.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.log.Error(ctx, "pop job failed", zap.String("channel", channel), zap.Error(err))
			w.sleep(ctx, w.cfg.ErrBackoff)
			w.advance()
			continue
		}
		if ok {
			if err := w.handle(context.WithoutCancel(ctx), channel, payload); err != nil {
				return err
			}
		}
		w.advance()
	}
	w.log.Info(ctx, "worker stopped")
	return nil
}

func (w *Worker) advance() {
	w.cursor = (w.cursor + 1) % len(w.channels)
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *Worker) recover(ctx context.Context) error {
	orphans, err := w.source.Recover(ctx, w.channels)
	if err != nil {
		w.log.Error(ctx, "recover in-flight job failed", zap.Error(err))
	}
	for _, orphan := range orphans {
		if orphan.Requeued {
			w.log.Warn(ctx, "requeued orphaned job", zap.String("orphan", orphan.String()))
			continue
		}
		w.log.Error(ctx, "orphaned job dead-lettered", zap.String("orphan", orphan.String()))
		if orphan.SolutionID == "" {
			continue
		}
		if err := w.fail(ctx, orphan.SolutionID, pkgerrors.New(pkgerrors.RequeueExhausted)); err != nil {
			return err
		}
	}
	return nil
}

// handle judges one payload. Only a lost supervisor connection is returned;
// every other failure is reported as a verdict.
func (w *Worker) handle(ctx context.Context, channel, payload string) error {
	traceID := uuid.NewString()
	ctx = context.WithValue(ctx, contextkey.TraceID, traceID)

	task, err := model.DecodeUnsolvedTask([]byte(payload))
	if task.SolutionID != "" {
		ctx = context.WithValue(ctx, contextkey.SolutionID, task.SolutionID)
	}
	if err != nil {
		w.log.Warn(ctx, "invalid job", zap.String("channel", channel), zap.Error(err))
		if task.SolutionID != "" {
			if err := w.fail(ctx, task.SolutionID, err); err != nil {
				return err
			}
		}
		return w.release(ctx, channel)
	}

	w.log.Info(ctx, "job received", zap.String("channel", channel))
	start := w.now()
	job, err := w.buildJob(ctx, channel, task, traceID)
	if err != nil {
		if errors.Is(err, rpc.ErrConnectionLost) {
			return err
		}
		w.log.Warn(ctx, "resolve job files failed", zap.Error(err))
		if err := w.fail(ctx, task.SolutionID, err); err != nil {
			return err
		}
		return w.release(ctx, channel)
	}

	report := func(ctx context.Context, solution model.Solution, solutionID string) error {
		return w.remote.UpdateSolution(ctx, solutionID, solution)
	}
	if err := w.judge.Judge(ctx, job, report); err != nil {
		if errors.Is(err, rpc.ErrConnectionLost) {
			return err
		}
		w.log.Error(ctx, "judge failed", zap.Error(err))
		if err := w.fail(ctx, task.SolutionID, err); err != nil {
			return err
		}
	}
	w.log.Info(ctx, "job finished", zap.Duration("elapsed", w.now().Sub(start)))
	return w.release(ctx, channel)
}

// buildJob resolves problem files and then solution files, in order.
func (w *Worker) buildJob(ctx context.Context, channel string, task model.UnsolvedTask, traceID string) (model.Job, error) {
	problem, err := w.resolveAll(ctx, task.ProblemFiles)
	if err != nil {
		return model.Job{}, err
	}
	solution, err := w.resolveAll(ctx, task.SolutionFiles)
	if err != nil {
		return model.Job{}, err
	}
	return model.Job{
		SolutionID:    task.SolutionID,
		Channel:       channel,
		ProblemFiles:  problem,
		SolutionFiles: solution,
		Data:          task.Data,
		TraceID:       traceID,
	}, nil
}

func (w *Worker) resolveAll(ctx context.Context, ids []string) ([]model.File, error) {
	files := make([]model.File, 0, len(ids))
	for _, id := range ids {
		file, err := w.remote.ResolveFile(ctx, id)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, nil
}

// fail reports a JudgementFailed verdict carrying err's text.
func (w *Worker) fail(ctx context.Context, solutionID string, err error) error {
	sol := model.Solution{
		Status:    model.StatusJudgementFailed,
		Log:       err.Error(),
		UpdatedAt: w.now().UnixMilli(),
	}
	if reportErr := w.remote.UpdateSolution(ctx, solutionID, sol); reportErr != nil {
		if errors.Is(reportErr, rpc.ErrConnectionLost) {
			return reportErr
		}
		w.log.Error(ctx, "report failure verdict failed", zap.Error(reportErr))
	}
	return nil
}

func (w *Worker) release(ctx context.Context, channel string) error {
	if err := w.source.Release(ctx, channel); err != nil {
		w.log.Warn(ctx, "release job failed", zap.Error(err))
	}
	return nil
}
