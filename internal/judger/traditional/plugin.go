// Package traditional judges batch problems: the solution reads an input
// file and a checker program decides whether its output is acceptable.
// Subtasks may depend on each other; a subtask whose dependencies are not
// all accepted is skipped.
package traditional

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"judger/internal/judger/compiler"
	"judger/internal/judger/model"
	"judger/internal/judger/plugin"
	"judger/internal/judger/sandbox/engine"
	"judger/internal/judger/sandbox/spec"
	"judger/internal/judger/workdir"
	pkgerrors "judger/pkg/errors"
	"judger/pkg/utils/logger"

	"go.uber.org/zap"
)

// Channel is the queue channel served by this plugin.
const Channel = "traditional"

const defaultEnv = "PATH=/usr/lib/jvm/java-1.8-openjdk/bin:/usr/share/Modules/bin:/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// Compiler compiles a stored file for the current worker.
type Compiler interface {
	Compile(ctx context.Context, file model.File) (compiler.Result, error)
}

// Config controls solution and checker runs.
type Config struct {
	Profile        string  `yaml:"profile"`
	WallTimeFactor float64 `yaml:"wallTimeFactor"`
	OutputMB       int64   `yaml:"outputMB"`
	StackMB        int64   `yaml:"stackMB"`
	PIDs           int64   `yaml:"pids"`
	UID            int     `yaml:"uid"`
	GID            int     `yaml:"gid"`
}

// DefaultConfig returns the run settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Profile:        "run",
		WallTimeFactor: 2,
		OutputMB:       64,
		PIDs:           64,
	}
}

// Plugin is the traditional judge engine.
type Plugin struct {
	eng      engine.Engine
	compiler Compiler
	cfg      Config
	judger   model.JudgerConfig
	dirs     layout
	now      func() time.Time
}

var _ plugin.Plugin = (*Plugin)(nil)

// New creates the plugin. Zero fields of cfg take their defaults.
func New(eng engine.Engine, comp Compiler, cfg Config) *Plugin {
	def := DefaultConfig()
	if cfg.Profile == "" {
		cfg.Profile = def.Profile
	}
	if cfg.WallTimeFactor <= 0 {
		cfg.WallTimeFactor = def.WallTimeFactor
	}
	if cfg.OutputMB <= 0 {
		cfg.OutputMB = def.OutputMB
	}
	if cfg.PIDs <= 0 {
		cfg.PIDs = def.PIDs
	}
	return &Plugin{eng: eng, compiler: comp, cfg: cfg, now: time.Now}
}

func (p *Plugin) Initialize(cfg model.JudgerConfig) error {
	if cfg.TmpDir == "" {
		return pkgerrors.ValidationError("tmpDir", "required")
	}
	p.judger = cfg
	p.dirs = newLayout(cfg.TmpDir)
	return nil
}

func (p *Plugin) Channels() []string {
	return []string{Channel}
}

// Judge judges one solution, reporting a snapshot after each stage. A
// failure to report aborts judging.
func (p *Plugin) Judge(ctx context.Context, job model.Job, report plugin.ReportFunc) error {
	j := &judgement{
		p:      p,
		job:    job,
		report: report,
		sol: model.Solution{
			Status: model.StatusJudging,
			Log:    "Initialized at " + p.now().Format(time.RFC3339),
		},
	}
	if err := j.push(ctx); err != nil {
		return reported(err)
	}
	err := j.run(ctx)
	if err == nil {
		return nil
	}
	var reportErr *reportError
	if errors.As(err, &reportErr) {
		return reportErr.err
	}
	logger.Warn(ctx, "judgement failed", zap.String("solution_id", job.SolutionID), zap.Error(err))
	j.sol = j.sol.WithLog(err.Error()).WithStatus(model.StatusJudgementFailed)
	return reported(j.push(ctx))
}

func reported(err error) error {
	var reportErr *reportError
	if errors.As(err, &reportErr) {
		return reportErr.err
	}
	return err
}

// reportError marks a failed report so it is not turned into a verdict.
type reportError struct{ err error }

func (e *reportError) Error() string { return e.err.Error() }
func (e *reportError) Unwrap() error { return e.err }

// judgement is the state of one Judge call.
type judgement struct {
	p      *Plugin
	job    model.Job
	report plugin.ReportFunc
	sol    model.Solution

	data     DataConfig
	checker  compiler.Result
	solution compiler.Result
	source   string
}

func (j *judgement) push(ctx context.Context) error {
	j.sol.UpdatedAt = j.p.now().UnixMilli()
	if err := j.report(ctx, j.sol, j.job.SolutionID); err != nil {
		return &reportError{err: err}
	}
	return nil
}

func (j *judgement) log(lines ...string) {
	j.sol = j.sol.WithLog(lines...)
}

func (j *judgement) run(ctx context.Context) error {
	if len(j.job.SolutionFiles) != 1 {
		return pkgerrors.New(pkgerrors.InvalidSubmission).WithMessage("Invalid submission")
	}
	data, err := ParseDataConfig(j.job.Data, len(j.job.ProblemFiles))
	if err != nil {
		return err
	}
	j.data = data

	compiled, err := j.compile(ctx)
	if err != nil || !compiled {
		return err
	}

	if err := j.push(ctx); err != nil {
		return err
	}
	j.log("Resolving subtasks")
	total, err := j.resolveAll(ctx)
	if err != nil {
		return err
	}

	j.sol = total.apply(j.sol, true)
	j.log(
		formatTotal(total.timeMs, total.memoryKB),
		"Done at "+j.p.now().Format(time.RFC3339),
	)
	return j.push(ctx)
}

// compile builds the checker and the solution. It returns false after
// reporting a CompileError verdict.
func (j *judgement) compile(ctx context.Context) (bool, error) {
	dirs := j.p.dirs
	if err := dirs.resetBuild(); err != nil {
		return false, err
	}

	j.log("Compiling judger...")
	checker, err := j.p.compiler.Compile(ctx, j.job.ProblemFiles[j.data.JudgerFile])
	if err != nil {
		return false, err
	}
	j.appendOutput(checker.Output)
	if !checker.Success {
		return false, pkgerrors.New(pkgerrors.CheckerCompileError)
	}
	if err := workdir.CopyFile(checker.ExecFile, filepath.Join(dirs.judger, checker.Language.ExecFile())); err != nil {
		return false, err
	}
	j.checker = checker

	j.log("Compiling solution...")
	source := j.job.SolutionFiles[0]
	solution, err := j.p.compiler.Compile(ctx, source)
	if err != nil {
		return false, err
	}
	j.appendOutput(solution.Output)
	if !solution.Success {
		j.sol = j.sol.WithStatus(model.StatusCompileError)
		j.sol.Score = 0
		return false, j.push(ctx)
	}
	if err := workdir.CopyFile(solution.ExecFile, filepath.Join(dirs.solution, solution.Language.ExecFile())); err != nil {
		return false, err
	}
	j.solution = solution
	j.source = source.Path
	return true, nil
}

func (j *judgement) appendOutput(output string) {
	if output != "" {
		j.log(output)
	}
}

// runLimits builds the sandbox limits of a testcase before language scaling.
func (p *Plugin) runLimits(timeMs, memoryMB int64) spec.ResourceLimit {
	return spec.ResourceLimit{
		CPUTimeMs:  timeMs,
		WallTimeMs: int64(float64(timeMs) * p.cfg.WallTimeFactor),
		MemoryMB:   memoryMB,
		StackMB:    p.cfg.StackMB,
		OutputMB:   p.cfg.OutputMB,
		PIDs:       p.cfg.PIDs,
	}
}
