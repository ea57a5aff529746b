// Package compiler turns stored source files into executables inside the
// sandbox and caches the results per worker.
package compiler

import (
	"container/list"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"judger/internal/judger/language"
	"judger/internal/judger/model"
	"judger/internal/judger/sandbox/engine"
	"judger/internal/judger/sandbox/result"
	"judger/internal/judger/sandbox/spec"
	"judger/internal/judger/workdir"
	pkgerrors "judger/pkg/errors"
	"judger/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	compileStdout = "compile.stdout"
	compileStderr = "compile.stderr"

	defaultCacheEntries = 128
	// A job holds its judger and its solution executable at the same time.
	minCacheEntries = 2
)

// Config controls compile runs.
type Config struct {
	Profile string             `yaml:"profile"`
	Limits  spec.ResourceLimit `yaml:"limits"`
	UID     int                `yaml:"uid"`
	GID     int                `yaml:"gid"`
	// CacheEntries caps the compiled outputs kept on disk. The least recently
	// used output is deleted first.
	CacheEntries int `yaml:"cacheEntries"`
}

// Result is the outcome of compiling one file. ExecFile is a host path that
// stays valid for the lifetime of the worker.
type Result struct {
	Success  bool
	Output   string
	ExecFile string
	Language language.Spec
}

type cacheEntry struct {
	name string
	dir  string
	// reusable is set for outputs keyed by content hash.
	reusable bool
	res      Result
}

// Compiler compiles files for one worker.
type Compiler struct {
	eng    engine.Engine
	langs  *language.Table
	judger model.JudgerConfig
	cfg    Config

	prune    sync.Once
	pruneErr error
	mu       sync.Mutex
	entries  map[string]*list.Element
	order    *list.List
}

// New creates a compiler working under judger.TmpDir.
func New(eng engine.Engine, langs *language.Table, judger model.JudgerConfig, cfg Config) *Compiler {
	if cfg.CacheEntries <= 0 {
		cfg.CacheEntries = defaultCacheEntries
	} else if cfg.CacheEntries < minCacheEntries {
		cfg.CacheEntries = minCacheEntries
	}
	return &Compiler{
		eng:     eng,
		langs:   langs,
		judger:  judger,
		cfg:     cfg,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

// Compile compiles file. An unsupported language or a failed compile is an
// unsuccessful Result; the error return is reserved for sandbox and
// filesystem failures.
func (c *Compiler) Compile(ctx context.Context, file model.File) (Result, error) {
	lang, err := c.langs.Detect(file)
	if err != nil {
		return Result{Output: err.Error()}, nil
	}

	// Untracked outputs of an earlier process are cleared on first use.
	c.prune.Do(func() { c.pruneErr = workdir.Reset(c.compiledRoot()) })
	if c.pruneErr != nil {
		return Result{}, c.pruneErr
	}

	name := outputDirName(lang.ID, file)
	if file.Hash != "" {
		if cached, ok := c.lookup(name); ok {
			logger.Debug(ctx, "compile cache hit", zap.String("language", lang.ID), zap.String("hash", file.Hash))
			return cached, nil
		}
	}

	outDir := filepath.Join(c.compiledRoot(), name)
	c.forget(name)
	res, err := c.compile(ctx, file, lang, outDir)
	if err != nil || !res.Success {
		_ = os.RemoveAll(outDir)
		if err != nil {
			return Result{}, err
		}
		return res, nil
	}
	c.remember(ctx, cacheEntry{name: name, dir: outDir, reusable: file.Hash != "", res: res})
	return res, nil
}

func (c *Compiler) compiledRoot() string {
	return filepath.Join(c.judger.TmpDir, "judge", "compiled")
}

func (c *Compiler) lookup(name string) (Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[name]
	if !ok {
		return Result{}, false
	}
	entry := elem.Value.(*cacheEntry)
	if !entry.reusable {
		return Result{}, false
	}
	c.order.MoveToFront(elem)
	return entry.res, true
}

// forget drops name from the cache without touching its directory.
func (c *Compiler) forget(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[name]; ok {
		c.order.Remove(elem)
		delete(c.entries, name)
	}
}

// remember records entry as the most recent output and deletes the outputs
// pushed out of the cache.
func (c *Compiler) remember(ctx context.Context, entry cacheEntry) {
	c.mu.Lock()
	c.entries[entry.name] = c.order.PushFront(&entry)
	var evicted []string
	for c.order.Len() > c.cfg.CacheEntries {
		oldest := c.order.Back()
		old := oldest.Value.(*cacheEntry)
		c.order.Remove(oldest)
		delete(c.entries, old.name)
		evicted = append(evicted, old.dir)
	}
	c.mu.Unlock()

	for _, dir := range evicted {
		if err := os.RemoveAll(dir); err != nil {
			logger.Warn(ctx, "remove evicted compile output failed", zap.String("dir", dir), zap.Error(err))
		}
	}
}

func (c *Compiler) compile(ctx context.Context, file model.File, lang language.Spec, outDir string) (Result, error) {
	if err := workdir.Reset(outDir); err != nil {
		return Result{}, err
	}
	execFile := filepath.Join(outDir, lang.ExecFile())

	if !lang.CompileEnabled {
		if err := workdir.CopyFile(file.Path, execFile); err != nil {
			return Result{}, err
		}
		return Result{Success: true, ExecFile: execFile, Language: lang}, nil
	}

	workDir := filepath.Join(c.judger.TmpDir, "judge", "compile")
	if err := workdir.Reset(workDir); err != nil {
		return Result{}, err
	}
	if err := workdir.CopyFile(file.Path, filepath.Join(workDir, lang.SourceFile)); err != nil {
		return Result{}, err
	}
	cmd, err := lang.CompileCommand()
	if err != nil {
		return Result{}, err
	}

	runRes, err := c.eng.Run(ctx, spec.RunSpec{
		Group:      c.judger.Cgroup,
		RunID:      "compile",
		Chroot:     c.judger.Chroot,
		WorkDir:    language.SandboxDir,
		Cmd:        cmd,
		Env:        lang.Env,
		StdoutPath: filepath.Join(language.SandboxDir, compileStdout),
		StderrPath: filepath.Join(language.SandboxDir, compileStderr),
		BindMounts: []spec.MountSpec{{Source: workDir, Target: language.SandboxDir}},
		MountProc:  true,
		UID:        c.cfg.UID,
		GID:        c.cfg.GID,
		Profile:    c.cfg.Profile,
		Limits:     c.cfg.Limits,
	})
	if err != nil {
		return Result{}, pkgerrors.Wrapf(err, pkgerrors.SandboxError, "compile %s: %v", file.Name, err)
	}

	output := joinOutput(runRes.Stdout, runRes.Stderr)
	status := runRes.Classify(c.cfg.Limits)
	if status != result.StatusOK {
		logger.Info(ctx, "compile failed",
			zap.String("language", lang.ID),
			zap.String("status", string(status)),
			zap.Int("exit_code", runRes.ExitCode),
		)
		if status != result.StatusRuntimeError {
			output = joinOutput(output, fmt.Sprintf("Compiler %s", status))
		}
		return Result{Output: output, Language: lang}, nil
	}
	if err := workdir.CopyFile(filepath.Join(workDir, lang.BinaryFile), execFile); err != nil {
		return Result{Output: joinOutput(output, "Compiler produced no executable"), Language: lang}, nil
	}
	return Result{Success: true, Output: output, ExecFile: execFile, Language: lang}, nil
}

func outputDirName(langID string, file model.File) string {
	if file.Hash != "" {
		return langID + "-" + file.Hash
	}
	return langID + "-" + file.ID
}

func joinOutput(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimRight(p, "\n"); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "\n")
}
