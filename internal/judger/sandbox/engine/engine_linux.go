//go:build linux

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"judger/internal/judger/sandbox/result"
	"judger/internal/judger/sandbox/security"
	"judger/internal/judger/sandbox/spec"
	pkgerrors "judger/pkg/errors"
	"judger/pkg/utils/logger"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	defaultStdoutStderrMaxBytes int64 = 64 * 1024
	defaultHelperPath                 = "sandbox-init"
)

type linuxEngine struct {
	cfg      Config
	resolver ProfileResolver
}

// NewEngine creates a Linux sandbox engine.
func NewEngine(cfg Config, resolver ProfileResolver) (Engine, error) {
	if resolver == nil {
		return nil, fmt.Errorf("profile resolver is required")
	}
	if cfg.EnableCgroup && cfg.CgroupRoot == "" {
		return nil, fmt.Errorf("cgroup root is required when cgroups are enabled")
	}
	if cfg.StdoutStderrMaxBytes <= 0 {
		cfg.StdoutStderrMaxBytes = defaultStdoutStderrMaxBytes
	}
	if cfg.HelperPath == "" {
		cfg.HelperPath = defaultHelperPath
	}
	return &linuxEngine{cfg: cfg, resolver: resolver}, nil
}

func (e *linuxEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return result.RunResult{}, err
	}
	iso, err := e.isolation(runSpec)
	if err != nil {
		return result.RunResult{}, err
	}

	var cg *runCgroup
	if e.cfg.EnableCgroup {
		cg, err = newRunCgroup(e.cfg.CgroupRoot, runSpec.Group, runSpec.RunID, runSpec.Limits)
		if err != nil {
			return result.RunResult{}, pkgerrors.Wrapf(err, pkgerrors.SandboxError, "prepare cgroup: %v", err)
		}
		defer func() {
			if err := cg.destroy(); err != nil {
				logger.Warn(ctx, "destroy cgroup failed", zap.Error(err))
			}
		}()
	}

	stdin := encodeInitRequest(initRequest{
		RunSpec:       runSpec,
		Isolation:     iso,
		EnableSeccomp: e.cfg.EnableSeccomp,
		EnableNs:      e.cfg.EnableNamespaces,
	})
	defer stdin.Close()

	var helperStderr bytes.Buffer
	cmd := exec.Command(e.cfg.HelperPath)
	cmd.SysProcAttr = sysProcAttr(iso, e.cfg.EnableNamespaces)
	cmd.Stdin = stdin
	cmd.Stdout = io.Discard
	cmd.Stderr = &helperStderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return result.RunResult{}, pkgerrors.Wrapf(err, pkgerrors.SandboxError, "start sandbox helper: %v", err)
	}
	if err := cg.attach(cmd.Process.Pid); err != nil {
		logger.Warn(ctx, "attach process to cgroup failed", zap.Int("pid", cmd.Process.Pid), zap.Error(err))
	}

	wd := e.watch(ctx, cmd.Process.Pid, cg, runSpec.Limits.WallTimeMs)
	waitErr := cmd.Wait()
	wallMs := time.Since(start).Milliseconds()
	wd.stop()

	if ctx.Err() != nil {
		return result.RunResult{}, ctx.Err()
	}
	exitCode, signal := exitStatus(waitErr, cmd.ProcessState)
	if exitCode == HelperSetupExitCode && helperStderr.Len() > 0 {
		return result.RunResult{}, pkgerrors.Newf(pkgerrors.SandboxError, "sandbox setup failed: %s", strings.TrimSpace(helperStderr.String()))
	}

	memKB, ok := cg.peakKB()
	if !ok {
		memKB = maxRSSKB(cmd.ProcessState)
	}
	stdoutPath := resolveHostPath(runSpec.StdoutPath, runSpec)
	stderrPath := resolveHostPath(runSpec.StderrPath, runSpec)
	return result.RunResult{
		ExitCode:   exitCode,
		Signal:     signal,
		TimedOut:   wd.fired.Load(),
		TimeMs:     cpuTimeMs(cmd.ProcessState),
		WallTimeMs: wallMs,
		MemoryKB:   memKB,
		OutputKB:   fileSizeKB(stdoutPath),
		Stdout:     readLimitedFile(stdoutPath, e.cfg.StdoutStderrMaxBytes),
		Stderr:     readLimitedFile(stderrPath, e.cfg.StdoutStderrMaxBytes),
		OomKilled:  cg.oomKilled(),
	}, nil
}

// KillGroup destroys every run cgroup of group. Runs started by an earlier
// process with the same group are included.
func (e *linuxEngine) KillGroup(ctx context.Context, group string) error {
	if group == "" {
		return pkgerrors.ValidationError("group", "required")
	}
	if !e.cfg.EnableCgroup {
		return nil
	}
	if err := destroyGroup(e.cfg.CgroupRoot, group); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.SandboxError, "kill group %s: %v", group, err)
	}
	return nil
}

func (e *linuxEngine) isolation(runSpec spec.RunSpec) (security.IsolationProfile, error) {
	iso, err := e.resolver.Resolve(runSpec.Profile)
	if err != nil {
		return iso, pkgerrors.Wrapf(err, pkgerrors.SandboxError, "resolve profile %s: %v", runSpec.Profile, err)
	}
	if runSpec.Chroot != "" {
		iso.RootFS = runSpec.Chroot
	}
	if e.cfg.SeccompDir != "" && iso.SeccompProfile != "" && !filepath.IsAbs(iso.SeccompProfile) {
		iso.SeccompProfile = filepath.Join(e.cfg.SeccompDir, iso.SeccompProfile)
	}
	return iso, nil
}

type watchdog struct {
	fired atomic.Bool
	done  chan struct{}
}

func (w *watchdog) stop() {
	close(w.done)
}

// watch kills the run when ctx ends or the wall limit passes. The cgroup kill
// also reaches processes that escaped the helper's process group.
func (e *linuxEngine) watch(ctx context.Context, pid int, cg *runCgroup, wallMs int64) *watchdog {
	w := &watchdog{done: make(chan struct{})}
	go func() {
		var deadline <-chan time.Time
		if limit := durationFromMs(wallMs); limit > 0 {
			timer := time.NewTimer(limit)
			defer timer.Stop()
			deadline = timer.C
		}
		select {
		case <-w.done:
			return
		case <-ctx.Done():
		case <-deadline:
			w.fired.Store(true)
		}
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		cg.kill()
	}()
	return w
}

// exitStatus reports the exit code, or 128+n and the signal name when the
// process was killed by signal n.
func exitStatus(err error, state *os.ProcessState) (int, string) {
	if state == nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			state = exitErr.ProcessState
		}
	}
	if state == nil {
		if err == nil {
			return 0, ""
		}
		return -1, ""
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig := ws.Signal()
		return 128 + int(sig), unix.SignalName(sig)
	}
	return state.ExitCode(), ""
}

func maxRSSKB(state *os.ProcessState) int64 {
	if state == nil {
		return 0
	}
	if usage, ok := state.SysUsage().(*syscall.Rusage); ok {
		return usage.Maxrss
	}
	return 0
}

func validateRunSpec(runSpec spec.RunSpec) error {
	switch {
	case runSpec.Group == "":
		return pkgerrors.ValidationError("group", "required")
	case runSpec.RunID == "":
		return pkgerrors.ValidationError("runID", "required")
	case runSpec.WorkDir == "":
		return pkgerrors.ValidationError("workDir", "required")
	case len(runSpec.Cmd) == 0:
		return pkgerrors.ValidationError("cmd", "required")
	case runSpec.Profile == "":
		return pkgerrors.ValidationError("profile", "required")
	}
	return nil
}

func encodeInitRequest(req initRequest) io.ReadCloser {
	r, w := io.Pipe()
	go func() {
		_ = w.CloseWithError(json.NewEncoder(w).Encode(req))
	}()
	return r
}

func sysProcAttr(profile security.IsolationProfile, namespaces bool) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if !namespaces {
		return attr
	}
	flags := uintptr(syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC | syscall.CLONE_NEWUSER)
	if profile.DisableNetwork {
		flags |= syscall.CLONE_NEWNET
	}
	attr.Cloneflags = flags
	attr.GidMappingsEnableSetgroups = false
	attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getuid(), Size: 1}}
	attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getgid(), Size: 1}}
	return attr
}
