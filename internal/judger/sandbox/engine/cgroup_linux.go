//go:build linux

package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"judger/internal/judger/sandbox/spec"
)

const (
	rmdirAttempts = 20
	rmdirBackoff  = 10 * time.Millisecond
)

// runCgroup is the leaf cgroup of one sandboxed run, placed under
// <root>/<group> so that a worker can reap everything it ever started by
// walking its group directory. A nil *runCgroup is a disabled cgroup.
type runCgroup struct {
	path string
}

func newRunCgroup(root, group, runID string, limits spec.ResourceLimit) (*runCgroup, error) {
	if root == "" {
		return nil, fmt.Errorf("cgroup root is required")
	}
	groupPath := filepath.Join(root, group)
	if err := os.MkdirAll(groupPath, 0750); err != nil {
		return nil, fmt.Errorf("create cgroup group: %w", err)
	}
	// Fails harmlessly when the controllers are already delegated.
	_ = writeCgroupFile(groupPath, "cgroup.subtree_control", "+memory +pids")

	cg := &runCgroup{path: filepath.Join(groupPath, fmt.Sprintf("%s-%d", runID, time.Now().UnixNano()))}
	if err := os.Mkdir(cg.path, 0750); err != nil {
		return nil, fmt.Errorf("create run cgroup: %w", err)
	}
	if err := cg.limit(limits); err != nil {
		cg.destroy()
		return nil, err
	}
	return cg, nil
}

func (c *runCgroup) limit(limits spec.ResourceLimit) error {
	pids := "max"
	if limits.PIDs > 0 {
		pids = strconv.FormatInt(limits.PIDs, 10)
	}
	if err := writeCgroupFile(c.path, "pids.max", pids); err != nil {
		return fmt.Errorf("set pids.max: %w", err)
	}
	if limits.MemoryMB <= 0 {
		return nil
	}
	if err := writeCgroupFile(c.path, "memory.max", strconv.FormatInt(limits.MemoryMB<<20, 10)); err != nil {
		return fmt.Errorf("set memory.max: %w", err)
	}
	_ = writeCgroupFile(c.path, "memory.swap.max", "0")
	return nil
}

func (c *runCgroup) attach(pid int) error {
	if c == nil {
		return nil
	}
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	return writeCgroupFile(c.path, "cgroup.procs", strconv.Itoa(pid))
}

// kill terminates every process in the cgroup, including ones that left the
// helper's process group.
func (c *runCgroup) kill() {
	if c == nil {
		return
	}
	_ = writeCgroupFile(c.path, "cgroup.kill", "1")
}

func (c *runCgroup) oomKilled() bool {
	if c == nil {
		return false
	}
	data, err := os.ReadFile(filepath.Join(c.path, "memory.events"))
	if err != nil {
		return false
	}
	for _, line := range strings.Split(string(data), "\n") {
		if fields := strings.Fields(line); len(fields) == 2 && fields[0] == "oom_kill" {
			n, _ := strconv.ParseInt(fields[1], 10, 64)
			return n > 0
		}
	}
	return false
}

// peakKB returns memory.peak in KiB. ok is false on kernels without it.
func (c *runCgroup) peakKB() (int64, bool) {
	if c == nil {
		return 0, false
	}
	data, err := os.ReadFile(filepath.Join(c.path, "memory.peak"))
	if err != nil {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n >> 10, true
}

// destroy kills what is left and removes the directory. rmdir keeps failing
// with EBUSY until the kernel has reaped every member.
func (c *runCgroup) destroy() error {
	if c == nil {
		return nil
	}
	c.kill()
	var err error
	for i := 0; i < rmdirAttempts; i++ {
		if err = os.Remove(c.path); err == nil || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		time.Sleep(rmdirBackoff)
	}
	return fmt.Errorf("remove cgroup %s: %w", c.path, err)
}

// destroyGroup destroys every run cgroup under <root>/<group>, including
// those left behind by a previous process.
func destroyGroup(root, group string) error {
	groupPath := filepath.Join(root, group)
	entries, err := os.ReadDir(groupPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("list cgroup group: %w", err)
	}
	var firstErr error
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		cg := &runCgroup{path: filepath.Join(groupPath, entry.Name())}
		if err := cg.destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func writeCgroupFile(dir, name, value string) error {
	return os.WriteFile(filepath.Join(dir, name), []byte(value), 0640)
}
