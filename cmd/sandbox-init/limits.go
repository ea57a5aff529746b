//go:build linux

package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

func applyRlimits(limits resourceLimit) error {
	const mb = 1024 * 1024
	rlimits := []struct {
		name     string
		resource int
		value    int64
	}{
		// RLIMIT_CPU has second granularity; the engine compares exact
		// CPU time afterwards.
		{"cpu", unix.RLIMIT_CPU, (limits.CPUTimeMs + 999) / 1000},
		{"fsize", unix.RLIMIT_FSIZE, limits.OutputMB * mb},
		{"stack", unix.RLIMIT_STACK, limits.StackMB * mb},
		{"nproc", unix.RLIMIT_NPROC, limits.PIDs},
	}
	for _, rl := range rlimits {
		if rl.value <= 0 {
			continue
		}
		v := uint64(rl.value)
		if err := unix.Setrlimit(rl.resource, &unix.Rlimit{Cur: v, Max: v}); err != nil {
			return fmt.Errorf("set rlimit %s: %w", rl.name, err)
		}
	}
	return nil
}

func redirectIO(spec runSpec) error {
	files := []struct {
		path string
		flag int
		fd   int
	}{
		{spec.StdinPath, os.O_RDONLY, 0},
		{spec.StdoutPath, os.O_CREATE | os.O_WRONLY | os.O_TRUNC, 1},
		{spec.StderrPath, os.O_CREATE | os.O_WRONLY | os.O_TRUNC, 2},
	}
	for _, f := range files {
		path := f.path
		if path == "" {
			path = os.DevNull
		}
		file, err := os.OpenFile(path, f.flag, 0644)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		err = unix.Dup2(int(file.Fd()), f.fd)
		_ = file.Close()
		if err != nil {
			return fmt.Errorf("dup %s: %w", path, err)
		}
	}
	return nil
}
