//go:build linux

// Command sandbox-init prepares the isolated environment for one sandboxed
// run and then replaces itself with the target program. The engine starts it
// inside fresh namespaces and feeds the run description as JSON on stdin.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// setupExitCode must match engine.HelperSetupExitCode.
const setupExitCode = 126

const defaultPath = "PATH=/usr/lib/jvm/java-1.8-openjdk/bin:/usr/share/Modules/bin:/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// errOut receives setup failures. It is re-pointed at a private copy of the
// original stderr before stdio is redirected to the run's files.
var errOut io.Writer = os.Stderr

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintln(errOut, "sandbox-init:", err.Error())
		os.Exit(setupExitCode)
	}
}

func run() error {
	req, err := decodeRequest(os.Stdin)
	if err != nil {
		return err
	}
	if err := req.validate(); err != nil {
		return err
	}
	rootfs := req.Isolation.RootFS

	if req.EnableNs {
		if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
			return fmt.Errorf("make mount private: %w", err)
		}
		if err := applyBindMounts(rootfs, req.RunSpec.BindMounts); err != nil {
			return err
		}
		if req.RunSpec.MountProc {
			if err := mountProc(rootfs); err != nil {
				return err
			}
		}
		if rootfs != "" {
			if err := unix.Chroot(rootfs); err != nil {
				return fmt.Errorf("chroot: %w", err)
			}
			if err := os.Chdir("/"); err != nil {
				return fmt.Errorf("chdir root: %w", err)
			}
		}
	} else if rootfs != "" || len(req.RunSpec.BindMounts) > 0 {
		return fmt.Errorf("namespaces disabled with rootfs or bind mounts")
	}

	if err := os.Chdir(req.RunSpec.WorkDir); err != nil {
		return fmt.Errorf("chdir workdir: %w", err)
	}
	if err := applyRlimits(req.RunSpec.Limits); err != nil {
		return err
	}
	if err := keepSetupStderr(); err != nil {
		return err
	}
	if err := redirectIO(req.RunSpec); err != nil {
		return err
	}
	if err := dropPrivileges(req.RunSpec.UID, req.RunSpec.GID); err != nil {
		return err
	}
	if req.EnableSeccomp && req.Isolation.SeccompProfile != "" {
		if err := applySeccomp(req.Isolation.SeccompProfile); err != nil {
			return err
		}
	}

	env := buildEnv(req.RunSpec.Env)
	os.Clearenv()
	for _, kv := range env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("set env: %w", err)
		}
	}

	cmdPath, err := exec.LookPath(req.RunSpec.Cmd[0])
	if err != nil {
		return fmt.Errorf("resolve command: %w", err)
	}
	return unix.Exec(cmdPath, req.RunSpec.Cmd, env)
}

func decodeRequest(r io.Reader) (initRequest, error) {
	var req initRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return initRequest{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

// keepSetupStderr duplicates the engine-facing stderr so failures after the
// stdio redirect still reach the engine. The copy is closed on exec.
func keepSetupStderr() error {
	fd, err := unix.FcntlInt(uintptr(os.Stderr.Fd()), unix.F_DUPFD_CLOEXEC, 3)
	if err != nil {
		return fmt.Errorf("dup stderr: %w", err)
	}
	errOut = os.NewFile(uintptr(fd), "setup-stderr")
	return nil
}

func dropPrivileges(uid, gid int) error {
	if gid > 0 {
		if err := unix.Setgroups([]int{gid}); err != nil {
			return fmt.Errorf("setgroups: %w", err)
		}
		if err := unix.Setresgid(gid, gid, gid); err != nil {
			return fmt.Errorf("setgid: %w", err)
		}
	}
	if uid > 0 {
		if err := unix.Setresuid(uid, uid, uid); err != nil {
			return fmt.Errorf("setuid: %w", err)
		}
	}
	return nil
}

func buildEnv(env []string) []string {
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			return env
		}
	}
	return append([]string{defaultPath}, env...)
}
