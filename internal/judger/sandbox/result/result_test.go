package result

import (
	"testing"

	"judger/internal/judger/sandbox/spec"
)

func TestClassify(t *testing.T) {
	limits := spec.ResourceLimit{CPUTimeMs: 1000, MemoryMB: 64, OutputMB: 1}
	cases := []struct {
		name string
		run  RunResult
		want RunStatus
	}{
		{name: "ok", run: RunResult{TimeMs: 10, MemoryKB: 1024}, want: StatusOK},
		{name: "wall timeout", run: RunResult{TimedOut: true, ExitCode: 137, Signal: "SIGKILL"}, want: StatusTimeLimitExceeded},
		{name: "cpu over limit", run: RunResult{TimeMs: 1001}, want: StatusTimeLimitExceeded},
		{name: "cpu rlimit", run: RunResult{ExitCode: 152, Signal: "SIGXCPU"}, want: StatusTimeLimitExceeded},
		{name: "oom killed", run: RunResult{OomKilled: true, ExitCode: 137, Signal: "SIGKILL"}, want: StatusMemoryLimitExceeded},
		{name: "memory over limit", run: RunResult{MemoryKB: 64*1024 + 1}, want: StatusMemoryLimitExceeded},
		{name: "file size rlimit", run: RunResult{ExitCode: 153, Signal: "SIGXFSZ"}, want: StatusOutputLimitExceeded},
		{name: "output over limit", run: RunResult{OutputKB: 1025}, want: StatusOutputLimitExceeded},
		{name: "nonzero exit", run: RunResult{ExitCode: 3}, want: StatusRuntimeError},
		{name: "segfault", run: RunResult{ExitCode: 139, Signal: "SIGSEGV"}, want: StatusRuntimeError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.run.Classify(limits); got != tc.want {
				t.Fatalf("Classify() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestClassifyWithoutLimits(t *testing.T) {
	run := RunResult{TimeMs: 1 << 20, MemoryKB: 1 << 30, OutputKB: 1 << 30}
	if got := run.Classify(spec.ResourceLimit{}); got != StatusOK {
		t.Fatalf("zero limits should not be enforced, got %s", got)
	}
}
