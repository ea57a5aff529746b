// Package result defines sandbox execution results and their classification.
package result

import "judger/internal/judger/sandbox/spec"

// RunStatus is how a sandboxed process ended.
type RunStatus string

const (
	StatusOK                  RunStatus = "OK"
	StatusTimeLimitExceeded   RunStatus = "TimeLimitExceeded"
	StatusMemoryLimitExceeded RunStatus = "MemoryLimitExceeded"
	StatusOutputLimitExceeded RunStatus = "OutputLimitExceeded"
	StatusRuntimeError        RunStatus = "RuntimeError"
)

// RunResult captures raw sandbox execution data.
type RunResult struct {
	ExitCode   int
	Signal     string
	TimedOut   bool
	TimeMs     int64
	WallTimeMs int64
	MemoryKB   int64
	OutputKB   int64
	Stdout     string
	Stderr     string
	OomKilled  bool
}

// Classify maps a run to its status under limits. Limit violations take
// precedence over the exit code, since the kernel reports them as kills.
func (r RunResult) Classify(limits spec.ResourceLimit) RunStatus {
	if r.TimedOut || r.Signal == "SIGXCPU" {
		return StatusTimeLimitExceeded
	}
	if limits.CPUTimeMs > 0 && r.TimeMs > limits.CPUTimeMs {
		return StatusTimeLimitExceeded
	}
	if r.OomKilled {
		return StatusMemoryLimitExceeded
	}
	if limits.MemoryMB > 0 && r.MemoryKB > limits.MemoryMB*1024 {
		return StatusMemoryLimitExceeded
	}
	if r.Signal == "SIGXFSZ" {
		return StatusOutputLimitExceeded
	}
	if limits.OutputMB > 0 && r.OutputKB > limits.OutputMB*1024 {
		return StatusOutputLimitExceeded
	}
	if r.ExitCode != 0 || r.Signal != "" {
		return StatusRuntimeError
	}
	return StatusOK
}
