// Package engine runs RunSpecs inside an isolated sandbox.
package engine

import (
	"context"

	"judger/internal/judger/sandbox/result"
	"judger/internal/judger/sandbox/spec"
)

// Engine executes a RunSpec inside an isolated sandbox.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error)
	// KillGroup kills every live run of a cgroup group.
	KillGroup(ctx context.Context, group string) error
}
