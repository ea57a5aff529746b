package engine

import (
	"judger/internal/judger/sandbox/security"
	"judger/internal/judger/sandbox/spec"
)

// initRequest is the JSON document sandbox-init reads from stdin.
type initRequest struct {
	RunSpec       spec.RunSpec
	Isolation     security.IsolationProfile
	EnableSeccomp bool
	EnableNs      bool
}
