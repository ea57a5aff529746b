//go:build linux

package main

import "fmt"

// The field names mirror the engine's Go structs, which are encoded
// without tags.
type initRequest struct {
	RunSpec       runSpec          `json:"RunSpec"`
	Isolation     isolationProfile `json:"Isolation"`
	EnableSeccomp bool             `json:"EnableSeccomp"`
	EnableNs      bool             `json:"EnableNs"`
}

func (r initRequest) validate() error {
	if len(r.RunSpec.Cmd) == 0 {
		return fmt.Errorf("command is required")
	}
	if r.RunSpec.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if r.RunSpec.UID < 0 || r.RunSpec.GID < 0 {
		return fmt.Errorf("invalid uid/gid %d/%d", r.RunSpec.UID, r.RunSpec.GID)
	}
	return nil
}

type runSpec struct {
	WorkDir    string        `json:"WorkDir"`
	Cmd        []string      `json:"Cmd"`
	Env        []string      `json:"Env"`
	StdinPath  string        `json:"StdinPath"`
	StdoutPath string        `json:"StdoutPath"`
	StderrPath string        `json:"StderrPath"`
	BindMounts []mountSpec   `json:"BindMounts"`
	MountProc  bool          `json:"MountProc"`
	UID        int           `json:"UID"`
	GID        int           `json:"GID"`
	Limits     resourceLimit `json:"Limits"`
}

type mountSpec struct {
	Source   string `json:"Source"`
	Target   string `json:"Target"`
	ReadOnly bool   `json:"ReadOnly"`
}

type resourceLimit struct {
	CPUTimeMs  int64 `json:"CPUTimeMs"`
	WallTimeMs int64 `json:"WallTimeMs"`
	MemoryMB   int64 `json:"MemoryMB"`
	StackMB    int64 `json:"StackMB"`
	OutputMB   int64 `json:"OutputMB"`
	PIDs       int64 `json:"PIDs"`
}

type isolationProfile struct {
	RootFS         string `json:"RootFS"`
	SeccompProfile string `json:"SeccompProfile"`
	DisableNetwork bool   `json:"DisableNetwork"`
}
