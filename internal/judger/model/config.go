package model

import "strconv"

// JudgerConfig identifies the worker a plugin runs in.
type JudgerConfig struct {
	WorkerID int
	Cgroup   string
	Chroot   string
	TmpDir   string
}

// NewJudgerConfig derives the worker's sandbox identity.
func NewJudgerConfig(workerID int, chroot, tmpDir string) JudgerConfig {
	return JudgerConfig{
		WorkerID: workerID,
		Cgroup:   "JUDGE" + strconv.Itoa(workerID),
		Chroot:   chroot,
		TmpDir:   tmpDir,
	}
}
