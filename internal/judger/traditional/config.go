package traditional

import (
	"encoding/json"
	"fmt"

	pkgerrors "judger/pkg/errors"
)

// DataConfig is the problem data carried in a traditional job.
type DataConfig struct {
	JudgerFile int       `json:"judgerFile"`
	Subtasks   []Subtask `json:"subtasks"`
}

// Subtask is a group of testcases judged together. TimeLimit is in
// milliseconds and MemoryLimit in MiB.
type Subtask struct {
	Name        string     `json:"name"`
	Depends     []string   `json:"depends"`
	Score       float64    `json:"score"`
	TimeLimit   int64      `json:"timeLimit"`
	MemoryLimit int64      `json:"memoryLimit"`
	AutoSkip    bool       `json:"autoSkip"`
	Testcases   []Testcase `json:"testcases"`
}

// Testcase points at an input and an expected output in the problem files.
// Zero limits inherit the subtask's.
type Testcase struct {
	Input       int   `json:"input"`
	Output      int   `json:"output"`
	TimeLimit   int64 `json:"timeLimit"`
	MemoryLimit int64 `json:"memoryLimit"`
}

// limits returns the effective time and memory limits of tc in s.
func (s Subtask) limits(tc Testcase) (timeMs, memoryMB int64) {
	timeMs, memoryMB = s.TimeLimit, s.MemoryLimit
	if tc.TimeLimit > 0 {
		timeMs = tc.TimeLimit
	}
	if tc.MemoryLimit > 0 {
		memoryMB = tc.MemoryLimit
	}
	return timeMs, memoryMB
}

// ParseDataConfig decodes raw and validates it against the number of
// problem files.
func ParseDataConfig(raw []byte, problemFiles int) (DataConfig, error) {
	var cfg DataConfig
	if len(raw) == 0 {
		return cfg, pkgerrors.New(pkgerrors.InvalidDataConfig).WithMessage("Invalid data config: missing data")
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, pkgerrors.Wrapf(err, pkgerrors.InvalidDataConfig, "Invalid data config: %v", err)
	}
	if err := cfg.Validate(problemFiles); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks indices, limits, names and that subtask dependencies form
// a DAG.
func (c DataConfig) Validate(problemFiles int) error {
	if c.JudgerFile < 0 || c.JudgerFile >= problemFiles {
		return invalid("judgerFile %d out of range", c.JudgerFile)
	}
	if len(c.Subtasks) == 0 {
		return invalid("no subtasks")
	}

	names := make(map[string]int, len(c.Subtasks))
	for i, s := range c.Subtasks {
		if s.Name == "" {
			return invalid("subtask %d has no name", i)
		}
		if _, dup := names[s.Name]; dup {
			return invalid("duplicate subtask %s", s.Name)
		}
		names[s.Name] = i
	}

	for _, s := range c.Subtasks {
		for _, dep := range s.Depends {
			if _, ok := names[dep]; !ok {
				return invalid("subtask %s depends on unknown subtask %s", s.Name, dep)
			}
		}
		if s.Score < 0 || s.Score > 100 {
			return invalid("subtask %s score %v out of [0,100]", s.Name, s.Score)
		}
		if s.TimeLimit <= 0 || s.MemoryLimit <= 0 {
			return invalid("subtask %s limits must be positive", s.Name)
		}
		if len(s.Testcases) == 0 {
			return invalid("subtask %s has no testcases", s.Name)
		}
		for j, tc := range s.Testcases {
			if tc.Input < 0 || tc.Input >= problemFiles || tc.Output < 0 || tc.Output >= problemFiles {
				return invalid("subtask %s testcase %d references a missing file", s.Name, j)
			}
			if tc.TimeLimit < 0 || tc.MemoryLimit < 0 {
				return invalid("subtask %s testcase %d has negative limits", s.Name, j)
			}
		}
	}

	return checkAcyclic(c.Subtasks, names)
}

const (
	unvisited = iota
	visiting
	visited
)

func checkAcyclic(subtasks []Subtask, index map[string]int) error {
	state := make([]int, len(subtasks))
	var visit func(i int) error
	visit = func(i int) error {
		switch state[i] {
		case visited:
			return nil
		case visiting:
			return errCycle(subtasks[i].Name)
		}
		state[i] = visiting
		for _, dep := range subtasks[i].Depends {
			if err := visit(index[dep]); err != nil {
				return err
			}
		}
		state[i] = visited
		return nil
	}
	for i := range subtasks {
		if err := visit(i); err != nil {
			return err
		}
	}
	return nil
}

func errCycle(name string) error {
	return pkgerrors.New(pkgerrors.CyclicDependency).
		WithMessage("Cyclic dependence detected").
		WithDetail("subtask", name)
}

func invalid(format string, args ...interface{}) error {
	return pkgerrors.New(pkgerrors.InvalidDataConfig).
		WithMessage("Invalid data config: " + fmt.Sprintf(format, args...))
}
