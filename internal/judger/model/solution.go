package model

import "strings"

// SolutionStatus is the verdict state of a solution or of one of its parts.
type SolutionStatus string

const (
	StatusWaitingJudge        SolutionStatus = "WaitingJudge"
	StatusJudging             SolutionStatus = "Judging"
	StatusSkipped             SolutionStatus = "Skipped"
	StatusAccepted            SolutionStatus = "Accepted"
	StatusWrongAnswer         SolutionStatus = "WrongAnswer"
	StatusTimeLimitExceeded   SolutionStatus = "TimeLimitExceeded"
	StatusMemoryLimitExceeded SolutionStatus = "MemoryLimitExceeded"
	StatusOutputLimitExceeded SolutionStatus = "OutputLimitExceeded"
	StatusRuntimeError        SolutionStatus = "RuntimeError"
	StatusCompileError        SolutionStatus = "CompileError"
	StatusJudgementFailed     SolutionStatus = "JudgementFailed"
)

// IsTerminal reports whether judging is finished.
func (s SolutionStatus) IsTerminal() bool {
	switch s {
	case StatusWaitingJudge, StatusJudging, "":
		return false
	default:
		return true
	}
}

// Solution is one verdict snapshot. Log only grows between snapshots of the
// same judging run.
type Solution struct {
	Status    SolutionStatus `json:"status"`
	Score     float64        `json:"score"`
	Log       string         `json:"log"`
	TimeMs    int64          `json:"timeMs"`
	MemoryKB  int64          `json:"memoryKb"`
	UpdatedAt int64          `json:"updatedAt"`
}

// WithLog returns a copy with lines appended to the log.
func (s Solution) WithLog(lines ...string) Solution {
	if len(lines) == 0 {
		return s
	}
	var b strings.Builder
	b.WriteString(s.Log)
	for _, line := range lines {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	s.Log = b.String()
	return s
}

// WithStatus returns a copy moved to status. A terminal status is never
// replaced by a non-terminal one.
func (s Solution) WithStatus(status SolutionStatus) Solution {
	if s.Status.IsTerminal() && !status.IsTerminal() {
		return s
	}
	s.Status = status
	return s
}

// ClampScore limits a score to [0, 100].
func ClampScore(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}
