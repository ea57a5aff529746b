package traditional

import (
	"math"

	"judger/internal/judger/model"
	"judger/internal/judger/sandbox/result"
)

// outcome is the verdict of a testcase or a subtask. Score is out of 100.
type outcome struct {
	Status   model.SolutionStatus
	Score    float64
	TimeMs   int64
	MemoryKB int64
}

// tally folds testcase outcomes into a subtask outcome. Each testcase is
// worth an equal share of 100; the score is averaged once in outcome.
type tally struct {
	n      int
	points float64
	status model.SolutionStatus
	total  outcome
}

func newTally(testcases int) tally {
	return tally{n: testcases}
}

// add returns the tally with tc folded in.
func (t tally) add(tc outcome) tally {
	t.points += tc.Score
	t.total.TimeMs += tc.TimeMs
	t.total.MemoryKB = max(t.total.MemoryKB, tc.MemoryKB)
	if t.status == "" && tc.Status != model.StatusAccepted {
		t.status = tc.Status
	}
	return t
}

func (t tally) failed() bool {
	return t.status != ""
}

func (t tally) outcome() outcome {
	out := t.total
	if t.n > 0 {
		out.Score = roundScore(t.points / float64(t.n))
	}
	out.Status = t.status
	if out.Status == "" {
		out.Status = model.StatusAccepted
	}
	return out
}

// summary folds subtask outcomes into the job verdict in resolution order.
type summary struct {
	status   model.SolutionStatus
	points   float64
	timeMs   int64
	memoryKB int64
}

// add returns the summary with a subtask outcome weighted by its score.
func (s summary) add(sub outcome, weight float64) summary {
	s.points += sub.Score * weight
	s.timeMs += sub.TimeMs
	s.memoryKB = max(s.memoryKB, sub.MemoryKB)
	if s.status == "" && sub.Status != model.StatusAccepted {
		s.status = sub.Status
	}
	return s
}

// apply writes the running totals into a snapshot. The status only
// changes once final is set, so intermediate snapshots stay Judging.
func (s summary) apply(sol model.Solution, final bool) model.Solution {
	sol.Score = model.ClampScore(roundScore(s.points / 100))
	sol.TimeMs = s.timeMs
	sol.MemoryKB = s.memoryKB
	if final {
		status := s.status
		if status == "" {
			status = model.StatusAccepted
		}
		sol = sol.WithStatus(status)
	}
	return sol
}

// roundScore drops float noise below a millionth of a point.
func roundScore(score float64) float64 {
	return math.Round(score*1e6) / 1e6
}

func runStatus(status result.RunStatus) model.SolutionStatus {
	switch status {
	case result.StatusOK:
		return model.StatusAccepted
	case result.StatusTimeLimitExceeded:
		return model.StatusTimeLimitExceeded
	case result.StatusMemoryLimitExceeded:
		return model.StatusMemoryLimitExceeded
	case result.StatusOutputLimitExceeded:
		return model.StatusOutputLimitExceeded
	default:
		return model.StatusRuntimeError
	}
}
