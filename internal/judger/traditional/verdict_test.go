package traditional

import (
	"testing"

	"judger/internal/judger/model"
	"judger/internal/judger/sandbox/result"
)

func TestTally(t *testing.T) {
	tl := newTally(3)
	tl = tl.add(outcome{Status: model.StatusAccepted, Score: 100, TimeMs: 5, MemoryKB: 10})
	if tl.failed() {
		t.Fatalf("accepted testcase should not fail the tally")
	}
	tl = tl.add(outcome{Status: model.StatusRuntimeError, TimeMs: 7, MemoryKB: 30})
	tl = tl.add(outcome{Status: model.StatusWrongAnswer, TimeMs: 1, MemoryKB: 20})
	out := tl.outcome()
	if out.Status != model.StatusRuntimeError {
		t.Fatalf("expected first failure status, got %s", out.Status)
	}
	if out.TimeMs != 13 || out.MemoryKB != 30 {
		t.Fatalf("unexpected usage %+v", out)
	}
	if out.Score < 33.33 || out.Score > 33.34 {
		t.Fatalf("unexpected score %v", out.Score)
	}
}

func TestAllAcceptedScoresFull(t *testing.T) {
	for _, n := range []int{1, 3, 6, 7, 9, 11, 12, 49} {
		tl := newTally(n)
		for i := 0; i < n; i++ {
			tl = tl.add(outcome{Status: model.StatusAccepted, Score: 100})
		}
		out := tl.outcome()
		if out.Score != 100 {
			t.Fatalf("%d accepted testcases scored %v", n, out.Score)
		}
		var s summary
		s = s.add(out, 100)
		sol := s.apply(model.Solution{Status: model.StatusJudging}, true)
		if sol.Score != 100 || sol.Status != model.StatusAccepted {
			t.Fatalf("%d accepted testcases gave %s %v", n, sol.Status, sol.Score)
		}
	}
}

func TestSummarySplitWeights(t *testing.T) {
	var s summary
	for i := 0; i < 3; i++ {
		s = s.add(outcome{Status: model.StatusAccepted, Score: 100}, 100.0/3)
	}
	if got := s.apply(model.Solution{Status: model.StatusJudging}, true).Score; got != 100 {
		t.Fatalf("three thirds scored %v", got)
	}
}

func TestSummaryApply(t *testing.T) {
	var s summary
	s = s.add(outcome{Status: model.StatusAccepted, Score: 100, TimeMs: 3, MemoryKB: 5}, 30)
	s = s.add(outcome{Status: model.StatusSkipped}, 70)

	sol := s.apply(model.Solution{Status: model.StatusJudging}, false)
	if sol.Status != model.StatusJudging || sol.Score != 30 {
		t.Fatalf("intermediate snapshot should keep Judging, got %s %v", sol.Status, sol.Score)
	}
	sol = s.apply(sol, true)
	if sol.Status != model.StatusSkipped || sol.TimeMs != 3 || sol.MemoryKB != 5 {
		t.Fatalf("unexpected final snapshot %+v", sol)
	}

	if got := (summary{}).apply(model.Solution{Status: model.StatusJudging}, true).Status; got != model.StatusAccepted {
		t.Fatalf("empty summary should be Accepted, got %s", got)
	}
}

func TestRunStatus(t *testing.T) {
	cases := map[result.RunStatus]model.SolutionStatus{
		result.StatusOK:                  model.StatusAccepted,
		result.StatusTimeLimitExceeded:   model.StatusTimeLimitExceeded,
		result.StatusMemoryLimitExceeded: model.StatusMemoryLimitExceeded,
		result.StatusOutputLimitExceeded: model.StatusOutputLimitExceeded,
		result.StatusRuntimeError:        model.StatusRuntimeError,
	}
	for in, want := range cases {
		if got := runStatus(in); got != want {
			t.Fatalf("runStatus(%s) = %s, want %s", in, got, want)
		}
	}
}
