package model

import (
	"testing"

	pkgerrors "judger/pkg/errors"
)

func TestSolutionStatusIsTerminal(t *testing.T) {
	cases := map[SolutionStatus]bool{
		StatusWaitingJudge:    false,
		StatusJudging:         false,
		StatusSkipped:         true,
		StatusAccepted:        true,
		StatusCompileError:    true,
		StatusJudgementFailed: true,
	}
	for status, want := range cases {
		if got := status.IsTerminal(); got != want {
			t.Fatalf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestSolutionWithLogAndStatus(t *testing.T) {
	s := Solution{Status: StatusJudging}
	s = s.WithLog("Initialized").WithLog("a", "b")
	if s.Log != "Initialized\na\nb" {
		t.Fatalf("unexpected log %q", s.Log)
	}

	done := s.WithStatus(StatusWrongAnswer)
	if done.Status != StatusWrongAnswer {
		t.Fatalf("unexpected status %s", done.Status)
	}
	if back := done.WithStatus(StatusJudging); back.Status != StatusWrongAnswer {
		t.Fatalf("terminal status was reset to %s", back.Status)
	}
	if s.Status != StatusJudging {
		t.Fatalf("WithStatus mutated the receiver")
	}
}

func TestClampScore(t *testing.T) {
	cases := []struct{ in, want float64 }{{-1, 0}, {0, 0}, {55.5, 55.5}, {100, 100}, {100.0001, 100}}
	for _, tc := range cases {
		if got := ClampScore(tc.in); got != tc.want {
			t.Fatalf("ClampScore(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestDecodeUnsolvedTask(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantID  string
		wantErr pkgerrors.ErrorCode
	}{
		{
			name:   "valid",
			raw:    `{"solutionID":"s1","problemFiles":["p0","p1"],"solutionFiles":["f0"],"data":{"judgerFile":0}}`,
			wantID: "s1",
		},
		{name: "malformed", raw: `{"solutionID":`, wantErr: pkgerrors.InvalidFormat},
		{name: "missing id", raw: `{"problemFiles":[]}`, wantErr: pkgerrors.ValidationFailed},
		{name: "empty file id", raw: `{"solutionID":"s2","problemFiles":[""]}`, wantID: "s2", wantErr: pkgerrors.ValidationFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task, err := DecodeUnsolvedTask([]byte(tc.raw))
			if tc.wantErr != 0 {
				if !pkgerrors.Is(err, tc.wantErr) {
					t.Fatalf("expected code %d, got %v", tc.wantErr, err)
				}
			} else if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if task.SolutionID != tc.wantID {
				t.Fatalf("expected id %q, got %q", tc.wantID, task.SolutionID)
			}
		})
	}
}

func TestNewJudgerConfig(t *testing.T) {
	cfg := NewJudgerConfig(3, "/chroot", "/tmp/worker_3")
	if cfg.Cgroup != "JUDGE3" || cfg.WorkerID != 3 || cfg.TmpDir != "/tmp/worker_3" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
