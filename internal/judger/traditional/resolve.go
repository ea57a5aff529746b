package traditional

import (
	"context"
	"fmt"

	"judger/internal/judger/model"
)

type mark int

const (
	markUnvisited mark = iota
	markInProgress
	markResolved
)

// resolver walks the subtask graph depth first. Dependencies are resolved
// before their dependents and each subtask is judged at most once.
type resolver struct {
	j        *judgement
	subtasks map[string]Subtask
	marks    map[string]mark
	outcomes map[string]outcome
	total    summary
}

func (j *judgement) resolveAll(ctx context.Context) (summary, error) {
	r := &resolver{
		j:        j,
		subtasks: make(map[string]Subtask, len(j.data.Subtasks)),
		marks:    make(map[string]mark, len(j.data.Subtasks)),
		outcomes: make(map[string]outcome, len(j.data.Subtasks)),
	}
	for _, s := range j.data.Subtasks {
		r.subtasks[s.Name] = s
	}
	for _, s := range j.data.Subtasks {
		if r.marks[s.Name] == markResolved {
			continue
		}
		if _, err := r.resolve(ctx, s.Name); err != nil {
			return summary{}, err
		}
	}
	return r.total, nil
}

func (r *resolver) resolve(ctx context.Context, name string) (outcome, error) {
	switch r.marks[name] {
	case markResolved:
		return r.outcomes[name], nil
	case markInProgress:
		return outcome{}, errCycle(name)
	}
	r.marks[name] = markInProgress
	s := r.subtasks[name]

	skipped := false
	for _, dep := range s.Depends {
		depOutcome, err := r.resolve(ctx, dep)
		if err != nil {
			return outcome{}, err
		}
		if depOutcome.Status != model.StatusAccepted {
			skipped = true
			break
		}
	}

	var out outcome
	if skipped {
		out = outcome{Status: model.StatusSkipped}
		r.j.log(fmt.Sprintf("// Skipping subtask %s", name))
	} else {
		var err error
		if out, err = r.j.judgeSubtask(ctx, s); err != nil {
			return outcome{}, err
		}
	}

	r.marks[name] = markResolved
	r.outcomes[name] = out
	r.total = r.total.add(out, s.Score)
	r.j.sol = r.total.apply(r.j.sol, false)
	if err := r.j.push(ctx); err != nil {
		return outcome{}, err
	}
	return out, nil
}

// judgeSubtask runs the testcases of s in order.
func (j *judgement) judgeSubtask(ctx context.Context, s Subtask) (outcome, error) {
	j.log("// Judging subtask " + s.Name)
	t := newTally(len(s.Testcases))
	for _, tc := range s.Testcases {
		if err := ctx.Err(); err != nil {
			return outcome{}, err
		}
		j.log("Judging task")
		t = t.add(j.judgeTestcase(ctx, s, tc))
		if t.failed() && s.AutoSkip {
			break
		}
	}
	return t.outcome(), nil
}

func formatTotal(timeMs, memoryKB int64) string {
	return fmt.Sprintf("Total: %d MS %d KB", timeMs, memoryKB)
}
