package model

import (
	"encoding/json"
	"strconv"
	"strings"

	pkgerrors "judger/pkg/errors"
)

// UnsolvedTask is the queue message for one solution.
type UnsolvedTask struct {
	SolutionID    string          `json:"solutionID"`
	ProblemFiles  []string        `json:"problemFiles"`
	SolutionFiles []string        `json:"solutionFiles"`
	Data          json.RawMessage `json:"data"`
}

// DecodeUnsolvedTask parses and validates a raw queue message. On a
// validation error the returned task still carries whatever was decoded, so
// the caller can report against the solution id when it is known.
func DecodeUnsolvedTask(raw []byte) (UnsolvedTask, error) {
	var task UnsolvedTask
	if err := json.Unmarshal(raw, &task); err != nil {
		return UnsolvedTask{}, pkgerrors.Wrapf(err, pkgerrors.InvalidFormat, "decode task failed: %v", err)
	}
	task.SolutionID = strings.TrimSpace(task.SolutionID)
	if task.SolutionID == "" {
		return task, pkgerrors.ValidationError("solutionID", "required")
	}
	if err := checkFileIDs("problemFiles", task.ProblemFiles); err != nil {
		return task, err
	}
	if err := checkFileIDs("solutionFiles", task.SolutionFiles); err != nil {
		return task, err
	}
	return task, nil
}

func checkFileIDs(field string, ids []string) error {
	for i, id := range ids {
		if strings.TrimSpace(id) == "" {
			return pkgerrors.ValidationError(field+"["+strconv.Itoa(i)+"]", "empty file id")
		}
	}
	return nil
}

// Job is an UnsolvedTask with every file resolved, bound to its channel.
type Job struct {
	SolutionID    string
	Channel       string
	ProblemFiles  []File
	SolutionFiles []File
	Data          json.RawMessage
	TraceID       string
}
