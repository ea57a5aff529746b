package traditional

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"judger/internal/judger/compiler"
	"judger/internal/judger/language"
	"judger/internal/judger/model"
	"judger/internal/judger/sandbox/result"
	"judger/internal/judger/sandbox/spec"
	"judger/internal/judger/workdir"
	"judger/pkg/utils/logger"

	"go.uber.org/zap"
)

// judgeTestcase runs the solution on one testcase and, when it terminates
// normally, the checker on its output. Errors are turned into a
// JudgementFailed outcome for the testcase.
func (j *judgement) judgeTestcase(ctx context.Context, s Subtask, tc Testcase) outcome {
	j.log(fmt.Sprintf("// Judging [%d-%d]", tc.Input, tc.Output))
	out, err := j.runTestcase(ctx, s, tc)
	if err != nil {
		logger.Warn(ctx, "testcase failed",
			zap.String("subtask", s.Name),
			zap.Int("input", tc.Input),
			zap.Error(err),
		)
		j.log(err.Error())
		out.Status = model.StatusJudgementFailed
		out.Score = 0
	}
	return out
}

func (j *judgement) runTestcase(ctx context.Context, s Subtask, tc Testcase) (outcome, error) {
	dirs := j.p.dirs
	input := j.job.ProblemFiles[tc.Input].Path
	answer := j.job.ProblemFiles[tc.Output].Path
	j.log("input:", shortRead(input), "output:", shortRead(answer))

	if err := dirs.resetExec(); err != nil {
		return outcome{}, err
	}
	if err := j.stage(j.solution, dirs.solution, map[string]string{"stdin": input}); err != nil {
		return outcome{}, err
	}

	timeMs, memoryMB := s.limits(tc)
	base := j.p.runLimits(timeMs, memoryMB)
	runLimits := j.solution.Language.ScaleLimits(base)
	runRes, err := j.exec(ctx, j.solution.Language, "run", runLimits, "stdin", "stdout", "stderr")
	if err != nil {
		return outcome{}, err
	}
	stdout, err := dirs.collect("stdout")
	if err != nil {
		return outcome{}, err
	}
	stderr, err := dirs.collect("stderr")
	if err != nil {
		return outcome{}, err
	}

	status := runRes.Classify(runLimits)
	out := outcome{TimeMs: runRes.TimeMs, MemoryKB: runRes.MemoryKB}
	j.log(
		"stdout:", shortRead(stdout),
		"stderr:", shortRead(stderr),
		"Run result:", fmt.Sprintf("%d ms %d KB %s", runRes.TimeMs, runRes.MemoryKB, status),
	)
	if status != result.StatusOK {
		out.Status = runStatus(status)
		return out, nil
	}

	if err := workdir.Reset(dirs.run); err != nil {
		return outcome{}, err
	}
	err = j.stage(j.checker, dirs.judger, map[string]string{
		"userout": stdout,
		"usererr": stderr,
		"input":   input,
		"output":  answer,
		"source":  j.source,
	})
	if err != nil {
		return outcome{}, err
	}
	checkLimits := j.checker.Language.ScaleLimits(base)
	checkRes, err := j.exec(ctx, j.checker.Language, "checker", checkLimits, "", "extra", "")
	if err != nil {
		return outcome{}, err
	}
	extra, err := dirs.collect("extra")
	if err != nil {
		return outcome{}, err
	}
	j.log("extra:", shortRead(extra))

	if checkRes.Classify(checkLimits) == result.StatusOK && checkRes.ExitCode == 0 {
		out.Status = model.StatusAccepted
		out.Score = 100
	} else {
		out.Status = model.StatusWrongAnswer
	}
	return out, nil
}

// stage copies the compiled program from buildDir and the named files into
// the run directory.
func (j *judgement) stage(prog compiler.Result, buildDir string, files map[string]string) error {
	run := j.p.dirs.run
	name := prog.Language.ExecFile()
	if err := workdir.CopyFile(filepath.Join(buildDir, name), filepath.Join(run, name)); err != nil {
		return err
	}
	for dst, src := range files {
		if err := workdir.CopyFile(src, filepath.Join(run, dst)); err != nil {
			return err
		}
	}
	return nil
}

// exec runs lang's program in the run directory mounted at /root. Empty
// stdio names are left unconnected.
func (j *judgement) exec(ctx context.Context, lang language.Spec, runID string, limits spec.ResourceLimit, stdin, stdout, stderr string) (result.RunResult, error) {
	cmd, err := lang.RunCommand()
	if err != nil {
		return result.RunResult{}, err
	}
	env := append([]string{defaultEnv}, lang.Env...)
	return j.p.eng.Run(ctx, spec.RunSpec{
		Group:      j.p.judger.Cgroup,
		RunID:      runID,
		Chroot:     j.p.judger.Chroot,
		WorkDir:    language.SandboxDir,
		Cmd:        cmd,
		Env:        env,
		StdinPath:  sandboxPath(stdin),
		StdoutPath: sandboxPath(stdout),
		StderrPath: sandboxPath(stderr),
		BindMounts: []spec.MountSpec{{Source: j.p.dirs.run, Target: language.SandboxDir}},
		MountProc:  true,
		UID:        j.p.cfg.UID,
		GID:        j.p.cfg.GID,
		Profile:    j.p.cfg.Profile,
		Limits:     limits,
	})
}

func sandboxPath(name string) string {
	if name == "" {
		return ""
	}
	return path.Join(language.SandboxDir, name)
}
