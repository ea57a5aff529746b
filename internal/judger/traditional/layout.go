package traditional

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"judger/internal/judger/workdir"
)

const previewBytes = 128

// layout holds the private directories of one worker.
type layout struct {
	solution string
	judger   string
	run      string
	tmp      string
}

func newLayout(tmpDir string) layout {
	base := filepath.Join(tmpDir, "judge", "traditional")
	return layout{
		solution: filepath.Join(base, "solution"),
		judger:   filepath.Join(base, "judger"),
		run:      filepath.Join(base, "exec", "run"),
		tmp:      filepath.Join(base, "exec", "tmp"),
	}
}

func (l layout) resetBuild() error {
	if err := workdir.Reset(l.solution); err != nil {
		return err
	}
	return workdir.Reset(l.judger)
}

func (l layout) resetExec() error {
	if err := workdir.Reset(l.run); err != nil {
		return err
	}
	return workdir.Reset(l.tmp)
}

// collect copies a file produced in the run directory to the tmp directory.
// A file the program never created is collected as empty.
func (l layout) collect(name string) (string, error) {
	dst := filepath.Join(l.tmp, name)
	err := workdir.CopyFile(filepath.Join(l.run, name), dst)
	if err == nil {
		return dst, nil
	}
	if _, statErr := os.Stat(filepath.Join(l.run, name)); !errors.Is(statErr, os.ErrNotExist) {
		return "", err
	}
	if err := os.WriteFile(dst, nil, 0644); err != nil {
		return "", err
	}
	return dst, nil
}

// shortRead returns the first bytes of a file for the judge log, with an
// ellipsis when the file is longer.
func shortRead(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()
	buf := make([]byte, previewBytes+1)
	n, _ := io.ReadFull(f, buf)
	if n > previewBytes {
		return string(buf[:previewBytes]) + "..."
	}
	return string(buf[:n])
}
