// Package workdir manages the private directories a worker stages files in.
package workdir

import (
	"io"
	"os"

	pkgerrors "judger/pkg/errors"
)

// Reset empties dir, creating it when missing.
func Reset(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.JudgeSystemError, "clear %s: %v", dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.JudgeSystemError, "create %s: %v", dir, err)
	}
	return nil
}

// CopyFile copies src to dst with executable permissions.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.JudgeSystemError, "open %s: %v", src, err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0755)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.JudgeSystemError, "create %s: %v", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return pkgerrors.Wrapf(err, pkgerrors.JudgeSystemError, "copy %s: %v", src, err)
	}
	return out.Close()
}
