package supervisor

import (
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
)

// Environment handed to every worker process.
const (
	EnvWorkerID = "WORKER_ID"
	EnvTmpDir   = "TMP_DIR"
	EnvChroot   = "CHROOT_PATH"
)

// Inherited descriptors carrying the RPC streams, as seen by the worker.
const (
	WorkerReadFD  = 3
	WorkerWriteFD = 4
)

// Process is a started worker.
type Process interface {
	Pid() int
	Signal(sig os.Signal) error
	// Wait blocks until the process exits.
	Wait() error
	// Conn returns the stream written by the worker and the stream read by it.
	Conn() (io.Reader, io.Writer)
	// Close releases the supervisor's ends of the RPC streams.
	Close() error
}

// Launcher starts worker processes.
type Launcher interface {
	Launch(workerID int, tmpDir string) (Process, error)
}

// ExecLauncher re-executes a binary as a worker, passing the RPC pipes as
// descriptors 3 and 4.
type ExecLauncher struct {
	Path   string
	Args   []string
	Chroot string
	Env    []string
	Stdout io.Writer
	Stderr io.Writer
}

// NewExecLauncher launches the running binary with args.
func NewExecLauncher(args []string, chroot string) (*ExecLauncher, error) {
	path, err := os.Executable()
	if err != nil {
		return nil, err
	}
	return &ExecLauncher{
		Path:   path,
		Args:   args,
		Chroot: chroot,
		Env:    os.Environ(),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}, nil
}

func (l *ExecLauncher) Launch(workerID int, tmpDir string) (Process, error) {
	toWorkerR, toWorkerW, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	fromWorkerR, fromWorkerW, err := os.Pipe()
	if err != nil {
		_ = toWorkerR.Close()
		_ = toWorkerW.Close()
		return nil, err
	}

	cmd := exec.Command(l.Path, l.Args...)
	cmd.Env = append(append([]string(nil), l.Env...),
		EnvWorkerID+"="+strconv.Itoa(workerID),
		EnvTmpDir+"="+tmpDir,
		EnvChroot+"="+l.Chroot,
	)
	cmd.ExtraFiles = []*os.File{toWorkerR, fromWorkerW}
	cmd.Stdout = l.Stdout
	cmd.Stderr = l.Stderr

	startErr := cmd.Start()
	// The child holds its own copies now.
	_ = toWorkerR.Close()
	_ = fromWorkerW.Close()
	if startErr != nil {
		_ = toWorkerW.Close()
		_ = fromWorkerR.Close()
		return nil, startErr
	}
	return &execProcess{cmd: cmd, reader: fromWorkerR, writer: toWorkerW}, nil
}

type execProcess struct {
	cmd       *exec.Cmd
	reader    *os.File
	writer    *os.File
	closeOnce sync.Once
}

func (p *execProcess) Pid() int                     { return p.cmd.Process.Pid }
func (p *execProcess) Signal(sig os.Signal) error   { return p.cmd.Process.Signal(sig) }
func (p *execProcess) Wait() error                  { return p.cmd.Wait() }
func (p *execProcess) Conn() (io.Reader, io.Writer) { return p.reader, p.writer }

func (p *execProcess) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.writer.Close()
		if rerr := p.reader.Close(); err == nil {
			err = rerr
		}
	})
	return err
}
