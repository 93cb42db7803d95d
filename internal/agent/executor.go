package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// Process describes a process to run.
type Process struct {
	Path string
	Args []string
	Env  []string
	Dir  string
	Tty  bool
}

// Stdio holds the process streams. A nil Stdin means no input.
type Stdio struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Executor runs processes in the guest.
type Executor interface {
	// Run runs a process until it exits and returns its exit code. An error
	// means the process could not be started. Cancelling ctx terminates the process.
	Run(ctx context.Context, p Process, stdio Stdio) (int, error)
}

const (
	defaultPath = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

	// terminateGracePeriod is how long a cancelled process has between SIGTERM and SIGKILL.
	terminateGracePeriod = 5 * time.Second
)

// OSExecutor runs processes with os/exec.
type OSExecutor struct{}

func (OSExecutor) Run(ctx context.Context, p Process, stdio Stdio) (int, error) {
	cmd := exec.CommandContext(ctx, p.Path, p.Args...)
	cmd.Dir = p.Dir
	cmd.Env = processEnv(p.Env)
	cmd.Cancel = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	cmd.WaitDelay = terminateGracePeriod

	if p.Tty {
		return runTTY(cmd, stdio)
	}

	cmd.Stdout = stdio.Stdout
	cmd.Stderr = stdio.Stderr

	// Wait must not depend on the remote end closing stdin.
	var stdin io.WriteCloser
	if stdio.Stdin != nil {
		w, err := cmd.StdinPipe()
		if err != nil {
			return -1, err
		}
		stdin = w
	}

	if err := cmd.Start(); err != nil {
		return -1, err
	}
	if stdin != nil {
		go func() {
			_, _ = io.Copy(stdin, stdio.Stdin)
			_ = stdin.Close()
		}()
	}

	return exitCode(cmd.Wait())
}

func runTTY(cmd *exec.Cmd, stdio Stdio) (int, error) {
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return -1, err
	}
	defer ptmx.Close()

	if stdio.Stdin != nil {
		go func() { _, _ = io.Copy(ptmx, stdio.Stdin) }()
	}

	out := stdio.Stdout
	if out == nil {
		out = io.Discard
	}
	// Reading the master returns EIO once the process side is closed.
	_, _ = io.Copy(out, ptmx)

	return exitCode(cmd.Wait())
}

func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return -1, fmt.Errorf("waiting process: %w", err)
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), nil
	}
	return exitErr.ExitCode(), nil
}

func processEnv(env []string) []string {
	out := append([]string{}, env...)
	for _, kv := range out {
		if strings.HasPrefix(kv, "PATH=") {
			return out
		}
	}
	if p, ok := os.LookupEnv("PATH"); ok {
		return append(out, "PATH="+p)
	}
	return append(out, defaultPath)
}
