package agent

import (
	"context"
	"errors"
	"io/fs"
	"os/exec"
	"slices"

	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
)

// Exit codes used by shells when a command could not be run.
const (
	exitCodeNotExecutable = 126
	exitCodeNotFound      = 127
)

// ProcessFromExec converts an exec spec into a process.
func ProcessFromExec(spec model.ExecSpec) Process {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	slices.Sort(env)

	return Process{
		Path: spec.Path,
		Args: spec.Args,
		Env:  env,
		Dir:  spec.WorkingDir,
	}
}

// RunInit runs the initial process of a VM and returns the code the VM must exit
// with. Cancelling ctx terminates the process.
func RunInit(ctx context.Context, e Executor, p Process, stdio Stdio, logger log.Logger) int {
	if logger == nil {
		logger = log.Noop
	}
	logger = logger.WithValues(log.Kv{"svc": "agent.Init", "path": p.Path})

	code, err := e.Run(ctx, p, stdio)
	if err != nil {
		logger.Errorf("could not start init process: %s", err)
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, exec.ErrNotFound) {
			return exitCodeNotFound
		}
		return exitCodeNotExecutable
	}

	logger.Debugf("init process exited with %d", code)
	return code
}
