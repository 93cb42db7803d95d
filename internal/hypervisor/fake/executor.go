package fake

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/slok/microbox/internal/agent"
)

// terminatedExitCode is what a process terminated by SIGTERM reports.
const terminatedExitCode = 143

// ScriptedExecutor is an agent executor that emulates a few well known commands
// without running real processes:
//
//   - true, false: exit with 0 or 1.
//   - echo ARGS: prints the args.
//   - cat: copies stdin to stdout.
//   - env: prints the environment sorted.
//   - pwd: prints the working dir.
//   - exit CODE: exits with CODE.
//   - sleep SECONDS|inf: sleeps until the time passes or the process is terminated.
//   - fail-stderr TEXT: prints TEXT on stderr and exits with 1.
//
// Anything else fails as not found.
type ScriptedExecutor struct{}

func (ScriptedExecutor) Run(ctx context.Context, p agent.Process, stdio agent.Stdio) (int, error) {
	stdout, stderr := stdio.Stdout, stdio.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	switch filepath.Base(p.Path) {
	case "true":
		return 0, nil
	case "false":
		return 1, nil
	case "echo":
		fmt.Fprintln(stdout, strings.Join(p.Args, " "))
		return 0, nil
	case "cat":
		if stdio.Stdin != nil {
			_, _ = io.Copy(stdout, stdio.Stdin)
		}
		return 0, nil
	case "env":
		env := slices.Clone(p.Env)
		slices.Sort(env)
		for _, kv := range env {
			fmt.Fprintln(stdout, kv)
		}
		return 0, nil
	case "pwd":
		dir := p.Dir
		if dir == "" {
			dir = "/"
		}
		fmt.Fprintln(stdout, dir)
		return 0, nil
	case "exit":
		if len(p.Args) == 0 {
			return 0, nil
		}
		code, err := strconv.Atoi(p.Args[0])
		if err != nil {
			return -1, fmt.Errorf("invalid exit code %q: %w", p.Args[0], err)
		}
		return code, nil
	case "fail-stderr":
		fmt.Fprintln(stderr, strings.Join(p.Args, " "))
		return 1, nil
	case "sleep":
		return sleep(ctx, p.Args)
	default:
		return -1, fmt.Errorf("%s: %w", p.Path, exec.ErrNotFound)
	}
}

func sleep(ctx context.Context, args []string) (int, error) {
	var wait <-chan time.Time
	if len(args) > 0 && args[0] != "inf" && args[0] != "infinity" {
		secs, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return -1, fmt.Errorf("invalid sleep duration %q: %w", args[0], err)
		}
		t := time.NewTimer(time.Duration(secs * float64(time.Second)))
		defer t.Stop()
		wait = t.C
	}

	select {
	case <-ctx.Done():
		return terminatedExitCode, nil
	case <-wait:
		return 0, nil
	}
}
