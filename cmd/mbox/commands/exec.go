package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/microbox/internal/app/exec"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/utils/env"
)

type ExecCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	ref         string
	command     []string
	workdir     string
	envs        []string
	tty         bool
	interactive bool
	files       []string
}

// NewExecCommand returns the exec command.
func NewExecCommand(rootCmd *RootCommand, app *kingpin.Application) *ExecCommand {
	c := &ExecCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("exec", "Execute a command in a running VM.")
	c.Cmd.Arg("vm", "VM name, ID or ID prefix.").Required().StringVar(&c.ref)
	c.Cmd.Arg("command", "Command to execute (use -- before commands with flags).").Required().StringsVar(&c.command)
	c.Cmd.Flag("workdir", "Working directory in the VM.").Short('w').StringVar(&c.workdir)
	c.Cmd.Flag("env", "Environment variable (KEY=VALUE or KEY to inherit), repeatable.").Short('e').StringsVar(&c.envs)
	c.Cmd.Flag("tty", "Allocate a pseudo-TTY.").Short('t').BoolVar(&c.tty)
	c.Cmd.Flag("interactive", "Forward stdin to the command.").Short('i').BoolVar(&c.interactive)
	c.Cmd.Flag("file", "Upload a local file to the working directory before executing, repeatable.").Short('f').StringsVar(&c.files)

	return c
}

func (c ExecCommand) Name() string { return c.Cmd.FullCommand() }

func (c ExecCommand) Run(ctx context.Context) error {
	envs, err := env.ParseSpecs(c.envs)
	if err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}

	rt, err := c.rootCmd.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := exec.NewService(exec.ServiceConfig{
		Manager: rt.Manager,
		Logger:  c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	opts := model.ExecOpts{
		WorkingDir: c.workdir,
		Env:        envs,
		Stdout:     c.rootCmd.Stdout,
		Stderr:     c.rootCmd.Stderr,
		Tty:        c.tty,
	}
	if c.interactive {
		opts.Stdin = c.rootCmd.Stdin
	}

	result, err := svc.Run(ctx, exec.Request{
		Ref:     c.ref,
		Command: c.command,
		Opts:    opts,
		Files:   c.files,
	})
	if err != nil {
		return fmt.Errorf("could not execute command: %w", err)
	}

	if result.ExitCode != 0 {
		return ExitError{Code: result.ExitCode}
	}
	return nil
}
