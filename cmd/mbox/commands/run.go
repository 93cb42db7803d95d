package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/microbox/internal/app/run"
)

type RunCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	flags       vmFlags
	detach      bool
	stopTimeout int
}

// NewRunCommand returns the run command.
func NewRunCommand(rootCmd *RootCommand, app *kingpin.Application) *RunCommand {
	c := &RunCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("run", "Create and start a VM, waiting for it to exit unless detached.")
	c.flags.register(c.Cmd)
	c.Cmd.Flag("detach", "Return as soon as the VM is running.").Short('d').BoolVar(&c.detach)
	c.Cmd.Flag("stop-timeout", "Seconds to wait for a graceful stop when interrupted.").Default("10").IntVar(&c.stopTimeout)

	return c
}

func (c RunCommand) Name() string { return c.Cmd.FullCommand() }

func (c RunCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	opts, err := c.flags.options(ctx)
	if err != nil {
		return err
	}
	opts.StatusWriter = c.rootCmd.Stderr

	rt, err := c.rootCmd.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := run.NewService(run.ServiceConfig{
		Manager:     rt.Manager,
		Images:      rt.Images,
		StopTimeout: secondsFlag(c.stopTimeout),
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	res, err := svc.Run(ctx, run.Request{CreateOptions: *opts, Detach: c.detach})
	if err != nil {
		return fmt.Errorf("could not run VM: %w", err)
	}

	if c.detach {
		fmt.Fprintln(c.rootCmd.Stdout, res.VM.ID)
		return nil
	}

	logger.Infof("VM %s exited (%s) with code %d", res.VM.ID, res.Exit.Reason, res.Exit.Code)
	if res.Exit.Code != 0 {
		return ExitError{Code: res.Exit.Code}
	}
	return nil
}
