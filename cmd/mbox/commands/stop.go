package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/microbox/internal/app/stop"
)

type StopCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	refs    []string
	timeout int
}

// NewStopCommand returns the stop command.
func NewStopCommand(rootCmd *RootCommand, app *kingpin.Application) *StopCommand {
	c := &StopCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("stop", "Gracefully stop one or more running VMs, killing them after the timeout.")
	c.Cmd.Arg("vm", "VM name, ID or ID prefix.").Required().StringsVar(&c.refs)
	c.Cmd.Flag("time", "Seconds to wait before killing the VM.").Short('t').Default("10").IntVar(&c.timeout)

	return c
}

func (c StopCommand) Name() string { return c.Cmd.FullCommand() }

func (c StopCommand) Run(ctx context.Context) error {
	rt, err := c.rootCmd.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := stop.NewService(stop.ServiceConfig{
		Manager: rt.Manager,
		Logger:  c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	return c.rootCmd.forEachTarget(ctx, c.refs, func(ctx context.Context, ref string) error {
		_, err := svc.Run(ctx, stop.Request{Ref: ref, Timeout: secondsFlag(c.timeout)})
		return err
	})
}
