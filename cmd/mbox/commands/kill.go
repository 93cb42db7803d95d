package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/microbox/internal/app/kill"
)

type KillCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	refs []string
}

// NewKillCommand returns the kill command.
func NewKillCommand(rootCmd *RootCommand, app *kingpin.Application) *KillCommand {
	c := &KillCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("kill", "Force stop one or more VMs.")
	c.Cmd.Arg("vm", "VM name, ID or ID prefix.").Required().StringsVar(&c.refs)

	return c
}

func (c KillCommand) Name() string { return c.Cmd.FullCommand() }

func (c KillCommand) Run(ctx context.Context) error {
	rt, err := c.rootCmd.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := kill.NewService(kill.ServiceConfig{
		Manager: rt.Manager,
		Logger:  c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	return c.rootCmd.forEachTarget(ctx, c.refs, func(ctx context.Context, ref string) error {
		_, err := svc.Run(ctx, kill.Request{Ref: ref})
		return err
	})
}
