package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/microbox/internal/app/remove"
)

type RemoveCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	refs  []string
	force bool
}

// NewRemoveCommand returns the rm command.
func NewRemoveCommand(rootCmd *RootCommand, app *kingpin.Application) *RemoveCommand {
	c := &RemoveCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("rm", "Remove one or more VMs.")
	c.Cmd.Arg("vm", "VM name, ID or ID prefix.").Required().StringsVar(&c.refs)
	c.Cmd.Flag("force", "Kill the VM first if it's not stopped.").Short('f').BoolVar(&c.force)

	return c
}

func (c RemoveCommand) Name() string { return c.Cmd.FullCommand() }

func (c RemoveCommand) Run(ctx context.Context) error {
	rt, err := c.rootCmd.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := remove.NewService(remove.ServiceConfig{
		Manager: rt.Manager,
		Logger:  c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	return c.rootCmd.forEachTarget(ctx, c.refs, func(ctx context.Context, ref string) error {
		_, err := svc.Run(ctx, remove.Request{Ref: ref, Force: c.force})
		return err
	})
}
