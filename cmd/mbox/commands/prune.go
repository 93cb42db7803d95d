package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/microbox/internal/app/prune"
)

type PruneCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
}

// NewPruneCommand returns the prune command.
func NewPruneCommand(rootCmd *RootCommand, app *kingpin.Application) *PruneCommand {
	c := &PruneCommand{rootCmd: rootCmd}
	c.Cmd = app.Command("prune", "Remove all stopped and crashed VMs.")
	return c
}

func (c PruneCommand) Name() string { return c.Cmd.FullCommand() }

func (c PruneCommand) Run(ctx context.Context) error {
	rt, err := c.rootCmd.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := prune.NewService(prune.ServiceConfig{
		Manager: rt.Manager,
		Logger:  c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	ids, err := svc.Run(ctx)
	for _, id := range ids {
		fmt.Fprintln(c.rootCmd.Stdout, id)
	}
	if err != nil {
		return fmt.Errorf("could not prune VMs: %w", err)
	}

	return nil
}
