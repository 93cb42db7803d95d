package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/microbox/internal/app/rename"
)

type RenameCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	ref     string
	newName string
}

// NewRenameCommand returns the rename command.
func NewRenameCommand(rootCmd *RootCommand, app *kingpin.Application) *RenameCommand {
	c := &RenameCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("rename", "Rename a VM.")
	c.Cmd.Arg("vm", "VM name, ID or ID prefix.").Required().StringVar(&c.ref)
	c.Cmd.Arg("new-name", "New name of the VM.").Required().StringVar(&c.newName)

	return c
}

func (c RenameCommand) Name() string { return c.Cmd.FullCommand() }

func (c RenameCommand) Run(ctx context.Context) error {
	rt, err := c.rootCmd.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := rename.NewService(rename.ServiceConfig{
		Manager: rt.Manager,
		Logger:  c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	if _, err := svc.Run(ctx, rename.Request{Ref: c.ref, NewName: c.newName}); err != nil {
		return fmt.Errorf("could not rename VM: %w", err)
	}

	return nil
}
