package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/microbox/internal/app/copy"
)

type CopyCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	src string
	dst string
}

// NewCopyCommand returns the cp command.
func NewCopyCommand(rootCmd *RootCommand, app *kingpin.Application) *CopyCommand {
	c := &CopyCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("cp", "Copy files between the host and a running VM (VM:PATH).")
	c.Cmd.Arg("src", "Source path, VM:PATH for guest paths.").Required().StringVar(&c.src)
	c.Cmd.Arg("dst", "Destination path, VM:PATH for guest paths.").Required().StringVar(&c.dst)

	return c
}

func (c CopyCommand) Name() string { return c.Cmd.FullCommand() }

func (c CopyCommand) Run(ctx context.Context) error {
	rt, err := c.rootCmd.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := copy.NewService(copy.ServiceConfig{
		Manager: rt.Manager,
		Logger:  c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	if err := svc.Run(ctx, copy.Request{Source: c.src, Destination: c.dst}); err != nil {
		return fmt.Errorf("could not copy: %w", err)
	}

	return nil
}
