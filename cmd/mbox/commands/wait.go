package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/microbox/internal/app/wait"
)

type WaitCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	refs []string
}

// NewWaitCommand returns the wait command.
func NewWaitCommand(rootCmd *RootCommand, app *kingpin.Application) *WaitCommand {
	c := &WaitCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("wait", "Block until one or more VMs stop, printing their exit codes.")
	c.Cmd.Arg("vm", "VM name, ID or ID prefix.").Required().StringsVar(&c.refs)

	return c
}

func (c WaitCommand) Name() string { return c.Cmd.FullCommand() }

func (c WaitCommand) Run(ctx context.Context) error {
	rt, err := c.rootCmd.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := wait.NewService(wait.ServiceConfig{
		Manager: rt.Manager,
		Logger:  c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	var failed []string
	for _, ref := range c.refs {
		exit, err := svc.Run(ctx, wait.Request{Ref: ref})
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %s", ref, err))
			continue
		}
		fmt.Fprintln(c.rootCmd.Stdout, exit.Code)
	}
	if len(failed) > 0 {
		return errors.New(strings.Join(failed, "\n"))
	}

	return nil
}
