package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/microbox/internal/app/status"
)

type InspectCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	refs   []string
	format string
	events bool
}

// NewInspectCommand returns the inspect command.
func NewInspectCommand(rootCmd *RootCommand, app *kingpin.Application) *InspectCommand {
	c := &InspectCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("inspect", "Show the details of one or more VMs.")
	c.Cmd.Arg("vm", "VM name, ID or ID prefix.").Required().StringsVar(&c.refs)
	c.Cmd.Flag("format", "Output format.").Default(formatJSON).EnumVar(&c.format, formatTable, formatJSON)
	c.Cmd.Flag("events", "Include the lifecycle journal.").Default("true").BoolVar(&c.events)

	return c
}

func (c InspectCommand) Name() string { return c.Cmd.FullCommand() }

func (c InspectCommand) Run(ctx context.Context) error {
	rt, err := c.rootCmd.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := status.NewService(status.ServiceConfig{
		Manager: rt.Manager,
		Logger:  c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	p := c.rootCmd.printer(c.format)
	var failed []string
	for _, ref := range c.refs {
		res, err := svc.Run(ctx, status.Request{Ref: ref, WithEvents: c.events})
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %s", ref, err))
			continue
		}
		if err := p.PrintVM(*res.VM, res.Events); err != nil {
			return fmt.Errorf("could not print VM: %w", err)
		}
	}
	if len(failed) > 0 {
		return errors.New(strings.Join(failed, "\n"))
	}

	return nil
}
