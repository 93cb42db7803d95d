package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/microbox/internal/app/list"
)

type ListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	all     bool
	quiet   bool
	filters []string
	format  string
}

// NewListCommand returns the ps command.
func NewListCommand(rootCmd *RootCommand, app *kingpin.Application) *ListCommand {
	c := &ListCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("ps", "List VMs.").Alias("ls")
	c.Cmd.Flag("all", "Show all VMs, not only the active ones.").Short('a').BoolVar(&c.all)
	c.Cmd.Flag("quiet", "Only print the IDs.").Short('q').BoolVar(&c.quiet)
	c.Cmd.Flag("filter", "Filter VMs (state=, name=, id=, image=), repeatable.").StringsVar(&c.filters)
	c.Cmd.Flag("format", "Output format.").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c ListCommand) Name() string { return c.Cmd.FullCommand() }

func (c ListCommand) Run(ctx context.Context) error {
	filters := make([]list.Filter, 0, len(c.filters))
	for _, f := range c.filters {
		pf, err := list.ParseFilter(f)
		if err != nil {
			return err
		}
		filters = append(filters, pf)
	}

	rt, err := c.rootCmd.newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	svc, err := list.NewService(list.ServiceConfig{
		Manager: rt.Manager,
		Logger:  c.rootCmd.Logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	vms, err := svc.Run(ctx, list.Request{All: c.all, Filters: filters})
	if err != nil {
		return fmt.Errorf("could not list VMs: %w", err)
	}

	if c.quiet {
		for _, vm := range vms {
			fmt.Fprintln(c.rootCmd.Stdout, vm.ID)
		}
		return nil
	}

	return c.rootCmd.printer(c.format).PrintVMList(vms)
}
