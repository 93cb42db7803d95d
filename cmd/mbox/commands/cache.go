package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
	"github.com/docker/go-units"

	"github.com/slok/microbox/internal/app/cache"
)

// CacheCommand is the parent command for the root filesystem cache.
type CacheCommand struct {
	Cmd *kingpin.CmdClause
}

// NewCacheCommand returns the cache parent command.
func NewCacheCommand(app *kingpin.Application) *CacheCommand {
	return &CacheCommand{Cmd: app.Command("cache", "Manage the root filesystem cache.")}
}

type CacheListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	format string
}

// NewCacheListCommand returns the cache ls command.
func NewCacheListCommand(rootCmd *RootCommand, cacheCmd *CacheCommand) *CacheListCommand {
	c := &CacheListCommand{rootCmd: rootCmd}

	c.Cmd = cacheCmd.Cmd.Command("ls", "List the cached root filesystems and the VMs using them.").Alias("list")
	c.Cmd.Flag("format", "Output format.").Default(formatTable).EnumVar(&c.format, formatTable, formatJSON)

	return c
}

func (c CacheListCommand) Name() string { return c.Cmd.FullCommand() }

func (c CacheListCommand) Run(ctx context.Context) error {
	svc, closeFn, err := c.rootCmd.newCacheService(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	entries, err := svc.List(ctx)
	if err != nil {
		return fmt.Errorf("could not list cache: %w", err)
	}

	return c.rootCmd.printer(c.format).PrintCacheList(entries)
}

type CachePruneCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
}

// NewCachePruneCommand returns the cache prune command.
func NewCachePruneCommand(rootCmd *RootCommand, cacheCmd *CacheCommand) *CachePruneCommand {
	c := &CachePruneCommand{rootCmd: rootCmd}
	c.Cmd = cacheCmd.Cmd.Command("prune", "Remove the cached root filesystems no VM uses.")
	return c
}

func (c CachePruneCommand) Name() string { return c.Cmd.FullCommand() }

func (c CachePruneCommand) Run(ctx context.Context) error {
	svc, closeFn, err := c.rootCmd.newCacheService(ctx)
	if err != nil {
		return err
	}
	defer closeFn()

	removed, err := svc.Prune(ctx)
	if err != nil {
		return fmt.Errorf("could not prune cache: %w", err)
	}

	var freed int64
	for _, e := range removed {
		freed += e.SizeBytes
	}
	return c.rootCmd.printer(formatTable).PrintMessage(fmt.Sprintf("Removed %d entries, %s freed", len(removed), units.BytesSize(float64(freed))))
}

func (c *RootCommand) newCacheService(ctx context.Context) (*cache.Service, func() error, error) {
	rt, err := c.newRuntime(ctx)
	if err != nil {
		return nil, nil, err
	}

	svc, err := cache.NewService(cache.ServiceConfig{
		Images: rt.Images,
		VMs:    rt.Manager,
		Logger: c.Logger,
	})
	if err != nil {
		_ = rt.Close()
		return nil, nil, fmt.Errorf("could not create service: %w", err)
	}

	return svc, rt.Close, nil
}
