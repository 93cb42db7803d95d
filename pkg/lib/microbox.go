package lib

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/slok/microbox/internal/conventions"
	"github.com/slok/microbox/internal/hypervisor"
	"github.com/slok/microbox/internal/hypervisor/fake"
	"github.com/slok/microbox/internal/hypervisor/shim"
	"github.com/slok/microbox/internal/image"
	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/storage"
	"github.com/slok/microbox/internal/storage/memory"
	"github.com/slok/microbox/internal/storage/sqlite"
	"github.com/slok/microbox/internal/vmm"
)

// Config configures the SDK client.
//
// All fields are optional and have sensible defaults. An empty Config{} uses
// ~/.mbox for the state and boots VMs with the hypervisor shim.
type Config struct {
	// DataDir is the base directory for microbox data (VM run directories, images).
	// Default: ~/.mbox.
	DataDir string

	// DBPath is the SQLite database path.
	// Default: <DataDir>/mbox.db.
	DBPath string

	// InMemory keeps the VM state in memory instead of SQLite. The state is
	// lost when the client is closed.
	InMemory bool

	// Logger receives structured log output from the SDK.
	// Default: noop (silent). See the log sub-package for the interface.
	Logger log.Logger

	// Hypervisor selects the hypervisor used to boot VMs.
	// Default: [HypervisorShim].
	//
	// Set this to [HypervisorFake] for testing without real infrastructure.
	Hypervisor HypervisorType

	// ShimPath is the hypervisor shim binary, searched in PATH when it's not a path.
	// Only used with [HypervisorShim]. Default: "mbox-shim".
	ShimPath string

	// Transport is how the host reaches the guest agent.
	// Only used with [HypervisorShim]. Default: [TransportUnix].
	Transport Transport

	// StopTimeout is the graceful stop timeout used when none is given.
	// Default: 10s.
	StopTimeout time.Duration
}

func (c *Config) defaults() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("could not get user home dir: %w", err)
		}
		c.DataDir = filepath.Join(home, conventions.DefaultDataDir)
	}

	if c.DBPath == "" {
		c.DBPath = conventions.DBPath(c.DataDir)
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}

	if c.Hypervisor == "" {
		c.Hypervisor = HypervisorShim
	}

	if c.Transport == "" {
		c.Transport = TransportUnix
	}

	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}

	return nil
}

// Client is the main SDK entry point for managing VMs programmatically.
//
// Create a Client with [New] and release its resources with [Client.Close].
// A Client is safe for concurrent use.
type Client struct {
	manager     *vmm.Manager
	images      image.Manager
	logger      log.Logger
	stopTimeout time.Duration
	closeFns    []func() error
}

// New creates a new SDK client.
//
// VMs registered by previous clients sharing the same state are loaded and the
// running ones reattached. The caller must call [Client.Close] when done:
//
//	client, err := lib.New(ctx, lib.Config{})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Client{
		logger:      cfg.Logger,
		stopTimeout: cfg.StopTimeout,
	}

	repo, err := c.newRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}

	hv, err := newHypervisor(cfg)
	if err != nil {
		_ = c.Close()
		return nil, mapError(fmt.Errorf("could not create hypervisor: %w", err))
	}

	mgr, err := vmm.NewManager(ctx, vmm.ManagerConfig{
		Hypervisor:  hv,
		Repository:  repo,
		Logger:      cfg.Logger,
		DataDir:     cfg.DataDir,
		StopTimeout: cfg.StopTimeout,
	})
	if err != nil {
		_ = c.Close()
		return nil, mapError(fmt.Errorf("could not create vm manager: %w", err))
	}
	c.manager = mgr
	c.closeFns = append([]func() error{mgr.Close}, c.closeFns...)

	images, err := image.NewDockerManager(image.DockerManagerConfig{
		ImagesDir: conventions.ImagesPath(cfg.DataDir),
		Logger:    cfg.Logger,
	})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("could not create image manager: %w", err)
	}
	c.images = images

	return c, nil
}

func (c *Client) newRepository(ctx context.Context, cfg Config) (storage.Repository, error) {
	if cfg.InMemory {
		repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: cfg.Logger})
		if err != nil {
			return nil, fmt.Errorf("could not create repository: %w", err)
		}
		return repo, nil
	}

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: cfg.DBPath,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}
	c.closeFns = append(c.closeFns, repo.Close)

	return repo, nil
}

func newHypervisor(cfg Config) (hypervisor.Hypervisor, error) {
	switch cfg.Hypervisor {
	case HypervisorShim:
		return shim.NewHypervisor(shim.HypervisorConfig{
			ShimPath:  cfg.ShimPath,
			Transport: shim.Transport(cfg.Transport),
			Logger:    cfg.Logger,
		})
	case HypervisorFake:
		return fake.NewHypervisor(fake.HypervisorConfig{Logger: cfg.Logger})
	default:
		return nil, fmt.Errorf("unsupported hypervisor type: %s: %w", cfg.Hypervisor, ErrNotValid)
	}
}

// Close releases the resources held by the client. VMs keep running and can
// be managed by a new client. After Close returns, the client must not be used.
func (c *Client) Close() error {
	var errs []error
	for _, fn := range c.closeFns {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closeFns = nil
	return errors.Join(errs...)
}
