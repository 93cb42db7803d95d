package create

import (
	"context"
	"fmt"
	"io"
	"maps"

	"github.com/slok/microbox/internal/image"
	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/sandbox"
)

// ServiceConfig is the configuration for the create service.
type ServiceConfig struct {
	Manager sandbox.Manager
	Images  image.Manager
	Logger  log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Manager == nil {
		return fmt.Errorf("manager is required")
	}
	if c.Images == nil {
		return fmt.Errorf("image manager is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Create"})
	return nil
}

// Service handles VM creation business logic.
type Service struct {
	manager sandbox.Manager
	images  image.Manager
	logger  log.Logger
}

// NewService creates a new create service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		manager: cfg.Manager,
		images:  cfg.Images,
		logger:  cfg.Logger,
	}, nil
}

// CreateOptions are the options for creating a VM.
type CreateOptions struct {
	Config model.VMConfig
	// Image is the image the rootfs is resolved from, it can't be used with Config.RootFS.
	Image string
	// Pull pulls the image even if it's already present.
	Pull         bool
	StatusWriter io.Writer
}

// Create creates a new VM, it doesn't start it.
func (s *Service) Create(ctx context.Context, opts CreateOptions) (*model.VM, error) {
	cfg := opts.Config

	// 1. Resolve the root filesystem.
	switch {
	case opts.Image != "" && cfg.RootFS != "":
		return nil, fmt.Errorf("image and rootfs can't be used together: %w", model.ErrNotValid)
	case opts.Image == "" && cfg.RootFS == "":
		return nil, fmt.Errorf("an image or a rootfs is required: %w", model.ErrNotValid)
	case opts.Image != "":
		img, err := s.images.Ensure(ctx, opts.Image, image.EnsureOpts{Pull: opts.Pull, StatusWriter: opts.StatusWriter})
		if err != nil {
			return nil, fmt.Errorf("could not get image %q: %w", opts.Image, err)
		}
		cfg.RootFS = img.RootFS
		cfg.Image = img.Ref
		cfg.Exec = MergeExec(img.DefaultExec(), cfg.Exec)
	}

	// 2. Defaults.
	if cfg.VCPUs == 0 {
		cfg.VCPUs = model.DefaultVCPUs
	}
	if cfg.MemoryMiB == 0 {
		cfg.MemoryMiB = model.DefaultMemoryMiB
	}

	// 3. Validate.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// 4. Register.
	vm, err := s.manager.Create(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("could not create vm: %w", err)
	}

	s.logger.Infof("Created VM: %s (%s)", vm.Name, vm.ID)

	return vm, nil
}

// MergeExec applies the user exec spec over the image defaults. A user path replaces
// the whole image command and user environment variables win over the image ones.
func MergeExec(base, user model.ExecSpec) model.ExecSpec {
	res := base
	if user.Path != "" {
		res.Path = user.Path
		res.Args = user.Args
	}
	if user.WorkingDir != "" {
		res.WorkingDir = user.WorkingDir
	}
	if len(user.Env) > 0 {
		env := maps.Clone(base.Env)
		if env == nil {
			env = map[string]string{}
		}
		maps.Copy(env, user.Env)
		res.Env = env
	}
	return res
}
