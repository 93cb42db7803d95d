package imagerm

import (
	"context"
	"fmt"
	"strings"

	"github.com/slok/microbox/internal/image"
	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/sandbox"
)

// ServiceConfig is the configuration for the image remove service.
type ServiceConfig struct {
	Manager image.Manager
	// VMs is used to know which images are in use.
	VMs    sandbox.Manager
	Logger log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Manager == nil {
		return fmt.Errorf("image manager is required")
	}
	if c.VMs == nil {
		return fmt.Errorf("vm manager is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.ImageRemove"})

	return nil
}

// Service handles removing local images.
type Service struct {
	manager image.Manager
	vms     sandbox.Manager
	logger  log.Logger
}

// NewService creates a new image remove service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		manager: cfg.Manager,
		vms:     cfg.VMs,
		logger:  cfg.Logger,
	}, nil
}

// Request is the remove request parameters.
type Request struct {
	Ref string
	// Force removes the image even if VMs use its rootfs.
	Force bool
}

// Run removes a local image. Images whose rootfs is used by a VM are kept unless forced.
func (s *Service) Run(ctx context.Context, req Request) error {
	img, err := s.manager.Get(ctx, req.Ref)
	if err != nil {
		return fmt.Errorf("getting image %s: %w", req.Ref, err)
	}

	if !req.Force {
		vms, err := s.vms.List(ctx)
		if err != nil {
			return fmt.Errorf("could not list vms: %w", err)
		}
		var users []string
		for _, vm := range vms {
			if vm.Config.RootFS == img.RootFS {
				users = append(users, vm.ID)
			}
		}
		if len(users) > 0 {
			return fmt.Errorf("image %s is used by %s: %w", img.Ref, strings.Join(users, ", "), model.ErrInvalidState)
		}
	}

	if err := s.manager.Remove(ctx, img.Key); err != nil {
		return fmt.Errorf("removing image %s: %w", req.Ref, err)
	}

	s.logger.Infof("Removed image %s", img.Ref)
	return nil
}
