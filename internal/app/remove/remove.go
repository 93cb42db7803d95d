package remove

import (
	"context"
	"fmt"

	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/sandbox"
)

// ServiceConfig is the configuration for the remove service.
type ServiceConfig struct {
	Manager sandbox.Manager
	Logger  log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Manager == nil {
		return fmt.Errorf("manager is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Remove"})

	return nil
}

// Service removes VMs.
type Service struct {
	manager sandbox.Manager
	logger  log.Logger
}

// NewService creates a new remove service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		manager: cfg.Manager,
		logger:  cfg.Logger,
	}, nil
}

// Request represents the remove request parameters.
type Request struct {
	Ref string
	// Force kills the VM first when it's not terminated.
	Force bool
}

// Run removes a VM and returns it as it was before the removal.
func (s *Service) Run(ctx context.Context, req Request) (*model.VM, error) {
	vm, err := s.manager.Get(ctx, req.Ref)
	if err != nil {
		return nil, fmt.Errorf("could not get vm: %w", err)
	}

	// Use the ID from now on, the reference could match a different VM after a kill.
	if req.Force && !vm.State.IsTerminal() {
		s.logger.Debugf("killing VM %s before removal", vm.ID)
		if err := s.manager.Kill(ctx, vm.ID); err != nil {
			return nil, fmt.Errorf("could not kill vm: %w", err)
		}
	}

	if err := s.manager.Remove(ctx, vm.ID); err != nil {
		return nil, fmt.Errorf("could not remove vm: %w", err)
	}

	s.logger.Infof("Removed VM: %s (%s)", vm.Name, vm.ID)
	return vm, nil
}
