package start

import (
	"context"
	"fmt"

	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/sandbox"
)

// ServiceConfig is the configuration for the start service.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Start"})

	return nil
}

// Service starts created or stopped VMs.
type Service struct {
	manager sandbox.Manager
	logger  log.Logger
}

// NewService creates a new start service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		manager: cfg.Manager,
		logger:  cfg.Logger,
	}, nil
}

// Request represents the start request parameters.
type Request struct {
	// Ref is the VM name, ID or ID prefix.
	Ref string
}

// Run boots a VM and returns it once the guest is reachable.
func (s *Service) Run(ctx context.Context, req Request) (*model.VM, error) {
	s.logger.Debugf("starting VM: %s", req.Ref)

	if err := s.manager.Start(ctx, req.Ref); err != nil {
		return nil, fmt.Errorf("could not start vm: %w", err)
	}

	vm, err := s.manager.Get(ctx, req.Ref)
	if err != nil {
		return nil, fmt.Errorf("could not get vm: %w", err)
	}

	s.logger.Infof("Started VM: %s (%s)", vm.Name, vm.ID)
	return vm, nil
}
