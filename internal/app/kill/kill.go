package kill

import (
	"context"
	"fmt"

	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/sandbox"
)

// ServiceConfig is the configuration for the kill service.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Kill"})

	return nil
}

// Service terminates VMs without a graceful shutdown.
type Service struct {
	manager sandbox.Manager
	logger  log.Logger
}

// NewService creates a new kill service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		manager: cfg.Manager,
		logger:  cfg.Logger,
	}, nil
}

// Request represents the kill request parameters.
type Request struct {
	Ref string
}

// Run kills a VM in any state, already terminated VMs are left as they are.
func (s *Service) Run(ctx context.Context, req Request) (*model.VM, error) {
	if err := s.manager.Kill(ctx, req.Ref); err != nil {
		return nil, fmt.Errorf("could not kill vm: %w", err)
	}

	vm, err := s.manager.Get(ctx, req.Ref)
	if err != nil {
		return nil, fmt.Errorf("could not get vm: %w", err)
	}

	s.logger.Infof("Killed VM: %s (%s)", vm.Name, vm.ID)
	return vm, nil
}
