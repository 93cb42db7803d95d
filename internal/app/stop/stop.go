package stop

import (
	"context"
	"fmt"
	"time"

	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/sandbox"
)

// DefaultTimeout is the graceful stop timeout used when none is requested.
const DefaultTimeout = 10 * time.Second

// ServiceConfig is the configuration for the stop service.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Stop"})

	return nil
}

// Service stops running VMs.
type Service struct {
	manager sandbox.Manager
	logger  log.Logger
}

// NewService creates a new stop service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		manager: cfg.Manager,
		logger:  cfg.Logger,
	}, nil
}

// Request represents the stop request parameters.
type Request struct {
	// Ref is the VM name, ID or ID prefix.
	Ref string
	// Timeout is how long the guest has to shut down before the VM is killed.
	Timeout time.Duration
}

// Run stops a VM and returns its final state.
func (s *Service) Run(ctx context.Context, req Request) (*model.VM, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s.logger.Debugf("stopping VM %s with %s timeout", req.Ref, timeout)

	if err := s.manager.Stop(ctx, req.Ref, timeout); err != nil {
		return nil, fmt.Errorf("could not stop vm: %w", err)
	}

	vm, err := s.manager.Get(ctx, req.Ref)
	if err != nil {
		return nil, fmt.Errorf("could not get vm: %w", err)
	}

	s.logger.Infof("Stopped VM: %s (%s)", vm.Name, vm.ID)
	return vm, nil
}
