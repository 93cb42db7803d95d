package status

import (
	"context"
	"fmt"

	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/sandbox"
)

// ServiceConfig is the configuration for the status service.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Status"})

	return nil
}

// Service retrieves detailed VM status.
type Service struct {
	manager sandbox.Manager
	logger  log.Logger
}

// NewService creates a new status service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		manager: cfg.Manager,
		logger:  cfg.Logger,
	}, nil
}

// Request represents the status request parameters.
type Request struct {
	// Ref is the VM name, ID or ID prefix.
	Ref string
	// WithEvents includes the lifecycle journal of the VM.
	WithEvents bool
}

// Result is the detailed status of a VM.
type Result struct {
	VM     *model.VM
	Events []model.VMEvent
}

// Run retrieves the status of a VM.
func (s *Service) Run(ctx context.Context, req Request) (*Result, error) {
	s.logger.Debugf("getting status for VM: %s", req.Ref)

	vm, err := s.manager.Get(ctx, req.Ref)
	if err != nil {
		return nil, fmt.Errorf("could not get vm: %w", err)
	}

	res := &Result{VM: vm}
	if !req.WithEvents {
		return res, nil
	}

	events, err := s.manager.Events(ctx, vm.ID)
	if err != nil {
		return nil, fmt.Errorf("could not get vm events: %w", err)
	}
	res.Events = events

	return res, nil
}
