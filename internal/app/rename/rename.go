package rename

import (
	"context"
	"fmt"

	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/sandbox"
)

// ServiceConfig is the configuration for the rename service.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Rename"})

	return nil
}

// Service renames VMs.
type Service struct {
	manager sandbox.Manager
	logger  log.Logger
}

// NewService creates a new rename service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		manager: cfg.Manager,
		logger:  cfg.Logger,
	}, nil
}

// Request represents the rename request parameters.
type Request struct {
	Ref     string
	NewName string
}

// Run renames a VM, names are unique among the registered VMs.
func (s *Service) Run(ctx context.Context, req Request) (*model.VM, error) {
	if req.NewName == "" {
		return nil, fmt.Errorf("new name is required: %w", model.ErrNotValid)
	}

	vm, err := s.manager.Rename(ctx, req.Ref, req.NewName)
	if err != nil {
		return nil, fmt.Errorf("could not rename vm: %w", err)
	}

	s.logger.Infof("Renamed VM %s to %s", vm.ID, vm.Name)
	return vm, nil
}
