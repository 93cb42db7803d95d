package wait

import (
	"context"
	"fmt"

	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/sandbox"
)

// ServiceConfig is the configuration for the wait service.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Wait"})

	return nil
}

// Service waits for VMs to finish.
type Service struct {
	manager sandbox.Manager
	logger  log.Logger
}

// NewService creates a new wait service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		manager: cfg.Manager,
		logger:  cfg.Logger,
	}, nil
}

// Request represents the wait request parameters.
type Request struct {
	Ref string
}

// Run blocks until the VM is stopped or crashed and returns its exit status.
func (s *Service) Run(ctx context.Context, req Request) (*model.ExitStatus, error) {
	s.logger.Debugf("waiting for VM: %s", req.Ref)

	exit, err := s.manager.Wait(ctx, req.Ref)
	if err != nil {
		return nil, fmt.Errorf("could not wait for vm: %w", err)
	}

	return exit, nil
}
