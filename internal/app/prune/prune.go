package prune

import (
	"context"
	"fmt"

	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/sandbox"
)

// ServiceConfig is the configuration for the prune service.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Prune"})

	return nil
}

// Service removes every terminated VM.
type Service struct {
	manager sandbox.Manager
	logger  log.Logger
}

// NewService creates a new prune service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		manager: cfg.Manager,
		logger:  cfg.Logger,
	}, nil
}

// Run removes the stopped and crashed VMs and returns their IDs.
func (s *Service) Run(ctx context.Context) ([]string, error) {
	ids, err := s.manager.Prune(ctx)
	if err != nil {
		return ids, fmt.Errorf("could not prune vms: %w", err)
	}

	s.logger.Infof("Pruned %d VMs", len(ids))
	return ids, nil
}
