package imagelist

import (
	"context"
	"fmt"

	"github.com/slok/microbox/internal/image"
	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
)

// ServiceConfig is the configuration for the image list service.
type ServiceConfig struct {
	Manager image.Manager
	Logger  log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Manager == nil {
		return fmt.Errorf("image manager is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.ImageList"})

	return nil
}

// Service lists the local images.
type Service struct {
	manager image.Manager
	logger  log.Logger
}

// NewService creates a new image list service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{manager: cfg.Manager, logger: cfg.Logger}, nil
}

// Run lists the local images.
func (s *Service) Run(ctx context.Context) ([]model.Image, error) {
	imgs, err := s.manager.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing images: %w", err)
	}
	return imgs, nil
}
