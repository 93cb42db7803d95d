package imageinspect

import (
	"context"
	"fmt"

	"github.com/slok/microbox/internal/image"
	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
)

// ServiceConfig is the configuration for the image inspect service.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.ImageInspect"})

	return nil
}

// Service returns the details of a local image.
type Service struct {
	manager image.Manager
	logger  log.Logger
}

// NewService creates a new image inspect service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{manager: cfg.Manager, logger: cfg.Logger}, nil
}

// Request is the inspect request parameters.
type Request struct {
	// Ref is an image reference or its on-disk key.
	Ref string
}

// Run returns a local image, it never pulls.
func (s *Service) Run(ctx context.Context, req Request) (*model.Image, error) {
	img, err := s.manager.Get(ctx, req.Ref)
	if err != nil {
		return nil, fmt.Errorf("getting image %s: %w", req.Ref, err)
	}
	return img, nil
}
