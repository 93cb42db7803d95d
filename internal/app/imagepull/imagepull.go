package imagepull

import (
	"context"
	"fmt"
	"io"

	"github.com/slok/microbox/internal/image"
	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
)

// ServiceConfig is the configuration for the image pull service.
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
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.ImagePull"})

	return nil
}

// Service handles pulling images.
type Service struct {
	manager image.Manager
	logger  log.Logger
}

// NewService creates a new image pull service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{manager: cfg.Manager, logger: cfg.Logger}, nil
}

// Request is the pull request parameters.
type Request struct {
	Ref string
	// Force pulls the image even if it's already present.
	Force        bool
	StatusWriter io.Writer
}

// Run pulls an image and materializes its rootfs.
func (s *Service) Run(ctx context.Context, req Request) (*model.Image, error) {
	img, err := s.manager.Ensure(ctx, req.Ref, image.EnsureOpts{
		Pull:         req.Force,
		StatusWriter: req.StatusWriter,
	})
	if err != nil {
		return nil, fmt.Errorf("pulling image %s: %w", req.Ref, err)
	}

	s.logger.Infof("Image %s ready (%s)", img.Ref, img.Digest)
	return img, nil
}
