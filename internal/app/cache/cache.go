// Package cache lists and prunes the extracted image root filesystems.
package cache

import (
	"context"
	"fmt"

	"github.com/slok/microbox/internal/image"
	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/sandbox"
)

// ServiceConfig is the configuration for the cache service.
type ServiceConfig struct {
	Images image.Manager
	VMs    sandbox.Manager
	Logger log.Logger
}

func (c *ServiceConfig) defaults() error {
	if c.Images == nil {
		return fmt.Errorf("image manager is required")
	}
	if c.VMs == nil {
		return fmt.Errorf("vm manager is required")
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "app.Cache"})

	return nil
}

// Service manages the rootfs cache.
type Service struct {
	images image.Manager
	vms    sandbox.Manager
	logger log.Logger
}

// NewService creates a new cache service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Service{
		images: cfg.Images,
		vms:    cfg.VMs,
		logger: cfg.Logger,
	}, nil
}

// List returns the cached root filesystems with the VMs using them.
func (s *Service) List(ctx context.Context) ([]model.CacheEntry, error) {
	entries, err := s.images.CacheList(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list cache: %w", err)
	}

	users, err := s.rootFSUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i, e := range entries {
		entries[i].UsedBy = users[e.Path]
	}

	return entries, nil
}

// Prune removes the cached root filesystems no VM uses. Any registered VM counts
// as a user, stopped VMs can be started again.
func (s *Service) Prune(ctx context.Context) ([]model.CacheEntry, error) {
	users, err := s.rootFSUsers(ctx)
	if err != nil {
		return nil, err
	}

	keep := make([]string, 0, len(users))
	for path := range users {
		keep = append(keep, path)
	}

	pruned, err := s.images.CachePrune(ctx, keep)
	if err != nil {
		return pruned, fmt.Errorf("could not prune cache: %w", err)
	}

	s.logger.Infof("Pruned %d cached root filesystems", len(pruned))
	return pruned, nil
}

func (s *Service) rootFSUsers(ctx context.Context) (map[string][]string, error) {
	vms, err := s.vms.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list vms: %w", err)
	}

	users := map[string][]string{}
	for _, vm := range vms {
		users[vm.Config.RootFS] = append(users[vm.Config.RootFS], vm.ID)
	}
	return users, nil
}
