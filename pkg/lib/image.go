package lib

import (
	"context"
	"fmt"

	"github.com/slok/microbox/internal/app/cache"
	"github.com/slok/microbox/internal/app/imageinspect"
	"github.com/slok/microbox/internal/app/imagelist"
	"github.com/slok/microbox/internal/app/imagepull"
	"github.com/slok/microbox/internal/app/imagerm"
)

// PullImage pulls a Docker image and imports it as a VM root filesystem.
//
// Pulling an image that is already local only refreshes it when opts.Force is
// set. Pass nil opts for defaults.
func (c *Client) PullImage(ctx context.Context, ref string, opts *PullImageOpts) (*Image, error) {
	svc, err := imagepull.NewService(imagepull.ServiceConfig{
		Manager: c.images,
		Logger:  c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	req := imagepull.Request{Ref: ref}
	if opts != nil {
		req.Force = opts.Force
		req.StatusWriter = opts.StatusWriter
	}

	img, err := svc.Run(ctx, req)
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalImage(*img)
	return &result, nil
}

// ListImages returns the local images.
func (c *Client) ListImages(ctx context.Context) ([]Image, error) {
	svc, err := imagelist.NewService(imagelist.ServiceConfig{
		Manager: c.images,
		Logger:  c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	images, err := svc.Run(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	return fromInternalImageList(images), nil
}

// InspectImage returns a local image by reference or key.
func (c *Client) InspectImage(ctx context.Context, ref string) (*Image, error) {
	svc, err := imageinspect.NewService(imageinspect.ServiceConfig{
		Manager: c.images,
		Logger:  c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}

	img, err := svc.Run(ctx, imageinspect.Request{Ref: ref})
	if err != nil {
		return nil, mapError(err)
	}

	result := fromInternalImage(*img)
	return &result, nil
}

// RemoveImage removes a local image. Images used by VMs are only removed with force.
//
// Returns [ErrInvalidState] when VMs use the image and force is not set.
func (c *Client) RemoveImage(ctx context.Context, ref string, force bool) error {
	svc, err := imagerm.NewService(imagerm.ServiceConfig{
		Manager: c.images,
		VMs:     c.manager,
		Logger:  c.logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	return mapError(svc.Run(ctx, imagerm.Request{Ref: ref, Force: force}))
}

// ListCache returns the cached root filesystems and the VMs using them.
func (c *Client) ListCache(ctx context.Context) ([]CacheEntry, error) {
	svc, err := c.newCacheService()
	if err != nil {
		return nil, err
	}

	entries, err := svc.List(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	return fromInternalCacheList(entries), nil
}

// PruneCache removes the cached root filesystems no registered VM uses and returns them.
func (c *Client) PruneCache(ctx context.Context) ([]CacheEntry, error) {
	svc, err := c.newCacheService()
	if err != nil {
		return nil, err
	}

	removed, err := svc.Prune(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	return fromInternalCacheList(removed), nil
}

func (c *Client) newCacheService() (*cache.Service, error) {
	svc, err := cache.NewService(cache.ServiceConfig{
		Images: c.images,
		VMs:    c.manager,
		Logger: c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create service: %w", err)
	}
	return svc, nil
}
