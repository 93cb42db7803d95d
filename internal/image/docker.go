package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"golang.org/x/sync/singleflight"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/microbox/internal/conventions"
	"github.com/slok/microbox/internal/log"
	"github.com/slok/microbox/internal/model"
	fileutil "github.com/slok/microbox/internal/utils/file"
)

// DockerManagerConfig is the configuration of the Docker backed image manager.
type DockerManagerConfig struct {
	// Client is the Docker client, by default one configured from the environment.
	Client DockerClient
	// ImagesDir is the local directory for storing images.
	ImagesDir string
	// Compression is the codec of the image archives.
	Compression Compression
	Logger      log.Logger
}

func (c *DockerManagerConfig) defaults() error {
	if c.Client == nil {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			return fmt.Errorf("could not create Docker client: %w", err)
		}
		c.Client = cli
	}

	if c.ImagesDir == "" {
		c.ImagesDir = conventions.ImagesPath(filepath.Join(homedir.HomeDir(), conventions.DefaultDataDir))
	}

	if c.Compression == "" {
		c.Compression = CompressionZstd
	}
	if err := c.Compression.validate(); err != nil {
		return err
	}

	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "image.DockerManager"})

	return nil
}

// DockerManager is an image manager that exports images from the Docker daemon.
type DockerManager struct {
	client      DockerClient
	store       store
	compression Compression
	logger      log.Logger

	// mu is held for reading by ensures and for writing by removals.
	mu     sync.RWMutex
	ensure singleflight.Group
}

// NewDockerManager returns a new Docker backed image manager.
func NewDockerManager(cfg DockerManagerConfig) (*DockerManager, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &DockerManager{
		client:      cfg.Client,
		store:       store{dir: cfg.ImagesDir},
		compression: cfg.Compression,
		logger:      cfg.Logger,
	}, nil
}

func (m *DockerManager) Ensure(ctx context.Context, ref string, opts EnsureOpts) (*model.Image, error) {
	norm, err := NormalizeRef(ref)
	if err != nil {
		return nil, err
	}
	if opts.StatusWriter == nil {
		opts.StatusWriter = io.Discard
	}

	key := Key(norm)
	v, err, _ := m.ensure.Do(key, func() (any, error) {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.ensureImage(ctx, norm, key, opts)
	})
	if err != nil {
		return nil, err
	}

	img := *v.(*model.Image)
	return &img, nil
}

func (m *DockerManager) ensureImage(ctx context.Context, ref, key string, opts EnsureOpts) (*model.Image, error) {
	logger := m.logger.WithValues(log.Kv{"image": ref, "image-key": key})

	if !opts.Pull {
		md, err := m.store.read(key)
		switch {
		case err == nil && m.store.hasRootFS(key):
			return m.store.image(key, md), nil
		case err == nil:
			logger.Infof("Extracting image from its archive")
			if err := m.store.extract(key, md, opts.StatusWriter); err != nil {
				return nil, err
			}
			return m.store.image(key, md), nil
		case !errors.Is(err, model.ErrNotFound):
			return nil, err
		}
	}

	md, err := m.pull(ctx, ref, key, opts.StatusWriter)
	if err != nil {
		return nil, err
	}
	if err := m.store.extract(key, md, opts.StatusWriter); err != nil {
		return nil, err
	}

	logger.Infof("Image ready")
	return m.store.image(key, md), nil
}

// pull pulls the image and stores its exported filesystem as the image archive.
func (m *DockerManager) pull(ctx context.Context, ref, key string, statusWriter io.Writer) (*metadataJSON, error) {
	platform := HostPlatform()

	fmt.Fprintf(statusWriter, "Pulling %s (%s/%s)\n", FamiliarRef(ref), platform.OS, platform.Architecture)
	rc, err := m.client.ImagePull(ctx, ref, image.PullOptions{Platform: platform.OS + "/" + platform.Architecture})
	if err != nil {
		return nil, fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	err = followPull(rc, statusWriter)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to pull image %s: %w", ref, err)
	}

	inspect, err := m.client.ImageInspect(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("could not inspect image %s: %w", ref, err)
	}

	// The container is never started, it only gives access to the image filesystem.
	resp, err := m.client.ContainerCreate(ctx, &container.Config{
		Image:      ref,
		Entrypoint: []string{"/nonexistent"},
	}, nil, nil, &platform, "")
	if err != nil {
		return nil, fmt.Errorf("could not create export container: %w", err)
	}
	defer func() {
		err := m.client.ContainerRemove(context.WithoutCancel(ctx), resp.ID, container.RemoveOptions{Force: true})
		if err != nil {
			m.logger.Warningf("could not remove export container %s: %s", resp.ID, err)
		}
	}()

	export, err := m.client.ContainerExport(ctx, resp.ID)
	if err != nil {
		return nil, fmt.Errorf("could not export image filesystem: %w", err)
	}
	defer export.Close()

	if err := os.MkdirAll(m.store.imageDir(key), 0755); err != nil {
		return nil, err
	}

	name := archiveName(m.compression)
	pw := NewProgressWriter(io.Discard, statusWriter, "exporting", inspect.Size)
	size, err := writeArchive(m.store.archivePath(key, name), m.compression, io.TeeReader(export, pw))
	pw.Finish()
	if err != nil {
		return nil, err
	}

	md := metadataJSON{
		Ref:       ref,
		Digest:    inspect.ID,
		Platform:  platform,
		Archive:   name,
		SizeBytes: size,
		PulledAt:  time.Now().UTC(),
	}
	if inspect.Config != nil {
		md.Config = inspect.Config.ImageConfig
	}

	// A previous pull may have used another codec.
	if old, err := m.store.read(key); err == nil && old.Archive != name {
		_ = os.Remove(m.store.archivePath(key, old.Archive))
	}
	if err := m.store.write(key, md); err != nil {
		return nil, fmt.Errorf("could not store image metadata: %w", err)
	}

	return &md, nil
}

func (m *DockerManager) Get(_ context.Context, ref string) (*model.Image, error) {
	key, md, err := m.resolve(ref)
	if err != nil {
		return nil, err
	}
	return m.store.image(key, md), nil
}

func (m *DockerManager) List(_ context.Context) ([]model.Image, error) {
	keys, err := m.store.keys()
	if err != nil {
		return nil, err
	}

	images := make([]model.Image, 0, len(keys))
	for _, key := range keys {
		md, err := m.store.read(key)
		if err != nil {
			m.logger.Warningf("ignoring image %s: %s", key, err)
			continue
		}
		images = append(images, *m.store.image(key, md))
	}

	slices.SortFunc(images, func(a, b model.Image) int { return b.PulledAt.Compare(a.PulledAt) })
	return images, nil
}

func (m *DockerManager) Remove(_ context.Context, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, _, err := m.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(m.store.imageDir(key)); err != nil {
		return fmt.Errorf("removing image %s: %w", ref, err)
	}

	m.logger.WithValues(log.Kv{"image-key": key}).Infof("Image removed")
	return nil
}

func (m *DockerManager) CacheList(_ context.Context) ([]model.CacheEntry, error) {
	keys, err := m.store.keys()
	if err != nil {
		return nil, err
	}

	var entries []model.CacheEntry
	for _, key := range keys {
		if !m.store.hasRootFS(key) {
			continue
		}
		md, err := m.store.read(key)
		if err != nil {
			continue
		}
		path := m.store.rootFSPath(key)
		size, err := fileutil.DirSize(path)
		if err != nil {
			return nil, fmt.Errorf("could not get size of %s: %w", path, err)
		}
		entries = append(entries, model.CacheEntry{Key: key, Ref: FamiliarRef(md.Ref), Path: path, SizeBytes: size})
	}

	return entries, nil
}

func (m *DockerManager) CachePrune(ctx context.Context, keep []string) ([]model.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := m.CacheList(ctx)
	if err != nil {
		return nil, err
	}

	var pruned []model.CacheEntry
	var errs []error
	for _, e := range entries {
		if slices.Contains(keep, e.Path) {
			continue
		}
		if err := os.RemoveAll(e.Path); err != nil {
			errs = append(errs, fmt.Errorf("could not remove %s: %w", e.Path, err))
			continue
		}
		pruned = append(pruned, e)
	}

	return pruned, errors.Join(errs...)
}

// resolve finds an image by reference or key.
func (m *DockerManager) resolve(ref string) (string, *metadataJSON, error) {
	if norm, err := NormalizeRef(ref); err == nil {
		key := Key(norm)
		md, err := m.store.read(key)
		if err == nil {
			return key, md, nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return "", nil, err
		}
	}

	if keyRegexp.MatchString(ref) {
		if md, err := m.store.read(ref); err == nil {
			return ref, md, nil
		}
	}

	return "", nil, fmt.Errorf("image %s: %w", ref, model.ErrNotFound)
}
