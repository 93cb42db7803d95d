// Package image materializes container images as VM root filesystems. Images are
// pulled through the Docker daemon, exported once into a compressed archive and
// extracted into a rootfs directory VMs boot from.
package image

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"runtime"

	"github.com/distribution/reference"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/zeebo/blake3"

	"github.com/slok/microbox/internal/model"
)

//go:generate mockery --case underscore --output imagemock --outpkg imagemock --name Manager
//go:generate mockery --case underscore --output imagemock --outpkg imagemock --name DockerClient

// Manager manages the local images.
type Manager interface {
	// Ensure returns the image for ref, pulling and extracting whatever is missing.
	Ensure(ctx context.Context, ref string, opts EnsureOpts) (*model.Image, error)
	Get(ctx context.Context, ref string) (*model.Image, error)
	List(ctx context.Context) ([]model.Image, error)
	Remove(ctx context.Context, ref string) error
	// CacheList returns the extracted root filesystems.
	CacheList(ctx context.Context) ([]model.CacheEntry, error)
	// CachePrune removes the extracted root filesystems not in keep, the image archives
	// are kept so they can be extracted again without the Docker daemon.
	CachePrune(ctx context.Context, keep []string) ([]model.CacheEntry, error)
}

// EnsureOpts are the options of an ensure.
type EnsureOpts struct {
	// Pull pulls the image again even if it's present.
	Pull bool
	// StatusWriter receives progress output.
	StatusWriter io.Writer
}

// DockerClient is the subset of the Docker API used to export images.
type DockerClient interface {
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ImageInspect(ctx context.Context, imageID string, inspectOpts ...client.ImageInspectOption) (image.InspectResponse, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerExport(ctx context.Context, containerID string) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// NormalizeRef returns the fully qualified form of an image reference, tagged with
// latest when it has no tag nor digest.
func NormalizeRef(ref string) (string, error) {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return "", fmt.Errorf("invalid image reference %q: %w: %w", ref, model.ErrNotValid, err)
	}
	return reference.TagNameOnly(named).String(), nil
}

// FamiliarRef returns the short form of a normalized reference (e.g. "alpine:3.20").
func FamiliarRef(ref string) string {
	named, err := reference.ParseNormalizedNamed(ref)
	if err != nil {
		return ref
	}
	return reference.FamiliarString(named)
}

const keyLen = 16

// Key returns the on-disk key of a normalized reference.
func Key(normalizedRef string) string {
	sum := blake3.Sum256([]byte(normalizedRef))
	return hex.EncodeToString(sum[:])[:keyLen]
}

// HostPlatform returns the platform images are pulled for.
func HostPlatform() ocispec.Platform {
	return ocispec.Platform{OS: "linux", Architecture: runtime.GOARCH}
}
