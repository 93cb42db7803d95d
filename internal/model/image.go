package model

import (
	"strings"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Image is a locally cached image rootfs.
type Image struct {
	// Ref is the reference the image was pulled with (e.g. "alpine:3.20").
	Ref string
	// Key is the on-disk directory name of the image.
	Key string
	// Digest is the image ID reported by the image source.
	Digest    string
	RootFS    string
	SizeBytes int64
	PulledAt  time.Time
	// Config holds the image defaults (entrypoint, cmd, env, working dir).
	Config ocispec.ImageConfig
}

// DefaultExec returns the exec spec the image would run by default.
func (i Image) DefaultExec() ExecSpec {
	argv := append(append([]string{}, i.Config.Entrypoint...), i.Config.Cmd...)
	spec := ExecSpec{WorkingDir: i.Config.WorkingDir}
	if len(argv) > 0 {
		spec.Path = argv[0]
		spec.Args = argv[1:]
	}
	if len(i.Config.Env) > 0 {
		spec.Env = make(map[string]string, len(i.Config.Env))
		for _, kv := range i.Config.Env {
			k, v, _ := strings.Cut(kv, "=")
			spec.Env[k] = v
		}
	}
	return spec
}

// CacheEntry is a cached rootfs on disk.
type CacheEntry struct {
	Key       string
	Ref       string
	Path      string
	SizeBytes int64
	// UsedBy lists the IDs of the VMs using the rootfs.
	UsedBy []string
}
