package image

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"time"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/slok/microbox/internal/conventions"
	"github.com/slok/microbox/internal/model"
	fileutil "github.com/slok/microbox/internal/utils/file"
)

const metadataSchemaVersion = 1

var keyRegexp = regexp.MustCompile(`^[0-9a-f]{16}$`)

// metadataJSON is the image.json file of an image.
type metadataJSON struct {
	SchemaVersion int                 `json:"schema_version"`
	Ref           string              `json:"ref"`
	Digest        string              `json:"digest"`
	Platform      ocispec.Platform    `json:"platform"`
	Archive       string              `json:"archive"`
	SizeBytes     int64               `json:"size_bytes"`
	PulledAt      time.Time           `json:"pulled_at"`
	Config        ocispec.ImageConfig `json:"config"`
}

// store is the on-disk layout of the images: one directory per image key holding
// the metadata, the compressed export and the extracted rootfs.
type store struct {
	dir string
}

func (s store) imageDir(key string) string { return filepath.Join(s.dir, key) }

func (s store) rootFSPath(key string) string {
	return filepath.Join(s.dir, key, conventions.ImageRootFSDir)
}

func (s store) archivePath(key, name string) string { return filepath.Join(s.dir, key, name) }

func (s store) hasRootFS(key string) bool {
	info, err := os.Stat(s.rootFSPath(key))
	return err == nil && info.IsDir()
}

func (s store) read(key string) (*metadataJSON, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, key, conventions.ImageMetadataFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("image %s: %w", key, model.ErrNotFound)
		}
		return nil, err
	}

	var md metadataJSON
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("parsing image metadata of %s: %w", key, err)
	}
	if md.SchemaVersion != metadataSchemaVersion {
		return nil, fmt.Errorf("unsupported image metadata schema version %d for %s (supported: %d)", md.SchemaVersion, key, metadataSchemaVersion)
	}

	return &md, nil
}

func (s store) write(key string, md metadataJSON) error {
	md.SchemaVersion = metadataSchemaVersion
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return err
	}

	dir := s.imageDir(key)
	f, err := os.CreateTemp(dir, ".image-*.json")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(f.Name(), filepath.Join(dir, conventions.ImageMetadataFile))
}

// keys returns the keys of every directory with a metadata file.
func (s store) keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading images directory: %w", err)
	}

	var keys []string
	for _, e := range entries {
		if !e.IsDir() || !keyRegexp.MatchString(e.Name()) {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.dir, e.Name(), conventions.ImageMetadataFile)); err != nil {
			continue
		}
		keys = append(keys, e.Name())
	}
	return keys, nil
}

func (s store) image(key string, md *metadataJSON) *model.Image {
	img := &model.Image{
		Ref:       FamiliarRef(md.Ref),
		Key:       key,
		Digest:    md.Digest,
		SizeBytes: md.SizeBytes,
		PulledAt:  md.PulledAt,
		Config:    md.Config,
	}
	if s.hasRootFS(key) {
		img.RootFS = s.rootFSPath(key)
	}
	return img
}

// extract replaces the rootfs of an image with the contents of its archive.
func (s store) extract(key string, md *metadataJSON, statusWriter io.Writer) error {
	r, err := openArchive(s.archivePath(key, md.Archive))
	if err != nil {
		return fmt.Errorf("could not open image archive: %w", err)
	}
	defer r.Close()

	tmp, err := os.MkdirTemp(s.imageDir(key), ".rootfs-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	pw := NewProgressWriter(io.Discard, statusWriter, "extracting", md.SizeBytes)
	err = fileutil.ExtractInto(io.TeeReader(r, pw), tmp)
	pw.Finish()
	if err != nil {
		return fmt.Errorf("could not extract image archive: %w", err)
	}

	// Export archives don't carry the root entry.
	if err := os.Chmod(tmp, 0755); err != nil {
		return err
	}

	rootfs := s.rootFSPath(key)
	if err := os.RemoveAll(rootfs); err != nil {
		return fmt.Errorf("could not remove old rootfs: %w", err)
	}
	if err := os.Rename(tmp, rootfs); err != nil {
		return fmt.Errorf("could not install rootfs: %w", err)
	}

	return nil
}
