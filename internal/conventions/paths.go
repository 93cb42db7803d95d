package conventions

import "path/filepath"

const (
	// DefaultDataDir is the default microbox data directory name (relative to home).
	DefaultDataDir = ".mbox"
	// DBFile is the state database filename.
	DBFile = "mbox.db"
	// VMsDir is the subdirectory for VM run directories.
	VMsDir = "vms"
	// ImagesDir is the subdirectory for image rootfs caches.
	ImagesDir = "images"

	// Image-level files.

	// ImageRootFSDir is the directory holding an image extracted rootfs.
	ImageRootFSDir = "rootfs"
	// ImageMetadataFile is the filename of the image metadata.
	ImageMetadataFile = "image.json"

	// EnvPrefix is the prefix of the environment variables that configure the CLI.
	EnvPrefix = "MBOX"
)

// DBPath returns the state database path.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFile)
}

// VMDir returns the run directory of a VM.
func VMDir(dataDir, vmID string) string {
	return filepath.Join(dataDir, VMsDir, vmID)
}

// ImagesPath returns the images directory.
func ImagesPath(dataDir string) string {
	return filepath.Join(dataDir, ImagesDir)
}
