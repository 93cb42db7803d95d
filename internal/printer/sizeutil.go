package printer

import "github.com/docker/go-units"

// FormatBytes returns a human-readable binary size string (e.g. "512B", "1.5KiB", "700MiB").
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return units.BytesSize(float64(bytes))
}

// FormatMemory returns a human-readable size for an amount of MiB.
func FormatMemory(mib int) string {
	return FormatBytes(int64(mib) * units.MiB)
}
