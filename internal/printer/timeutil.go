package printer

import (
	"time"

	"github.com/docker/go-units"
)

// TimeAgo returns a human-readable relative time string (e.g. "5 minutes ago").
func TimeAgo(t time.Time) string {
	diff := time.Now().UTC().Sub(t.UTC())
	if diff < 0 {
		return "in the future"
	}
	return units.HumanDuration(diff) + " ago"
}

// FormatTimestamp returns a formatted timestamp string in UTC.
// Format: "2006-01-02 15:04:05 UTC".
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
