package image

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/docker/go-units"
)

// ProgressWriter wraps an io.Writer to display the progress of a copy.
type ProgressWriter struct {
	dst          io.Writer
	statusWriter io.Writer
	label        string
	total        int64
	written      int64
	mu           sync.Mutex
}

// NewProgressWriter creates a new progress writer.
// dst receives the actual data, statusWriter receives progress output.
// If total is 0 or negative, only bytes written are shown (no percentage).
func NewProgressWriter(dst io.Writer, statusWriter io.Writer, label string, total int64) *ProgressWriter {
	return &ProgressWriter{
		dst:          dst,
		statusWriter: statusWriter,
		label:        label,
		total:        total,
	}
}

func (pw *ProgressWriter) Write(p []byte) (int, error) {
	n, err := pw.dst.Write(p)

	pw.mu.Lock()
	pw.written += int64(n)
	pw.printProgress()
	pw.mu.Unlock()

	return n, err
}

// Finish prints the final progress line with a newline.
func (pw *ProgressWriter) Finish() {
	fmt.Fprintln(pw.statusWriter)
}

func (pw *ProgressWriter) printProgress() {
	if pw.total > 0 {
		pct := min(float64(pw.written)/float64(pw.total)*100, 100)
		fmt.Fprintf(pw.statusWriter, "\r  %s %3.0f%% %s / %s", pw.label, pct, units.HumanSize(float64(pw.written)), units.HumanSize(float64(pw.total)))
	} else {
		fmt.Fprintf(pw.statusWriter, "\r  %s %s", pw.label, units.HumanSize(float64(pw.written)))
	}
}

// pullMessage is a message of the Docker pull progress stream.
type pullMessage struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// followPull consumes a Docker pull stream, writing the layer status changes to w. A
// failure reported in the stream is returned as an error.
func followPull(r io.Reader, w io.Writer) error {
	last := map[string]string{}
	dec := json.NewDecoder(r)
	for {
		var msg pullMessage
		err := dec.Decode(&msg)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("could not read pull progress: %w", err)
		}
		if msg.Error != "" {
			return errors.New(msg.Error)
		}

		if msg.Status == "" || last[msg.ID] == msg.Status {
			continue
		}
		last[msg.ID] = msg.Status
		if msg.ID != "" {
			fmt.Fprintf(w, "  %s: %s\n", msg.ID, msg.Status)
			continue
		}
		fmt.Fprintf(w, "  %s\n", msg.Status)
	}
}
