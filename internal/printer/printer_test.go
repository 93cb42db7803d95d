package printer_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/microbox/internal/model"
	"github.com/slok/microbox/internal/printer"
)

func vmFixture() model.VM {
	createdAt := time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC)
	stoppedAt := createdAt.Add(time.Minute)
	return model.VM{
		ID:        "01JHQ8Z6W3T9V5XKQ2M4N7P8RS",
		Name:      "web",
		State:     model.VMStateStopped,
		CreatedAt: createdAt,
		StoppedAt: &stoppedAt,
		Exit:      &model.ExitStatus{Code: 143, Reason: model.ExitReasonExited},
		Config: model.VMConfig{
			Name:      "web",
			VCPUs:     2,
			MemoryMiB: 1024,
			RootFS:    "/data/images/abc/rootfs",
			Image:     "nginx:1.27",
			Exec:      model.ExecSpec{Path: "/usr/sbin/nginx", Args: []string{"-g", "daemon off;"}},
		},
	}
}

func eventsFixture() []model.VMEvent {
	at := time.Date(2026, 1, 30, 10, 0, 0, 0, time.UTC)
	return []model.VMEvent{
		{To: model.VMStateCreated, At: at},
		{From: model.VMStateCreated, To: model.VMStateStarting, At: at},
		{From: model.VMStateStarting, To: model.VMStateCrashed, Cause: "guest agent unreachable", At: at},
	}
}

func TestTablePrinterPrintVMList(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	require.NoError(t, p.PrintVMList([]model.VM{vmFixture()}))

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "01JHQ8Z6W3T9")
	assert.NotContains(t, out, "01JHQ8Z6W3T9V")
	assert.Contains(t, out, "nginx:1.27")
	assert.Contains(t, out, `"/usr/sbin/nginx -g …"`)
	assert.Contains(t, out, "1GiB")
	assert.Contains(t, out, "stopped (143)")
}

func TestTablePrinterPrintVMListEmpty(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	require.NoError(t, p.PrintVMList(nil))
	assert.Empty(t, buf.String())
}

func TestTablePrinterPrintVM(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	require.NoError(t, p.PrintVM(vmFixture(), eventsFixture()))

	out := buf.String()
	assert.Contains(t, out, "State:      stopped")
	assert.Contains(t, out, "Exit:       143 (exited)")
	assert.Contains(t, out, "Command:    /usr/sbin/nginx -g daemon off;")
	assert.Contains(t, out, "Memory:     1GiB")
	assert.Contains(t, out, "Stopped:    2026-01-30 10:01:00 UTC")
	assert.Contains(t, out, "starting -> crashed")
	assert.Contains(t, out, "guest agent unreachable")
}

func TestJSONPrinterPrintVM(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewJSONPrinter(&buf)

	require.NoError(t, p.PrintVM(vmFixture(), eventsFixture()))

	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "web", got["name"])
	assert.Equal(t, "stopped", got["state"])
	assert.Equal(t, float64(143), got["exit"].(map[string]any)["code"])
	assert.Equal(t, "/usr/sbin/nginx", got["exec"].(map[string]any)["path"])
	assert.Len(t, got["events"], 3)
	assert.Nil(t, got["started_at"])
}

func TestJSONPrinterPrintVMList(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewJSONPrinter(&buf)

	running := vmFixture()
	running.State = model.VMStateRunning
	running.Exit = nil
	require.NoError(t, p.PrintVMList([]model.VM{vmFixture(), running}))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, float64(143), got[0]["exit_code"])
	_, ok := got[1]["exit_code"]
	assert.False(t, ok)
}

func TestPrintImagesAndCache(t *testing.T) {
	images := []model.Image{{
		Ref:       "alpine:3.20",
		Key:       "0123456789abcdef",
		Digest:    "sha256:fedcba9876543210fedcba",
		SizeBytes: 8 * 1024 * 1024,
		RootFS:    "/data/images/0123456789abcdef/rootfs",
		PulledAt:  time.Now().Add(-time.Hour),
	}}
	entries := []model.CacheEntry{{
		Key:       "0123456789abcdef",
		Ref:       "alpine:3.20",
		Path:      "/data/images/0123456789abcdef/rootfs",
		SizeBytes: 1024,
		UsedBy:    []string{"01JHQ8Z6W3T9V5XKQ2M4N7P8RS"},
	}}

	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)
	require.NoError(t, p.PrintImageList(images))
	require.NoError(t, p.PrintCacheList(entries))

	out := buf.String()
	assert.Contains(t, out, "fedcba987654")
	assert.Contains(t, out, "8MiB")
	assert.Contains(t, out, "yes")
	assert.Contains(t, out, "1KiB")
	assert.Contains(t, out, "01JHQ8Z6W3T9")

	buf.Reset()
	jp := printer.NewJSONPrinter(&buf)
	require.NoError(t, jp.PrintCacheList([]model.CacheEntry{{Key: "k"}}))
	assert.Contains(t, buf.String(), `"used_by": []`)
}

func TestTablePrinterPrintMessage(t *testing.T) {
	var buf bytes.Buffer
	p := printer.NewTablePrinter(&buf)

	err := p.PrintMessage("ok")
	require.NoError(t, err)
	assert.Equal(t, "ok", strings.TrimSpace(buf.String()))
}
