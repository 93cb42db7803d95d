package prometheus_test

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mprometheus "github.com/slok/microbox/internal/metrics/prometheus"
	"github.com/slok/microbox/internal/model"
)

func TestRecorder(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	reg := prometheus.NewRegistry()
	rec := mprometheus.NewRecorder(reg)

	rec.ObserveVMTransition(model.VMStateCreated, model.VMStateStarting)
	rec.ObserveVMTransition(model.VMStateCreated, model.VMStateStarting)
	rec.SessionOpened("exec")
	rec.SessionOpened("exec")
	rec.SessionClosed("exec", true)
	rec.ObserveStop(2*time.Second, true)

	expected := `
# HELP microbox_vm_transitions_total Total number of VM state transitions.
# TYPE microbox_vm_transitions_total counter
microbox_vm_transitions_total{from="created",to="starting"} 2
# HELP microbox_channel_sessions_open Number of open protocol sessions.
# TYPE microbox_channel_sessions_open gauge
microbox_channel_sessions_open{kind="exec"} 1
# HELP microbox_channel_sessions_total Total number of finished protocol sessions.
# TYPE microbox_channel_sessions_total counter
microbox_channel_sessions_total{kind="exec",success="true"} 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"microbox_vm_transitions_total",
		"microbox_channel_sessions_open",
		"microbox_channel_sessions_total",
	)
	require.NoError(err)

	count, err := testutil.GatherAndCount(reg, "microbox_vm_stop_duration_seconds")
	require.NoError(err)
	assert.Equal(1, count)
}
