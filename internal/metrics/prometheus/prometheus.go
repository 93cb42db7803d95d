package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/slok/microbox/internal/metrics"
	"github.com/slok/microbox/internal/model"
)

const namespace = "microbox"

// Recorder is the Prometheus implementation of metrics.Recorder.
type Recorder struct {
	vmTransitions *prometheus.CounterVec
	sessionsOpen  *prometheus.GaugeVec
	sessionsTotal *prometheus.CounterVec
	stopDuration  *prometheus.HistogramVec
}

var _ metrics.Recorder = &Recorder{}

// NewRecorder returns a new recorder registered on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Recorder{
		vmTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vm",
			Name:      "transitions_total",
			Help:      "Total number of VM state transitions.",
		}, []string{"from", "to"}),

		sessionsOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "sessions_open",
			Help:      "Number of open protocol sessions.",
		}, []string{"kind"}),

		sessionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "sessions_total",
			Help:      "Total number of finished protocol sessions.",
		}, []string{"kind", "success"}),

		stopDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "vm",
			Name:      "stop_duration_seconds",
			Help:      "Duration of VM stops.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"escalated"}),
	}
}

func (r *Recorder) ObserveVMTransition(from, to model.VMState) {
	r.vmTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (r *Recorder) SessionOpened(kind string) {
	r.sessionsOpen.WithLabelValues(kind).Inc()
}

func (r *Recorder) SessionClosed(kind string, success bool) {
	r.sessionsOpen.WithLabelValues(kind).Dec()
	r.sessionsTotal.WithLabelValues(kind, strconv.FormatBool(success)).Inc()
}

func (r *Recorder) ObserveStop(duration time.Duration, escalated bool) {
	r.stopDuration.WithLabelValues(strconv.FormatBool(escalated)).Observe(duration.Seconds())
}
