package metrics

import (
	"time"

	"github.com/slok/microbox/internal/model"
)

// Recorder knows how to record runtime metrics.
type Recorder interface {
	ObserveVMTransition(from, to model.VMState)
	SessionOpened(kind string)
	SessionClosed(kind string, success bool)
	ObserveStop(duration time.Duration, escalated bool)
}

// Noop is a recorder that doesn't record anything.
var Noop Recorder = noop(0)

type noop int

func (noop) ObserveVMTransition(from, to model.VMState)         {}
func (noop) SessionOpened(kind string)                          {}
func (noop) SessionClosed(kind string, success bool)            {}
func (noop) ObserveStop(duration time.Duration, escalated bool) {}
