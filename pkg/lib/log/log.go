// Package log exposes the logger accepted by the microbox SDK.
//
// By default the SDK is silent ([Noop]). Applications already using logrus can
// plug their logger with [NewLogrus]:
//
//	client, err := lib.New(ctx, lib.Config{
//	    Logger: log.NewLogrus(logrus.NewEntry(logrus.StandardLogger())),
//	})
//
// Any other logging library can be adapted by implementing [Logger]. The SDK
// logs through the format methods and attaches key values (e.g. the VM ID or
// the service name) with WithValues.
package log

import (
	"github.com/sirupsen/logrus"

	"github.com/slok/microbox/internal/log"
	loglogrus "github.com/slok/microbox/internal/log/logrus"
)

// Logger is the logger used by the SDK.
type Logger = log.Logger

// Kv are the key values attached to log lines.
type Kv = log.Kv

// Noop discards every log line.
var Noop = log.Noop

// NewLogrus returns a [Logger] backed by a logrus entry.
func NewLogrus(e *logrus.Entry) Logger {
	return loglogrus.NewLogrus(e)
}
