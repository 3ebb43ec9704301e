// Package logging sets up logrus for the services and adapts it to the
// logger interface the library packages accept.
package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/shopflow/shopflow/outbox"
)

// New builds a JSON logrus entry tagged with the service name. An unknown
// level falls back to info.
func New(service, level string) *logrus.Entry {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	return log.WithField("service", service)
}

// Adapter exposes a logrus entry through the outbox.Logger interface.
type Adapter struct {
	entry *logrus.Entry
}

var _ outbox.Logger = (*Adapter)(nil)

// NewAdapter wraps a logrus entry.
func NewAdapter(entry *logrus.Entry) *Adapter {
	if entry == nil {
		panic("logging: nil entry")
	}

	return &Adapter{entry: entry}
}

// Debug implements outbox.Logger.
func (a *Adapter) Debug(msg string, args ...any) {
	a.entry.WithFields(fields(args)).Debug(msg)
}

// Info implements outbox.Logger.
func (a *Adapter) Info(msg string, args ...any) {
	a.entry.WithFields(fields(args)).Info(msg)
}

// Warn implements outbox.Logger.
func (a *Adapter) Warn(msg string, args ...any) {
	a.entry.WithFields(fields(args)).Warn(msg)
}

// Error implements outbox.Logger.
func (a *Adapter) Error(msg string, args ...any) {
	a.entry.WithFields(fields(args)).Error(msg)
}

// fields converts alternating key/value args into logrus fields. A trailing
// value without a key is kept under "extra" rather than dropped.
func fields(args []any) logrus.Fields {
	out := make(logrus.Fields, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = "field"
		}
		out[key] = args[i+1]
	}
	if len(args)%2 != 0 {
		out["extra"] = args[len(args)-1]
	}

	return out
}
