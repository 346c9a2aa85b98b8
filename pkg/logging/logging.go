// Package logging defines the logger interface used throughout the server
// core. It is a thin bridge over logrus so that callers can pass a
// *logrus.Logger, a *logrus.Entry, or any other field logger without the
// core depending on logrus's concrete types directly.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger is the interface every subsystem accepts at construction time
// instead of reaching for a package-level global.
type Logger interface {
	logrus.FieldLogger
	Writer() *io.PipeWriter
}

// Discard returns a Logger that drops everything written to it. Useful as a
// default in tests and for embedders that don't care about core logs.
func Discard() Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// New wraps a *logrus.Logger as a Logger.
func New(log *logrus.Logger) Logger {
	return log
}
