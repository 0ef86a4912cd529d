package yozora

import (
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// loggerPtr stores the package logger. Accessed atomically so SetLogger can
// race with logging from the session and assembler goroutines.
var loggerPtr atomic.Pointer[logrus.FieldLogger]

func init() {
	var l logrus.FieldLogger = logrus.StandardLogger()
	loggerPtr.Store(&l)
}

// SetLogger replaces the logger used by sessions and assemblers that were
// not given one explicitly. Pass nil to silence all output.
func SetLogger(l logrus.FieldLogger) {
	if l == nil {
		l = newDiscardLogger()
	}
	loggerPtr.Store(&l)
}

// Logger returns the package logger.
func Logger() logrus.FieldLogger {
	return *loggerPtr.Load()
}

func newDiscardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
