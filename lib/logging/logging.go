// Package logging provides named loggers for all dGrid components.
//
// Every package obtains its own logger via GetLogger and stores it in a
// package level variable. All loggers share one logrus backend so that the
// log level and output destination can be configured in a single place
// (typically by the CLI during startup).
package logging

import (
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	base *logrus.Logger
	once sync.Once
)

// backend lazily initializes the shared logrus logger.
func backend() *logrus.Logger {
	once.Do(func() {
		base = logrus.New()
		base.SetOutput(os.Stdout)
		base.SetLevel(logrus.InfoLevel)
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	})
	return base
}

// GetLogger returns a logger tagged with the given component name.
//
// Thread-safety: This function is thread-safe and can be called concurrently.
func GetLogger(component string) *logrus.Entry {
	return backend().WithField("component", component)
}

// SetLevel changes the log level for all component loggers.
// Unknown level strings fall back to "info".
func SetLevel(level string) {
	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsed = logrus.InfoLevel
	}
	backend().SetLevel(parsed)
}

// SetOutput redirects all component loggers to the given writer.
// Used by tests to silence or capture output.
func SetOutput(w *os.File) {
	backend().SetOutput(w)
}
