// Package logger provides structured logging for the server, backed by
// logrus and configured from the LOG_LEVEL and LOG_STYLE environment
// variables.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var base = logrus.New()

// Init configures the package-global logger from the environment. It should
// be called once, early in main, before any other goroutine logs.
func Init() {
	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	applyLevel(os.Getenv("LOG_LEVEL"))
	applyStyle(os.Getenv("LOG_STYLE"))
}

func applyLevel(raw string) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "off":
		base.SetOutput(io.Discard)
		base.SetLevel(logrus.PanicLevel)
	case "error":
		base.SetLevel(logrus.ErrorLevel)
	case "warn":
		base.SetLevel(logrus.WarnLevel)
	case "debug":
		base.SetLevel(logrus.DebugLevel)
	case "trace":
		base.SetLevel(logrus.TraceLevel)
	case "info", "":
		base.SetLevel(logrus.InfoLevel)
	default:
		base.SetLevel(logrus.InfoLevel)
	}
}

func applyStyle(raw string) {
	formatter, ok := base.Formatter.(*logrus.TextFormatter)
	if !ok {
		return
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "always":
		formatter.ForceColors = true
	case "never":
		formatter.DisableColors = true
	case "auto", "":
		// leave logrus's own TTY detection in place
	}
}

// Debug logs a debug-level message.
func Debug(format string, args ...interface{}) {
	base.Debugf(format, args...)
}

// Info logs an info-level message.
func Info(format string, args ...interface{}) {
	base.Infof(format, args...)
}

// Warn logs a warn-level message.
func Warn(format string, args ...interface{}) {
	base.Warnf(format, args...)
}

// Error logs an error-level message.
func Error(format string, args ...interface{}) {
	base.Errorf(format, args...)
}

// Trace logs a trace-level message.
func Trace(format string, args ...interface{}) {
	base.Tracef(format, args...)
}
