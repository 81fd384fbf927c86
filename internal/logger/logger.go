// Package logger is the process-wide leveled logger. Call sites tag lines with a
// "[component]" prefix, e.g. logger.Infof("[engine] scan %s done", symbol).
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var std = newStd()

func newStd() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	return l
}

// SetLevel accepts logrus level names; unknown names fall back to info.
func SetLevel(level string) {
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	std.SetLevel(lvl)
}

func SetOutput(w io.Writer) { std.SetOutput(w) }

// SetJSON switches to JSON lines, used when the service runs under a log collector.
func SetJSON(enabled bool) {
	if enabled {
		std.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	std.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000"})
}

// With returns an entry carrying structured fields (request id, symbol...).
func With(fields map[string]any) *logrus.Entry {
	return std.WithFields(logrus.Fields(fields))
}

func Debugf(format string, args ...any) { std.Debugf(format, args...) }
func Infof(format string, args ...any)  { std.Infof(format, args...) }
func Warnf(format string, args ...any)  { std.Warnf(format, args...) }
func Errorf(format string, args ...any) { std.Errorf(format, args...) }
