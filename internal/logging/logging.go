// Package logging builds the logrus loggers shared by every component.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New creates a logger tagged with the given component name.
// Unknown levels fall back to info, unknown formats to text.
func New(component, level, format string) *logrus.Entry {
	return NewWithOutput(os.Stdout, component, level, format)
}

// NewWithOutput is New with an explicit writer, used by tests.
func NewWithOutput(w io.Writer, component, level, format string) *logrus.Entry {
	l := logrus.New()
	l.SetOutput(w)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			PadLevelText:    true,
		})
	}

	return l.WithField("component", component)
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
