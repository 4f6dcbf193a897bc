// Package utils provides shared helpers: logging and node identity.
package utils

import (
	"log"

	"github.com/sirupsen/logrus"
)

// Logger is the logging interface threaded through every component.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// DefaultLogger is a stdlib-backed fallback implementation.
type DefaultLogger struct{}

// NewDefaultLogger creates the fallback logger.
func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{}
}

func (l *DefaultLogger) Infof(format string, args ...interface{}) {
	log.Printf("[INFO] "+format, args...)
}

func (l *DefaultLogger) Warnf(format string, args ...interface{}) {
	log.Printf("[WARN] "+format, args...)
}

func (l *DefaultLogger) Errorf(format string, args ...interface{}) {
	log.Printf("[ERROR] "+format, args...)
}

func (l *DefaultLogger) Debugf(format string, args ...interface{}) {
	log.Printf("[DEBUG] "+format, args...)
}

// LogrusLogger adapts a logrus entry to the Logger interface so components
// can carry structured fields without depending on logrus directly.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger wraps an existing logrus entry.
func NewLogrusLogger(entry *logrus.Entry) *LogrusLogger {
	if entry == nil {
		entry = logrus.NewEntry(logrus.New())
	}
	return &LogrusLogger{entry: entry}
}

// NewComponentLogger creates a logrus-backed logger tagged with a component
// field, the standard way components obtain their logger.
func NewComponentLogger(component string) *LogrusLogger {
	return &LogrusLogger{entry: logrus.WithField("component", component)}
}

func (l *LogrusLogger) Infof(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *LogrusLogger) Warnf(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

func (l *LogrusLogger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

func (l *LogrusLogger) Debugf(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}
