// Package test_utils provides shared test doubles.
package test_utils

import (
	"fmt"
	"strings"
	"sync"
)

// MockLogger records every log line so tests can assert on what a
// component reported.
type MockLogger struct {
	mu    sync.Mutex
	lines map[string][]string
}

// NewMockLogger creates an empty recording logger.
func NewMockLogger() *MockLogger {
	return &MockLogger{lines: make(map[string][]string)}
}

func (m *MockLogger) record(level, format string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[level] = append(m.lines[level], fmt.Sprintf(format, args...))
}

// Lines returns the messages recorded at a level.
func (m *MockLogger) Lines(level string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines[level]...)
}

// Contains reports whether any message at the level includes substr.
func (m *MockLogger) Contains(level, substr string) bool {
	for _, line := range m.Lines(level) {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func (m *MockLogger) Debugf(format string, args ...interface{}) {
	m.record("debug", format, args...)
}

func (m *MockLogger) Infof(format string, args ...interface{}) {
	m.record("info", format, args...)
}

func (m *MockLogger) Warnf(format string, args ...interface{}) {
	m.record("warn", format, args...)
}

func (m *MockLogger) Errorf(format string, args ...interface{}) {
	m.record("error", format, args...)
}
