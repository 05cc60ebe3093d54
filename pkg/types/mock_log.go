package types

import "fmt"

// MockLogger is a Logger implementation that records log lines for tests.
type MockLogger struct {
	DebugLogs []string
	InfoLogs  []string
	WarnLogs  []string
	ErrorLogs []string
	FatalLogs []string
}

// NewMockLogger creates a new MockLogger.
func NewMockLogger() *MockLogger {
	return &MockLogger{}
}

func format(msg string, fields ...interface{}) string {
	if len(fields) == 0 {
		return msg
	}
	return fmt.Sprintf("%s %v", msg, fields)
}

// Debug records a debug message.
func (m *MockLogger) Debug(msg string, fields ...interface{}) {
	m.DebugLogs = append(m.DebugLogs, format(msg, fields...))
}

// Info records an info message.
func (m *MockLogger) Info(msg string, fields ...interface{}) {
	m.InfoLogs = append(m.InfoLogs, format(msg, fields...))
}

// Warn records a warn message.
func (m *MockLogger) Warn(msg string, fields ...interface{}) {
	m.WarnLogs = append(m.WarnLogs, format(msg, fields...))
}

// Error records an error message.
func (m *MockLogger) Error(msg string, fields ...interface{}) {
	m.ErrorLogs = append(m.ErrorLogs, format(msg, fields...))
}

// Fatalf records a fatal message without exiting.
func (m *MockLogger) Fatalf(msg string, fields ...interface{}) {
	m.FatalLogs = append(m.FatalLogs, format(msg, fields...))
}
