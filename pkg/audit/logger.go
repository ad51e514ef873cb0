package audit

import (
	"context"
	"errors"
)

// Logger is the interface for audit sinks
type Logger interface {
	// Log records an event
	Log(ctx context.Context, event *Event) error

	// Close flushes and releases the sink
	Close() error
}

// NopLogger returns a logger that discards events
func NopLogger() Logger {
	return noOpLogger{}
}

type noOpLogger struct{}

func (noOpLogger) Log(context.Context, *Event) error { return nil }
func (noOpLogger) Close() error                      { return nil }

// MultiLogger writes every event to each of its loggers
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that fans out to loggers
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log writes to all loggers, continuing past failures, and returns the first error
func (m *MultiLogger) Log(ctx context.Context, event *Event) error {
	var firstErr error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close closes all loggers
func (m *MultiLogger) Close() error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
