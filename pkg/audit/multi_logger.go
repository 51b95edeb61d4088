package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MultiLogger logs to multiple audit loggers
type MultiLogger struct {
	loggers []Logger
	async   bool
	wg      sync.WaitGroup

	mu   sync.Mutex
	errs []error
}

// NewMultiLogger creates a synchronous multi-logger
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// SetAsync makes Log return immediately; failures are collected for Errors
func (m *MultiLogger) SetAsync(async bool) {
	m.async = async
}

// Log logs an audit event to every configured logger. In synchronous mode
// every logger is attempted and the first error is returned.
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	if m.async {
		for _, logger := range m.loggers {
			m.wg.Add(1)
			go func(l Logger) {
				defer m.wg.Done()
				if err := l.Log(context.WithoutCancel(ctx), event); err != nil {
					m.mu.Lock()
					m.errs = append(m.errs, err)
					m.mu.Unlock()
				}
			}(logger)
		}
		return nil
	}

	var firstErr error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Search delegates to the first logger that can search
func (m *MultiLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	for _, logger := range m.loggers {
		if s, ok := logger.(Searcher); ok {
			return s.Search(ctx, filter)
		}
	}
	return nil, errors.New("no searchable audit logger configured")
}

// Wait waits for all async logging operations to complete
func (m *MultiLogger) Wait() {
	m.wg.Wait()
}

// Errors drains the failures collected in async mode
func (m *MultiLogger) Errors() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	errs := m.errs
	m.errs = nil
	return errs
}

// Close waits for pending writes and closes all loggers
func (m *MultiLogger) Close() error {
	m.wg.Wait()

	var firstErr error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close logger: %w", err)
		}
	}
	return firstErr
}
