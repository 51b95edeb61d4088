package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/platinummonkey/tasktrax/pkg/contextkeys"
	"github.com/platinummonkey/tasktrax/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log persists an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close closes the logger and flushes any buffered logs
	Close() error
}

// Searcher is implemented by loggers that can read their trail back
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error)
}

// NewNoOpLogger returns a logger that discards every event
func NewNoOpLogger() Logger {
	return noOpLogger{}
}

type noOpLogger struct{}

func (noOpLogger) Log(ctx context.Context, event *AuditEvent) error { return nil }

func (noOpLogger) Close() error { return nil }

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return contextkeys.WithAuditLogger(ctx, logger)
}

// FromContext retrieves the audit logger from context, or a no-op logger
func FromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return noOpLogger{}
}

// NewEvent creates an event stamped with the current time and the request
// and user ids carried by ctx.
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	return &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		UserID:    contextkeys.GetUserID(ctx),
		RequestID: contextkeys.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}
}

// NewRequestEvent is NewEvent plus the client details of r
func NewRequestEvent(r *http.Request, eventType EventType, status EventStatus) *AuditEvent {
	event := NewEvent(r.Context(), eventType, status)
	event.IPAddress = getClientIP(r)
	event.UserAgent = r.UserAgent()
	event.Method = r.Method
	event.Path = r.URL.Path
	return event
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// Recorder writes audit events without ever failing the audited operation.
// Write failures are logged.
type Recorder struct {
	logger Logger
	log    *observability.Logger
}

// NewRecorder wraps logger; a nil logger records nothing
func NewRecorder(logger Logger, log *observability.Logger) *Recorder {
	if logger == nil {
		logger = noOpLogger{}
	}
	return &Recorder{logger: logger, log: observability.OrNop(log)}
}

// Record writes event, logging (not returning) any failure
func (r *Recorder) Record(ctx context.Context, event *AuditEvent) {
	if r == nil {
		return
	}
	if err := r.logger.Log(ctx, event); err != nil {
		r.log.WithError(err).WithFields(map[string]interface{}{
			"event_type":  string(event.EventType),
			"resource_id": event.ResourceID,
		}).Warn("Failed to write audit event")
	}
}

// Logger returns the wrapped audit logger
func (r *Recorder) Logger() Logger {
	if r == nil {
		return noOpLogger{}
	}
	return r.logger
}
