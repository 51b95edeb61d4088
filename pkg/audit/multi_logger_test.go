package audit

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tasktrax/pkg/contextkeys"
	"github.com/platinummonkey/tasktrax/pkg/observability"
)

type memoryLogger struct {
	mu     sync.Mutex
	events []*AuditEvent
	err    error
	closed bool
}

func (m *memoryLogger) Log(ctx context.Context, event *AuditEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, event)
	return nil
}

func (m *memoryLogger) Close() error {
	m.closed = true
	return nil
}

func (m *memoryLogger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestMultiLogger_Sync(t *testing.T) {
	failing := &memoryLogger{err: errors.New("disk full")}
	ok := &memoryLogger{}
	multi := NewMultiLogger(failing, ok)

	err := multi.Log(context.Background(), NewEvent(context.Background(), EventTypeTaskCreate, EventStatusSuccess))
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, 1, ok.count(), "later loggers still receive the event")

	require.NoError(t, multi.Close())
	assert.True(t, failing.closed)
	assert.True(t, ok.closed)
}

func TestMultiLogger_Async(t *testing.T) {
	failing := &memoryLogger{err: errors.New("disk full")}
	ok := &memoryLogger{}
	multi := NewMultiLogger(failing, ok)
	multi.SetAsync(true)

	ctx, cancel := context.WithCancel(context.Background())
	assert.NoError(t, multi.Log(ctx, NewEvent(ctx, EventTypeTaskCreate, EventStatusSuccess)))
	cancel()
	multi.Wait()

	assert.Equal(t, 1, ok.count())
	assert.Len(t, multi.Errors(), 1)
	assert.Empty(t, multi.Errors())
}

func TestMultiLogger_Search(t *testing.T) {
	fl, _ := setupFileLoggerTest(t, FileLoggerConfig{})
	multi := NewMultiLogger(&memoryLogger{}, fl)
	ctx := context.Background()

	require.NoError(t, multi.Log(ctx, NewEvent(ctx, EventTypeSettingsChange, EventStatusSuccess)))
	events, err := multi.Search(ctx, SearchFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	_, err = NewMultiLogger(&memoryLogger{}).Search(ctx, SearchFilter{})
	assert.Error(t, err)
}

func TestNewEventUsesContext(t *testing.T) {
	ctx := contextkeys.WithRequestID(context.Background(), "req-9")
	ctx = contextkeys.WithUserID(ctx, "u-7")

	event := NewEvent(ctx, EventTypeTaskComment, EventStatusSuccess)
	assert.Equal(t, "req-9", event.RequestID)
	assert.Equal(t, "u-7", event.UserID)
	assert.NotNil(t, event.Metadata)

	r := httptest.NewRequest("DELETE", "/api/tasks/T-003", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	r = r.WithContext(ctx)
	event = NewRequestEvent(r, EventTypeTaskDelete, EventStatusSuccess)
	assert.Equal(t, "203.0.113.9", event.IPAddress)
	assert.Equal(t, "/api/tasks/T-003", event.Path)
	assert.Equal(t, "DELETE", event.Method)
}

func TestContextLogger(t *testing.T) {
	assert.NoError(t, FromContext(context.Background()).Log(context.Background(), &AuditEvent{}))

	mem := &memoryLogger{}
	ctx := WithLogger(context.Background(), mem)
	require.NoError(t, FromContext(ctx).Log(ctx, &AuditEvent{EventType: EventTypeAuthLogin}))
	assert.Equal(t, 1, mem.count())
}

func TestRecorderSwallowsErrors(t *testing.T) {
	var logs bytes.Buffer
	rec := NewRecorder(&memoryLogger{err: errors.New("db down")}, observability.NewLogger(observability.WarnLevel, &logs))

	assert.NotPanics(t, func() {
		rec.Record(context.Background(), NewEvent(context.Background(), EventTypeTaskDelete, EventStatusSuccess).WithResource(ResourceTypeTask, "T-001"))
	})
	assert.Contains(t, logs.String(), "Failed to write audit event")
	assert.Contains(t, logs.String(), "db down")

	var nilRec *Recorder
	assert.NotPanics(t, func() { nilRec.Record(context.Background(), &AuditEvent{}) })
	assert.NotNil(t, NewRecorder(nil, nil).Logger())
}
