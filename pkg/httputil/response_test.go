package httputil

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/tasktrax/pkg/observability"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusOK, map[string]string{"message": "success"})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "success")
}

func TestWriteErrorHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  func(w http.ResponseWriter)
		status int
		body   string
	}{
		{"error", func(w http.ResponseWriter) { WriteError(w, http.StatusBadRequest, errors.New("bad thing")) }, http.StatusBadRequest, "bad thing"},
		{"validation", func(w http.ResponseWriter) { WriteValidationError(w, "title is required") }, http.StatusBadRequest, "title is required"},
		{"unauthorized", func(w http.ResponseWriter) { WriteUnauthorized(w, "missing token") }, http.StatusUnauthorized, "missing token"},
		{"forbidden", func(w http.ResponseWriter) { WriteForbidden(w, "nope") }, http.StatusForbidden, "nope"},
		{"not found", func(w http.ResponseWriter) { WriteNotFoundError(w, "task not found") }, http.StatusNotFound, "task not found"},
		{"conflict", func(w http.ResponseWriter) { WriteConflict(w, "exists") }, http.StatusConflict, "exists"},
		{"unavailable", func(w http.ResponseWriter) { WriteServiceUnavailable(w, "down") }, http.StatusServiceUnavailable, "down"},
		{"internal", func(w http.ResponseWriter) { WriteInternalError(w) }, http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
		})
	}
}

func TestWriteDetailedError(t *testing.T) {
	w := httptest.NewRecorder()

	WriteDetailedError(w, http.StatusBadRequest, "invalid dates", map[string]string{"entryDate": "before receivedDate"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"invalid dates","details":{"entryDate":"before receivedDate"}}`, w.Body.String())
}

func TestWriteCreatedAndNoContent(t *testing.T) {
	w := httptest.NewRecorder()
	assert.NoError(t, WriteCreated(w, map[string]string{"id": "T-001"}))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "T-001")

	w = httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

var (
	errMissing = errors.New("missing")
	errDenied  = errors.New("denied")
)

func TestStatusFor(t *testing.T) {
	mappings := []ErrorMapping{
		{Err: errMissing, Status: http.StatusNotFound},
		{Err: errDenied, Status: http.StatusForbidden},
	}

	assert.Equal(t, http.StatusNotFound, StatusFor(errMissing, mappings))
	assert.Equal(t, http.StatusForbidden, StatusFor(fmt.Errorf("delete T-001: %w", errDenied), mappings))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(errors.New("boom"), mappings))
}

func TestWriteMappedError(t *testing.T) {
	var logs bytes.Buffer
	logger := observability.NewLogger(observability.DebugLevel, &logs)
	mappings := []ErrorMapping{{Err: errMissing, Status: http.StatusNotFound}}

	w := httptest.NewRecorder()
	WriteMappedError(w, fmt.Errorf("get T-009: %w", errMissing), mappings, logger)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "get T-009: missing")
	assert.Empty(t, logs.String())

	w = httptest.NewRecorder()
	WriteMappedError(w, errors.New("connection reset"), mappings, logger)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection reset")
	assert.Contains(t, logs.String(), "connection reset")
}
