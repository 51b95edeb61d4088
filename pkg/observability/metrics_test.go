package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_Registers(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	require.NotNil(t, m)

	m.PermissionDecision("Delete Tasks", "member", false)
	m.IDAllocationRetry()

	families, err := registry.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["tasktrax_permission_decisions_total"])
	assert.True(t, names["tasktrax_id_allocation_retries_total"])
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveStoreOp("get", "memory", time.Millisecond, nil, "")
		m.SyncPush("tasks", 3)
		m.SyncError("tasks")
		m.SyncState("live")
		m.SyncResubscribe("stalled")
		m.Malformed("tasks", 1)
		m.PermissionDecision("View Tasks", "admin", true)
		m.IDAllocationRetry()
		m.IDAllocation(nil)
		m.ActivityAppended("commented")
		m.OverdueSweep(2, nil)
		m.WebsocketConnected(1)
	})
}

func TestMetrics_Helpers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveStoreOp("mutate", "redis", time.Millisecond, errors.New("x"), "conflict")
	m.ObserveStoreOp("mutate", "redis", time.Millisecond, nil, "")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("mutate", "redis", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StoreErrorsTotal.WithLabelValues("mutate", "redis", "conflict")))

	m.Malformed("tasks", 0)
	m.Malformed("tasks", 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MalformedRecords.WithLabelValues("tasks")))

	m.OverdueSweep(3, nil)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.OverdueMarked))

	m.WebsocketConnected(1)
	m.WebsocketConnected(1)
	m.WebsocketConnected(-1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebsocketClients))
}

func TestHTTPMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(m))
	router.HandleFunc("/api/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("hi"))
	})

	for _, id := range []string{"T-001", "T-002"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/"+id, nil))
		assert.Equal(t, http.StatusTeapot, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/tasks/{id}", "418")))
}

func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.SyncPush("tasks", 1)

	rec := httptest.NewRecorder()
	MetricsHandler(registry).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "tasktrax_sync_pushes_total"))
}
