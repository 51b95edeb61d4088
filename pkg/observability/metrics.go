package observability

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics.
//
// Every helper method is safe to call on a nil *Metrics so that components
// can be constructed without a registry in tests and CLI commands.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Document store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	StoreErrorsTotal       *prometheus.CounterVec

	// Sync metrics
	SyncPushesTotal      *prometheus.CounterVec
	SyncErrorsTotal      *prometheus.CounterVec
	SyncStateTransitions *prometheus.CounterVec
	SyncResubscribes     *prometheus.CounterVec
	MalformedRecords     *prometheus.CounterVec
	VisibleTasks         prometheus.Histogram

	// Access control metrics
	PermissionDecisions *prometheus.CounterVec

	// Task metrics
	IDAllocationRetries prometheus.Counter
	IDAllocationsTotal  *prometheus.CounterVec
	ActivityAppends     *prometheus.CounterVec
	OverdueSweeps       *prometheus.CounterVec
	OverdueMarked       prometheus.Counter

	// Realtime transport
	WebsocketClients prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasktrax_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tasktrax_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tasktrax_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "route"},
		),

		// Document store metrics
		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasktrax_store_operations_total",
				Help: "Total number of document store operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tasktrax_store_operation_duration_seconds",
				Help:    "Document store operation duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"operation", "backend"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasktrax_store_errors_total",
				Help: "Total number of document store errors",
			},
			[]string{"operation", "backend", "error_type"},
		),

		// Sync metrics
		SyncPushesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasktrax_sync_pushes_total",
				Help: "Total number of snapshots delivered to sync controllers",
			},
			[]string{"stream"},
		),
		SyncErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasktrax_sync_errors_total",
				Help: "Total number of subscription errors",
			},
			[]string{"stream"},
		),
		SyncStateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasktrax_sync_state_transitions_total",
				Help: "Total number of sync controller state transitions",
			},
			[]string{"state"},
		),
		SyncResubscribes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasktrax_sync_resubscribes_total",
				Help: "Total number of forced resubscriptions",
			},
			[]string{"reason"},
		),
		MalformedRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasktrax_malformed_records_total",
				Help: "Total number of records excluded during normalization",
			},
			[]string{"collection"},
		),
		VisibleTasks: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tasktrax_visible_tasks",
				Help:    "Number of tasks visible to a subscriber per push",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),

		// Access control metrics
		PermissionDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasktrax_permission_decisions_total",
				Help: "Total number of permission decisions",
			},
			[]string{"action", "role", "allowed"},
		),

		// Task metrics
		IDAllocationRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tasktrax_id_allocation_retries_total",
				Help: "Total number of task id reservations retried after a collision",
			},
		),
		IDAllocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasktrax_id_allocations_total",
				Help: "Total number of task id allocations",
			},
			[]string{"status"},
		),
		ActivityAppends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasktrax_activity_appends_total",
				Help: "Total number of activity entries appended",
			},
			[]string{"action"},
		),
		OverdueSweeps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasktrax_overdue_sweeps_total",
				Help: "Total number of overdue sweeps",
			},
			[]string{"status"},
		),
		OverdueMarked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tasktrax_overdue_marked_total",
				Help: "Total number of tasks marked overdue",
			},
		),

		WebsocketClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tasktrax_websocket_clients",
				Help: "Number of connected live view clients",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.StoreOperationsTotal,
		m.StoreOperationDuration,
		m.StoreErrorsTotal,
		m.SyncPushesTotal,
		m.SyncErrorsTotal,
		m.SyncStateTransitions,
		m.SyncResubscribes,
		m.MalformedRecords,
		m.VisibleTasks,
		m.PermissionDecisions,
		m.IDAllocationRetries,
		m.IDAllocationsTotal,
		m.ActivityAppends,
		m.OverdueSweeps,
		m.OverdueMarked,
		m.WebsocketClients,
	)

	return m
}

// ObserveStoreOp records one document store operation
func (m *Metrics) ObserveStoreOp(operation, backend string, duration time.Duration, err error, errType string) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.StoreErrorsTotal.WithLabelValues(operation, backend, errType).Inc()
	}
	m.StoreOperationsTotal.WithLabelValues(operation, backend, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

// SyncPush records a delivered snapshot and the size of the visible subset
func (m *Metrics) SyncPush(stream string, visible int) {
	if m == nil {
		return
	}
	m.SyncPushesTotal.WithLabelValues(stream).Inc()
	if visible >= 0 {
		m.VisibleTasks.Observe(float64(visible))
	}
}

// SyncError records a subscription error
func (m *Metrics) SyncError(stream string) {
	if m == nil {
		return
	}
	m.SyncErrorsTotal.WithLabelValues(stream).Inc()
}

// SyncState records a state transition
func (m *Metrics) SyncState(state string) {
	if m == nil {
		return
	}
	m.SyncStateTransitions.WithLabelValues(state).Inc()
}

// SyncResubscribe records a forced resubscription
func (m *Metrics) SyncResubscribe(reason string) {
	if m == nil {
		return
	}
	m.SyncResubscribes.WithLabelValues(reason).Inc()
}

// Malformed records records dropped during normalization
func (m *Metrics) Malformed(collection string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MalformedRecords.WithLabelValues(collection).Add(float64(n))
}

// PermissionDecision records the outcome of a permission check
func (m *Metrics) PermissionDecision(action, role string, allowed bool) {
	if m == nil {
		return
	}
	m.PermissionDecisions.WithLabelValues(action, role, strconv.FormatBool(allowed)).Inc()
}

// IDAllocationRetry records a collided id reservation
func (m *Metrics) IDAllocationRetry() {
	if m == nil {
		return
	}
	m.IDAllocationRetries.Inc()
}

// IDAllocation records the outcome of an id allocation
func (m *Metrics) IDAllocation(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.IDAllocationsTotal.WithLabelValues(status).Inc()
}

// ActivityAppended records an appended activity entry
func (m *Metrics) ActivityAppended(action string) {
	if m == nil {
		return
	}
	m.ActivityAppends.WithLabelValues(action).Inc()
}

// OverdueSweep records one sweep run and how many tasks it marked
func (m *Metrics) OverdueSweep(marked int, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OverdueSweeps.WithLabelValues(status).Inc()
	m.OverdueMarked.Add(float64(marked))
}

// WebsocketConnected adjusts the connected client gauge by delta
func (m *Metrics) WebsocketConnected(delta int) {
	if m == nil {
		return
	}
	m.WebsocketClients.Add(float64(delta))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// Hijack lets websocket upgrades pass through the instrumented writer
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// routeLabel returns the mux route template so label cardinality stays bounded
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status and size
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler returns the /metrics handler for a registry
func MetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
