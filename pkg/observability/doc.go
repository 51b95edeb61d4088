// Package observability provides structured logging, Prometheus metrics,
// health probes and OpenTelemetry setup shared by every tasktrax component.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("task_id", "T-007").Info("task created")
//
// Request scoped logging picks up the request and user ids placed in the
// context by the API middleware:
//
//	observability.FromContext(ctx).Warn("permission denied")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.PermissionDecision("Delete Tasks", "member", false)
//
// All helper methods tolerate a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version)
//	checker.Require("store", store)
//	checker.Optional("audit_db", observability.PingFunc(db.PingContext))
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "tasktraxd",
//	}, logger)
//	defer providers.Shutdown(ctx)
package observability
