// Package observability provides logging, metrics, health checks, and shutdown
// handling for the LabControl platform.
//
// # Overview
//
// This package centralizes the operational surface of the service: a
// structured JSON logger built on slog, Prometheus metrics for HTTP traffic
// and policy decisions, liveness/readiness probes over PostgreSQL and the
// Redis counter store, panic recovery helpers, and graceful shutdown.
//
// # Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("tenant_id", tenantID).Info("study created")
//
// Handlers pull a request-scoped logger (request ID, tenant) from context:
//
//	log := observability.FromContext(r.Context())
//
// # Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//
// Policy decisions, rate limit rejections, and token lifecycle outcomes are
// all counted so denials are visible without logging principal data.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	mux.HandleFunc("/health/live", checker.Liveness)
//	mux.HandleFunc("/health/ready", checker.Readiness)
//
// The counter store is treated as a hard dependency: rate limiting and token
// verification fail closed without it, so readiness reports unhealthy when
// Redis is unreachable.
package observability
