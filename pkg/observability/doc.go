// Package observability provides structured logging, Prometheus metrics, health checks and
// OpenTelemetry setup for the fieldnote binaries.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("allocation_id", id).Info("Survey reminder sent")
//
// The level of a logger and of every logger derived from it can be changed at runtime
// with SetLevel; the config watcher uses this to apply a reloaded log level.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.SchedulerRunsTotal.WithLabelValues("ok").Inc()
//	http.Handle("/metrics", observability.Handler(registry))
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.AddCheck("push_job", pushJobCheck, false)
//	observability.RegisterHealthRoutes(router, checker)
//
// Postgres is required; redis only backs the grant cache, so a redis outage reports
// "degraded" rather than "unhealthy". AddCheck registers further checks, critical or not.
//
// # Graceful Shutdown
//
//	shutdown := observability.NewShutdownManager(logger, server, 30*time.Second)
//	shutdown.Register("connections", func(context.Context) error { return db.Close() })
//	return shutdown.WaitForShutdown(ctx)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "fieldnote-scheduler",
//	}, logger)
//	defer providers.Shutdown(ctx)
package observability
