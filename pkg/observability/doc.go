// Package observability provides structured logging, Prometheus and
// OpenTelemetry metrics, tracing bootstrap and health checks for the SSO core.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("provider", "okta").Info("sso attempt completed")
//
// Fields named after credentials (code, state, nonce, code_verifier,
// id_token, access_token, refresh_token, client_secret) are always written as
// [REDACTED].
//
// # Metrics
//
// Metrics (Prometheus) and OTelMetrics both implement Recorder; combine them
// with Recorders.
//
//	registry := prometheus.NewRegistry()
//	recorder := observability.Recorders{observability.NewMetrics(registry)}
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, stateStore, version)
//	status := checker.Check(ctx)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "sso",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
