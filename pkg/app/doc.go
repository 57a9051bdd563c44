// Package app assembles the SSO service from configuration.
//
// # Overview
//
// New opens the Postgres pool, connects the configured state store, builds
// the audit sinks and metrics recorders, and hands them to sso.NewService.
// The host application supplies the sso.AuthIssuer that mints sessions.
//
// Provider configs come from two places: the sso_provider_configs table and
// the YAML file named by SSO_PROVIDERS_FILE. The table wins for tenant
// lookups and the file wins for global ones. A tenant entry with
// enabled: false in either place disables the provider for that tenant.
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	a, err := app.New(ctx, cfg, sessions)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer a.Close()
//
//	go a.ServeOps(ctx) // /health, /health/live, /health/ready, /metrics
//
//	res, err := a.Service.Start(ctx, sso.StartRequest{ProviderKey: "okta", TenantSlug: "acme"})
//
// # Related Packages
//
//   - pkg/config: Environment and providers file loading
//   - pkg/sso: The orchestrator
//   - pkg/observability: Logging, metrics, tracing and health checks
package app
