// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings, and reads provider configs from YAML.
//
// # Configuration Structure
//
// SSO settings:
//
//	SSO_PUBLIC_BASE_URL="https://app.example.com"  # required
//	SSO_STATE_TTL="10m"
//	SSO_HTTP_TIMEOUT="5s"
//	SSO_CLOCK_SKEW="60s"
//	SSO_PROVIDERS_FILE="/etc/sso/providers.yaml"
//
// State store settings:
//
//	SSO_STATE_BACKEND="redis"  # redis, memory
//	SSO_REDIS_URL="redis://localhost:6379"
//	SSO_REDIS_POOL_SIZE="10"
//	SSO_STATE_MEMORY_SIZE="10000"
//
// Database settings:
//
//	SSO_POSTGRES_URL="postgres://localhost/sso"  # required
//	SSO_POSTGRES_MAX_CONNS="20"
//	SSO_POSTGRES_TIMEOUT="5s"
//
// Audit settings:
//
//	SSO_AUDIT_FILE="/var/log/sso/audit.log"
//	SSO_AUDIT_DATABASE="true"
//
// Observability settings:
//
//	SSO_HEALTH_PORT="9090"
//	SSO_LOG_LEVEL="info"  # debug, info, warn, error
//	SSO_METRICS_ENABLED="true"
//	SSO_OTEL_ENABLED="true"
//	SSO_OTEL_ENDPOINT="otel-collector:4317"
//
// # Providers File
//
//	providers:
//	  - provider_key: okta
//	    issuer_url: https://acme.okta.com
//	    client_id: spoke
//	    client_secret: ${OKTA_CLIENT_SECRET}
//	    scopes: [email, profile]
//	    token_endpoint_auth_method: client_secret_basic
//	    pkce_required: true
//	    auto_provision_policy: DOMAIN_ALLOWLIST
//	    allowed_domains: [acme.com]
//	    default_role: member
//	    enabled: true
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	providers, err := config.LoadProvidersFile(cfg.SSO.ProvidersFile)
//
// # Related Packages
//
//   - pkg/app: Builds the SSO service from this configuration
//   - pkg/sso: Provider config model and validation
package config
