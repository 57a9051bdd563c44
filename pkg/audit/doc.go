// Package audit records SSO security events.
//
// # Event Types
//
//	sso.start        authorize URL issued or start rejected
//	sso.callback     callback completed or rejected, with reason
//	sso.provisioned  a first-time identity joined a tenant under a policy
//	sso.linked       an external identity was linked or refreshed
//
// Events never carry authorization codes, state tokens, nonces, PKCE
// verifiers, ID/access/refresh tokens or client secrets. Every sink calls
// AuditEvent.Sanitize before writing.
//
// # Sinks
//
//   - FileLogger: JSON lines with size-based rotation
//   - DBLogger: PostgreSQL table sso_audit_events, with Search
//   - SlogLogger: structured log output
//   - MultiLogger: fan-out to several sinks
//
// # Usage Example
//
//	logger := audit.NewMultiLogger(fileLogger, audit.NewSlogLogger(nil))
//	event := audit.NewEvent(audit.EventTypeSSOCallback, audit.EventStatusFailure)
//	event.Reason = "nonce_mismatch"
//	event.ProviderKey = "okta"
//	_ = logger.Log(ctx, event)
package audit
