// Package sso implements tenant-aware OpenID Connect single sign-on.
//
// # Overview
//
// A login runs in two calls. Service.Start resolves the tenant and provider,
// stores single-use attempt state (nonce, PKCE verifier, redirect URI) under
// a random state token and returns the provider's authorize URL.
// Service.Complete consumes that state, redeems the authorization code,
// verifies the ID token, resolves or provisions the local user and asks the
// AuthIssuer for a session.
//
// # Usage Example
//
//	svc, err := sso.NewService(sso.Config{
//		PublicBaseURL: "https://app.example.com",
//	}, sso.Dependencies{
//		Providers:  providers,
//		Tenants:    tenants,
//		Users:      users,
//		Identities: identities,
//		Members:    members,
//		Invites:    invites,
//		Acceptance: invites,
//		Issuer:     issuer,
//		States:     statestore.NewMemoryStore(0, 0),
//	})
//
//	start, err := svc.Start(ctx, sso.StartRequest{ProviderKey: "okta", TenantSlug: "acme"})
//	// redirect the browser to start.AuthorizeURL
//
//	tokens, err := svc.Complete(ctx, sso.CompleteRequest{
//		ProviderKey: "okta",
//		Code:        r.URL.Query().Get("code"),
//		State:       r.URL.Query().Get("state"),
//	})
//
// # Signing Algorithms
//
// ID tokens are only accepted when signed with an asymmetric algorithm from
// SafeIDTokenAlgs that is also in the provider's resolved allow-list (see
// ResolveAllowedAlgs). A provider that advertises no algorithms and has none
// configured is limited to RS256.
//
// # Provisioning Policies
//
// DISABLED: only existing tenant members may sign in
// INVITE_ONLY: first-time users need an active invite for their verified email
// DOMAIN_ALLOWLIST: verified emails in an allowed domain (or subdomain) join with the default role
//
// # Errors
//
// Start and Complete return *Error carrying a Kind and a machine-readable
// Reason; use ReasonOf and KindOf. Errors from the AuthIssuer are returned
// unchanged.
package sso
