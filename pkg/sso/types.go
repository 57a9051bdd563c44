package sso

import (
	"strings"
	"time"
)

// ProvisionPolicy is a tenant's rule for letting first-time identities join
type ProvisionPolicy string

const (
	PolicyDisabled        ProvisionPolicy = "DISABLED"
	PolicyInviteOnly      ProvisionPolicy = "INVITE_ONLY"
	PolicyDomainAllowlist ProvisionPolicy = "DOMAIN_ALLOWLIST"
)

// ProviderConfig represents an OIDC provider configuration, either global
// (TenantID nil) or scoped to a single tenant
type ProviderConfig struct {
	ID                      int64           `json:"id" yaml:"id"`
	TenantID                *int64          `json:"tenant_id,omitempty" yaml:"tenant_id,omitempty"`
	ProviderKey             string          `json:"provider_key" yaml:"provider_key" validate:"required,provider_key"`
	IssuerURL               string          `json:"issuer_url" yaml:"issuer_url" validate:"required,url"`
	DiscoveryURL            string          `json:"discovery_url,omitempty" yaml:"discovery_url,omitempty" validate:"omitempty,url"`
	ClientID                string          `json:"client_id" yaml:"client_id" validate:"required"`
	ClientSecret            string          `json:"-" yaml:"client_secret,omitempty"` // Never expose secret in JSON
	Scopes                  []string        `json:"scopes" yaml:"scopes"`
	TokenEndpointAuthMethod AuthMethod      `json:"token_endpoint_auth_method" yaml:"token_endpoint_auth_method" validate:"required,oneof=client_secret_basic client_secret_post none"`
	PKCERequired            bool            `json:"pkce_required" yaml:"pkce_required"`
	AllowedIDTokenAlgs      []string        `json:"allowed_id_token_algs,omitempty" yaml:"allowed_id_token_algs,omitempty"`
	AutoProvisionPolicy     ProvisionPolicy `json:"auto_provision_policy" yaml:"auto_provision_policy" validate:"required,oneof=DISABLED INVITE_ONLY DOMAIN_ALLOWLIST"`
	AllowedDomains          []string        `json:"allowed_domains,omitempty" yaml:"allowed_domains,omitempty"`
	DefaultRole             string          `json:"default_role" yaml:"default_role"`
	Enabled                 bool            `json:"enabled" yaml:"enabled"`
	CreatedAt               time.Time       `json:"created_at" yaml:"-"`
	UpdatedAt               time.Time       `json:"updated_at" yaml:"-"`
}

// IsGlobal reports whether the config applies to every tenant
func (c *ProviderConfig) IsGlobal() bool {
	return c.TenantID == nil
}

// AttemptState is the single-use record written by Start and consumed by Complete
type AttemptState struct {
	AttemptID    string   `json:"attempt_id"`
	TenantID     int64    `json:"tenant_id"`
	ProviderKey  string   `json:"provider_key"`
	Nonce        string   `json:"nonce"`
	PKCEVerifier string   `json:"pkce_verifier,omitempty"`
	RedirectURI  string   `json:"redirect_uri"`
	Scopes       []string `json:"scopes"`
}

// DiscoveryDocument is a validated snapshot of a provider's OIDC metadata
type DiscoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported,omitempty"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported,omitempty"`
}

// TokenResponse holds the result of an authorization-code exchange
type TokenResponse struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
}

// VerifiedClaims are the decoded claims of a verified ID token. Optional
// profile fields are nil when the token did not carry them.
type VerifiedClaims struct {
	Subject       string
	Issuer        string
	Audience      []string
	IssuedAt      time.Time
	Expiry        time.Time
	Nonce         string
	Email         string
	EmailVerified bool
	Name          *string
	GivenName     *string
	FamilyName    *string
	Picture       *string
	Locale        *string
}

// Profile returns the profile fields present in the claims
func (c *VerifiedClaims) Profile() ProfilePatch {
	return ProfilePatch{
		Name:       c.Name,
		GivenName:  c.GivenName,
		FamilyName: c.FamilyName,
		Picture:    c.Picture,
		Locale:     c.Locale,
	}
}

// ProfilePatch carries the profile fields to update; nil fields are left alone
type ProfilePatch struct {
	Name       *string `json:"name,omitempty"`
	GivenName  *string `json:"given_name,omitempty"`
	FamilyName *string `json:"family_name,omitempty"`
	Picture    *string `json:"picture,omitempty"`
	Locale     *string `json:"locale,omitempty"`
}

// IsEmpty reports whether the patch changes nothing
func (p ProfilePatch) IsEmpty() bool {
	return p.Name == nil && p.GivenName == nil && p.FamilyName == nil && p.Picture == nil && p.Locale == nil
}

// Tenant represents a tenant that users sign in to
type Tenant struct {
	ID   int64  `json:"id"`
	Slug string `json:"slug"`
	Name string `json:"name"`
}

// User represents a local user account
type User struct {
	ID            int64     `json:"id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	DisplayName   string    `json:"display_name,omitempty"`
	GivenName     string    `json:"given_name,omitempty"`
	FamilyName    string    `json:"family_name,omitempty"`
	Picture       string    `json:"picture,omitempty"`
	Locale        string    `json:"locale,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NewUser describes a user to be created
type NewUser struct {
	Email         string
	EmailVerified bool
	DisplayName   string
}

// UserIdentity links a (provider_key, issuer, subject) triple to a user
type UserIdentity struct {
	ID            int64        `json:"id"`
	UserID        int64        `json:"user_id"`
	ProviderKey   string       `json:"provider_key"`
	Issuer        string       `json:"issuer"`
	Subject       string       `json:"subject"`
	Email         string       `json:"email,omitempty"`
	EmailVerified bool         `json:"email_verified"`
	Profile       ProfilePatch `json:"profile"`
	LinkedAt      time.Time    `json:"linked_at"`
	LastLoginAt   time.Time    `json:"last_login_at"`
}

// SameSubject reports whether the identity belongs to the given issuer/subject pair
func (i *UserIdentity) SameSubject(issuer, subject string) bool {
	return i.Issuer == issuer && i.Subject == subject
}

// Invite is a pending invitation for an email address to join a tenant
type Invite struct {
	ID         int64      `json:"id"`
	TenantID   int64      `json:"tenant_id"`
	Email      string     `json:"email"`
	Role       string     `json:"role"`
	ExpiresAt  time.Time  `json:"expires_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy *int64     `json:"accepted_by,omitempty"`
}

// Usable reports whether the invite can still be accepted by email at now
func (i *Invite) Usable(now time.Time, email string) bool {
	if i.RevokedAt != nil {
		return false
	}
	if !now.Before(i.ExpiresAt) {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(i.Email), email)
}

// SessionRequest asks the auth issuer for a user session
type SessionRequest struct {
	UserID     int64
	TenantID   int64
	IPAddress  string
	UserAgent  string
	EnforceMFA bool
}

// SessionTokens are the session credentials returned by the auth issuer
type SessionTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// StartRequest is the input to Service.Start
type StartRequest struct {
	ProviderKey string
	TenantID    int64 // zero when the tenant is addressed by slug
	TenantSlug  string
	RedirectURI string
	LoginHint   string
}

// StartResult is returned by Service.Start
type StartResult struct {
	AuthorizeURL string `json:"authorize_url"`
	State        string `json:"state"`
}

// CompleteRequest is the input to Service.Complete
type CompleteRequest struct {
	ProviderKey string
	Code        string
	State       string
	IPAddress   string
	UserAgent   string
}

// NormalizeProviderKey lowercases and trims a provider key
func NormalizeProviderKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// NormalizeEmail lowercases and trims an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
