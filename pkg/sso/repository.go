package sso

import (
	"context"
)

// ProviderConfigRepository loads provider configs. Both methods return
// ErrNotFound when nothing is stored for the key.
type ProviderConfigRepository interface {
	GetTenantConfig(ctx context.Context, tenantID int64, providerKey string) (*ProviderConfig, error)
	GetGlobalConfig(ctx context.Context, providerKey string) (*ProviderConfig, error)
}

// TenantRepository looks tenants up by id or slug, returning ErrNotFound
type TenantRepository interface {
	GetByID(ctx context.Context, id int64) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
}

// UserRepository manages local users. Create returns ErrAlreadyExists when
// the email is taken.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Create(ctx context.Context, u NewUser) (*User, error)
	MarkEmailVerified(ctx context.Context, userID int64) error
	PatchProfile(ctx context.Context, userID int64, patch ProfilePatch) error
}

// IdentityRepository manages external identities. Upsert returns
// ErrIdentityConflict when the user already holds a different subject under
// the same provider key, or the subject belongs to another user.
type IdentityRepository interface {
	GetBySubject(ctx context.Context, providerKey, issuer, subject string) (*UserIdentity, error)
	GetByUser(ctx context.Context, userID int64, providerKey string) (*UserIdentity, error)
	Upsert(ctx context.Context, identity *UserIdentity) (*UserIdentity, error)
}

// MembershipRepository manages tenant membership. AddMember returns
// ErrAlreadyMember when the membership exists.
type MembershipRepository interface {
	MembershipExists(ctx context.Context, tenantID, userID int64) (bool, error)
	AddMember(ctx context.Context, tenantID, userID int64, role string) error
}

// InviteRepository lists invites that are neither accepted, revoked nor expired
type InviteRepository interface {
	ListActiveInvites(ctx context.Context, tenantID int64, email string) ([]*Invite, error)
}

// InviteAcceptanceService accepts invites. Accepting an invite the user has
// already accepted returns ErrAlreadyMember; an invite that cannot be
// accepted returns ErrInviteInvalid.
type InviteAcceptanceService interface {
	AcceptForExistingUser(ctx context.Context, invite *Invite, user *User) (*User, error)
	AcceptForNewUser(ctx context.Context, invite *Invite, u NewUser) (*User, error)
}

// AuthIssuer issues sessions for authenticated users
type AuthIssuer interface {
	IssueUserSession(ctx context.Context, req SessionRequest) (*SessionTokens, error)
}

// Discoverer fetches discovery documents
type Discoverer interface {
	Fetch(ctx context.Context, issuerURL, discoveryURL string) (*DiscoveryDocument, error)
}

// CodeExchanger redeems authorization codes
type CodeExchanger interface {
	Exchange(ctx context.Context, req ExchangeRequest) (*TokenResponse, error)
}

// IDTokenVerifier verifies ID tokens
type IDTokenVerifier interface {
	Verify(ctx context.Context, req VerifyRequest) (*VerifiedClaims, error)
}

var (
	_ Discoverer      = (*DiscoveryClient)(nil)
	_ CodeExchanger   = (*TokenExchanger)(nil)
	_ IDTokenVerifier = (*TokenVerifier)(nil)
)
