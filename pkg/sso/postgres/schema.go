package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Constraint names the repositories map to domain errors
const (
	constraintUsersEmail             = "users_email_key"
	constraintIdentitiesSubject      = "user_identities_subject_key"
	constraintIdentitiesUserProvider = "user_identities_user_provider_key"
)

// Schema creates every table the repositories use. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id BIGSERIAL PRIMARY KEY,
	slug VARCHAR(128) NOT NULL UNIQUE,
	name VARCHAR(255) NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	email VARCHAR(320) NOT NULL,
	email_verified BOOLEAN NOT NULL DEFAULT FALSE,
	display_name VARCHAR(255) NOT NULL DEFAULT '',
	given_name VARCHAR(255) NOT NULL DEFAULT '',
	family_name VARCHAR(255) NOT NULL DEFAULT '',
	picture TEXT NOT NULL DEFAULT '',
	locale VARCHAR(35) NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS users_email_key ON users (lower(email));

CREATE TABLE IF NOT EXISTS sso_provider_configs (
	id BIGSERIAL PRIMARY KEY,
	tenant_id BIGINT REFERENCES tenants(id) ON DELETE CASCADE,
	provider_key VARCHAR(64) NOT NULL,
	issuer_url TEXT NOT NULL,
	discovery_url TEXT,
	client_id TEXT NOT NULL,
	client_secret TEXT,
	scopes TEXT[] NOT NULL DEFAULT '{}',
	token_endpoint_auth_method VARCHAR(32) NOT NULL DEFAULT 'client_secret_basic',
	pkce_required BOOLEAN NOT NULL DEFAULT TRUE,
	allowed_id_token_algs TEXT[] NOT NULL DEFAULT '{}',
	auto_provision_policy VARCHAR(32) NOT NULL DEFAULT 'DISABLED',
	allowed_domains TEXT[] NOT NULL DEFAULT '{}',
	default_role VARCHAR(64) NOT NULL DEFAULT 'member',
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE UNIQUE INDEX IF NOT EXISTS sso_provider_configs_tenant_key
	ON sso_provider_configs (tenant_id, provider_key) WHERE tenant_id IS NOT NULL;
CREATE UNIQUE INDEX IF NOT EXISTS sso_provider_configs_global_key
	ON sso_provider_configs (provider_key) WHERE tenant_id IS NULL;

CREATE TABLE IF NOT EXISTS user_identities (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	provider_key VARCHAR(64) NOT NULL,
	issuer TEXT NOT NULL,
	subject TEXT NOT NULL,
	email VARCHAR(320) NOT NULL DEFAULT '',
	email_verified BOOLEAN NOT NULL DEFAULT FALSE,
	profile JSONB NOT NULL DEFAULT '{}',
	linked_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_login_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT user_identities_subject_key UNIQUE (provider_key, issuer, subject),
	CONSTRAINT user_identities_user_provider_key UNIQUE (user_id, provider_key)
);

CREATE TABLE IF NOT EXISTS tenant_members (
	id BIGSERIAL PRIMARY KEY,
	tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	role VARCHAR(64) NOT NULL,
	joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (tenant_id, user_id)
);

CREATE TABLE IF NOT EXISTS tenant_invites (
	id BIGSERIAL PRIMARY KEY,
	tenant_id BIGINT NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	email VARCHAR(320) NOT NULL,
	role VARCHAR(64) NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	revoked_at TIMESTAMPTZ,
	accepted_at TIMESTAMPTZ,
	accepted_by BIGINT REFERENCES users(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS tenant_invites_lookup ON tenant_invites (tenant_id, lower(email));
`

// Migrate applies Schema
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}
