package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/platinummonkey/spoke-sso/pkg/sso"
)

// ProviderRepository loads provider configs from sso_provider_configs
type ProviderRepository struct {
	db *sql.DB
}

// NewProviderRepository creates a new provider repository
func NewProviderRepository(db *sql.DB) *ProviderRepository {
	return &ProviderRepository{db: db}
}

const providerColumns = `id, tenant_id, provider_key, issuer_url, discovery_url, client_id, client_secret,
	scopes, token_endpoint_auth_method, pkce_required, allowed_id_token_algs,
	auto_provision_policy, allowed_domains, default_role, enabled, created_at, updated_at`

// GetTenantConfig returns the config stored for the tenant and provider key
func (r *ProviderRepository) GetTenantConfig(ctx context.Context, tenantID int64, providerKey string) (*sso.ProviderConfig, error) {
	query := `SELECT ` + providerColumns + `
		FROM sso_provider_configs
		WHERE tenant_id = $1 AND provider_key = $2`

	return r.scan(r.db.QueryRowContext(ctx, query, tenantID, providerKey))
}

// GetGlobalConfig returns the config shared by every tenant for the provider key
func (r *ProviderRepository) GetGlobalConfig(ctx context.Context, providerKey string) (*sso.ProviderConfig, error) {
	query := `SELECT ` + providerColumns + `
		FROM sso_provider_configs
		WHERE tenant_id IS NULL AND provider_key = $1`

	return r.scan(r.db.QueryRowContext(ctx, query, providerKey))
}

// Save inserts or updates a provider config, keyed by tenant and provider key
func (r *ProviderRepository) Save(ctx context.Context, cfg *sso.ProviderConfig) error {
	conflict := `(tenant_id, provider_key) WHERE tenant_id IS NOT NULL`
	if cfg.IsGlobal() {
		conflict = `(provider_key) WHERE tenant_id IS NULL`
	}

	query := `
		INSERT INTO sso_provider_configs (
			tenant_id, provider_key, issuer_url, discovery_url, client_id, client_secret,
			scopes, token_endpoint_auth_method, pkce_required, allowed_id_token_algs,
			auto_provision_policy, allowed_domains, default_role, enabled
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT ` + conflict + ` DO UPDATE SET
			issuer_url = EXCLUDED.issuer_url,
			discovery_url = EXCLUDED.discovery_url,
			client_id = EXCLUDED.client_id,
			client_secret = EXCLUDED.client_secret,
			scopes = EXCLUDED.scopes,
			token_endpoint_auth_method = EXCLUDED.token_endpoint_auth_method,
			pkce_required = EXCLUDED.pkce_required,
			allowed_id_token_algs = EXCLUDED.allowed_id_token_algs,
			auto_provision_policy = EXCLUDED.auto_provision_policy,
			allowed_domains = EXCLUDED.allowed_domains,
			default_role = EXCLUDED.default_role,
			enabled = EXCLUDED.enabled,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	var tenantID sql.NullInt64
	if cfg.TenantID != nil {
		tenantID = sql.NullInt64{Int64: *cfg.TenantID, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, query,
		tenantID,
		cfg.ProviderKey,
		cfg.IssuerURL,
		nullString(cfg.DiscoveryURL),
		cfg.ClientID,
		nullString(cfg.ClientSecret),
		pq.Array(cfg.Scopes),
		string(cfg.TokenEndpointAuthMethod),
		cfg.PKCERequired,
		pq.Array(cfg.AllowedIDTokenAlgs),
		string(cfg.AutoProvisionPolicy),
		pq.Array(cfg.AllowedDomains),
		cfg.DefaultRole,
		cfg.Enabled,
	).Scan(&cfg.ID, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save provider config: %w", err)
	}
	return nil
}

func (r *ProviderRepository) scan(row *sql.Row) (*sso.ProviderConfig, error) {
	var cfg sso.ProviderConfig
	var tenantID sql.NullInt64
	var discoveryURL, clientSecret sql.NullString
	var authMethod, policy string

	err := row.Scan(
		&cfg.ID,
		&tenantID,
		&cfg.ProviderKey,
		&cfg.IssuerURL,
		&discoveryURL,
		&cfg.ClientID,
		&clientSecret,
		pq.Array(&cfg.Scopes),
		&authMethod,
		&cfg.PKCERequired,
		pq.Array(&cfg.AllowedIDTokenAlgs),
		&policy,
		pq.Array(&cfg.AllowedDomains),
		&cfg.DefaultRole,
		&cfg.Enabled,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sso.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get provider config: %w", err)
	}

	if tenantID.Valid {
		cfg.TenantID = &tenantID.Int64
	}
	cfg.DiscoveryURL = discoveryURL.String
	cfg.ClientSecret = clientSecret.String
	cfg.TokenEndpointAuthMethod = sso.AuthMethod(authMethod)
	cfg.AutoProvisionPolicy = sso.ProvisionPolicy(policy)

	return &cfg, nil
}
