package sso

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *ProviderConfig {
	return oktaConfig("https://acme.okta.com")
}

func TestProviderConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *ProviderConfig)
		wantErr bool
		reason  Reason
	}{
		{name: "valid", mutate: func(c *ProviderConfig) {}},
		{name: "missing key", mutate: func(c *ProviderConfig) { c.ProviderKey = "" }, wantErr: true},
		{name: "uppercase key", mutate: func(c *ProviderConfig) { c.ProviderKey = "Okta" }, wantErr: true},
		{name: "key with slash", mutate: func(c *ProviderConfig) { c.ProviderKey = "okta/x" }, wantErr: true},
		{name: "bad issuer", mutate: func(c *ProviderConfig) { c.IssuerURL = "not a url" }, wantErr: true},
		{name: "bad discovery url", mutate: func(c *ProviderConfig) { c.DiscoveryURL = "::" }, wantErr: true},
		{name: "missing client id", mutate: func(c *ProviderConfig) { c.ClientID = "" }, wantErr: true},
		{name: "unknown auth method", mutate: func(c *ProviderConfig) { c.TokenEndpointAuthMethod = "private_key_jwt" }, wantErr: true},
		{name: "unknown policy", mutate: func(c *ProviderConfig) { c.AutoProvisionPolicy = "OPEN" }, wantErr: true},
		{
			name:    "allowlist without domains",
			mutate:  func(c *ProviderConfig) { c.AllowedDomains = nil },
			wantErr: true,
		},
		{
			name: "public client with pkce",
			mutate: func(c *ProviderConfig) {
				c.TokenEndpointAuthMethod = AuthMethodNone
				c.ClientSecret = ""
			},
		},
		{
			name: "public client without pkce",
			mutate: func(c *ProviderConfig) {
				c.TokenEndpointAuthMethod = AuthMethodNone
				c.PKCERequired = false
			},
			wantErr: true,
			reason:  ReasonPKCERequiredForPublic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, ReasonOf(err))
			}
		})
	}
}

func TestStaticProviderRepository(t *testing.T) {
	tenantID := acmeTenantID
	global := validConfig()
	tenant := validConfig()
	tenant.TenantID = &tenantID
	tenant.ProviderKey = " OKTA "
	tenant.ClientID = "acme-client"

	repo, err := NewStaticProviderRepository(global, tenant)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.Len())

	ctx := context.Background()
	got, err := repo.GetTenantConfig(ctx, acmeTenantID, "okta")
	require.NoError(t, err)
	assert.Equal(t, "acme-client", got.ClientID)

	got.ClientID = "mutated"
	again, err := repo.GetTenantConfig(ctx, acmeTenantID, "okta")
	require.NoError(t, err)
	assert.Equal(t, "acme-client", again.ClientID)

	got, err = repo.GetGlobalConfig(ctx, "okta")
	require.NoError(t, err)
	assert.Equal(t, testClientID, got.ClientID)

	_, err = repo.GetTenantConfig(ctx, 99, "okta")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = repo.GetGlobalConfig(ctx, "google")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStaticProviderRepository_Rejects(t *testing.T) {
	_, err := NewStaticProviderRepository(validConfig(), validConfig())
	assert.Error(t, err)

	invalid := validConfig()
	invalid.ClientID = ""
	_, err = NewStaticProviderRepository(invalid)
	assert.Error(t, err)

	repo, err := NewStaticProviderRepository()
	require.NoError(t, err)
	assert.Error(t, repo.Add(nil))
}

func TestLayeredProviderRepository(t *testing.T) {
	ctx := context.Background()
	tenantID := acmeTenantID

	fileGlobal := validConfig()
	fileGlobal.ClientID = "from-file"
	file, err := NewStaticProviderRepository(fileGlobal)
	require.NoError(t, err)

	dbTenant := validConfig()
	dbTenant.TenantID = &tenantID
	dbGoogle := validConfig()
	dbGoogle.ProviderKey = "google"
	db, err := NewStaticProviderRepository(dbTenant, dbGoogle)
	require.NoError(t, err)

	layered := &LayeredProviderRepository{Tenant: db, Global: file}

	got, err := layered.GetTenantConfig(ctx, acmeTenantID, "okta")
	require.NoError(t, err)
	require.NotNil(t, got.TenantID)

	got, err = layered.GetGlobalConfig(ctx, "okta")
	require.NoError(t, err)
	assert.Equal(t, "from-file", got.ClientID)

	got, err = layered.GetGlobalConfig(ctx, "google")
	require.NoError(t, err)
	assert.Equal(t, "google", got.ProviderKey)

	_, err = layered.GetGlobalConfig(ctx, "github")
	assert.True(t, errors.Is(err, ErrNotFound))

	empty := &LayeredProviderRepository{}
	_, err = empty.GetTenantConfig(ctx, acmeTenantID, "okta")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = empty.GetGlobalConfig(ctx, "okta")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLayeredProviderRepository_FileTenantEntries(t *testing.T) {
	ctx := context.Background()
	tenantID := acmeTenantID

	global := validConfig()
	disabled := validConfig()
	disabled.TenantID = &tenantID
	disabled.Enabled = false
	file, err := NewStaticProviderRepository(global, disabled)
	require.NoError(t, err)

	db, err := NewStaticProviderRepository()
	require.NoError(t, err)

	layered := &LayeredProviderRepository{Tenant: db, Global: file}

	// the database has no tenant row, so the file's tenant entry answers
	got, err := layered.GetTenantConfig(ctx, acmeTenantID, "okta")
	require.NoError(t, err)
	require.NotNil(t, got.TenantID)
	assert.False(t, got.Enabled)

	// a tenant row in the database shadows the file
	dbTenant := validConfig()
	dbTenant.TenantID = &tenantID
	dbTenant.ClientID = "from-db"
	require.NoError(t, db.Add(dbTenant))

	got, err = layered.GetTenantConfig(ctx, acmeTenantID, "okta")
	require.NoError(t, err)
	assert.Equal(t, "from-db", got.ClientID)
	assert.True(t, got.Enabled)

	_, err = layered.GetTenantConfig(ctx, acmeTenantID+1, "okta")
	assert.True(t, errors.Is(err, ErrNotFound))
}
