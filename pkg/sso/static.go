package sso

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type staticKey struct {
	tenantID int64
	global   bool
	provider string
}

// StaticProviderRepository holds provider configs in memory, typically loaded
// from a file at startup. It is safe for concurrent use.
type StaticProviderRepository struct {
	mu      sync.RWMutex
	configs map[staticKey]*ProviderConfig
}

// NewStaticProviderRepository creates a repository holding configs. Every
// config is validated; duplicates for the same tenant and key are rejected.
func NewStaticProviderRepository(configs ...*ProviderConfig) (*StaticProviderRepository, error) {
	r := &StaticProviderRepository{configs: make(map[staticKey]*ProviderConfig)}
	for _, cfg := range configs {
		if err := r.Add(cfg); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func keyFor(cfg *ProviderConfig) staticKey {
	if cfg.TenantID == nil {
		return staticKey{global: true, provider: cfg.ProviderKey}
	}
	return staticKey{tenantID: *cfg.TenantID, provider: cfg.ProviderKey}
}

// Add validates and stores a config
func (r *StaticProviderRepository) Add(cfg *ProviderConfig) error {
	if cfg == nil {
		return errors.New("provider config is nil")
	}
	cfg.ProviderKey = NormalizeProviderKey(cfg.ProviderKey)
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := keyFor(cfg)
	if _, exists := r.configs[key]; exists {
		return fmt.Errorf("duplicate provider config %q", cfg.ProviderKey)
	}
	r.configs[key] = cfg
	return nil
}

// GetTenantConfig returns the config stored for the tenant and provider key
func (r *StaticProviderRepository) GetTenantConfig(ctx context.Context, tenantID int64, providerKey string) (*ProviderConfig, error) {
	return r.get(staticKey{tenantID: tenantID, provider: providerKey})
}

// GetGlobalConfig returns the global config for the provider key
func (r *StaticProviderRepository) GetGlobalConfig(ctx context.Context, providerKey string) (*ProviderConfig, error) {
	return r.get(staticKey{global: true, provider: providerKey})
}

func (r *StaticProviderRepository) get(key staticKey) (*ProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.configs[key]
	if !ok {
		return nil, ErrNotFound
	}
	// Callers get a copy so the stored snapshot stays immutable
	clone := *cfg
	return &clone, nil
}

// Len returns the number of configs held
func (r *StaticProviderRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.configs)
}

// LayeredProviderRepository reads tenant configs from Tenant and global
// configs from Global, falling back to the other source when the first has
// nothing stored. Either may be nil.
type LayeredProviderRepository struct {
	Tenant ProviderConfigRepository
	Global ProviderConfigRepository
}

// GetTenantConfig asks the tenant source, then the global source. Any result
// other than ErrNotFound wins, so a disabled tenant entry in either source
// shadows the global config.
func (l *LayeredProviderRepository) GetTenantConfig(ctx context.Context, tenantID int64, providerKey string) (*ProviderConfig, error) {
	if l.Tenant != nil {
		cfg, err := l.Tenant.GetTenantConfig(ctx, tenantID, providerKey)
		if !errors.Is(err, ErrNotFound) {
			return cfg, err
		}
	}
	if l.Global == nil {
		return nil, ErrNotFound
	}
	return l.Global.GetTenantConfig(ctx, tenantID, providerKey)
}

// GetGlobalConfig asks the global source, then the tenant source
func (l *LayeredProviderRepository) GetGlobalConfig(ctx context.Context, providerKey string) (*ProviderConfig, error) {
	if l.Global != nil {
		cfg, err := l.Global.GetGlobalConfig(ctx, providerKey)
		if !errors.Is(err, ErrNotFound) {
			return cfg, err
		}
	}
	if l.Tenant == nil {
		return nil, ErrNotFound
	}
	return l.Tenant.GetGlobalConfig(ctx, providerKey)
}

var (
	_ ProviderConfigRepository = (*StaticProviderRepository)(nil)
	_ ProviderConfigRepository = (*LayeredProviderRepository)(nil)
)
