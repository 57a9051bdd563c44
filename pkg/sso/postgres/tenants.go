package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/spoke-sso/pkg/sso"
)

// TenantRepository looks tenants up in the tenants table
type TenantRepository struct {
	db *sql.DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *sql.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// GetByID returns the tenant with the given id
func (r *TenantRepository) GetByID(ctx context.Context, id int64) (*sso.Tenant, error) {
	query := `SELECT id, slug, name FROM tenants WHERE id = $1`
	return scanTenant(r.db.QueryRowContext(ctx, query, id))
}

// GetBySlug returns the tenant with the given slug
func (r *TenantRepository) GetBySlug(ctx context.Context, slug string) (*sso.Tenant, error) {
	query := `SELECT id, slug, name FROM tenants WHERE slug = $1`
	return scanTenant(r.db.QueryRowContext(ctx, query, slug))
}

func scanTenant(row *sql.Row) (*sso.Tenant, error) {
	var t sso.Tenant
	err := row.Scan(&t.ID, &t.Slug, &t.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sso.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &t, nil
}
