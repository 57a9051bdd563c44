// Package postgres implements the SSO repositories on PostgreSQL
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/platinummonkey/spoke-sso/pkg/sso"
)

var (
	_ sso.ProviderConfigRepository = (*ProviderRepository)(nil)
	_ sso.TenantRepository         = (*TenantRepository)(nil)
	_ sso.UserRepository           = (*UserRepository)(nil)
	_ sso.IdentityRepository       = (*IdentityRepository)(nil)
	_ sso.MembershipRepository     = (*MembershipRepository)(nil)
	_ sso.InviteRepository         = (*InviteRepository)(nil)
	_ sso.InviteAcceptanceService  = (*InviteRepository)(nil)
)

// Config holds database connection configuration
type Config struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// Open opens a connection pool and verifies it with a ping
func Open(ctx context.Context, config Config) (*sql.DB, error) {
	if config.URL == "" {
		return nil, errors.New("database URL is required")
	}

	db, err := sql.Open("postgres", config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxConns > 0 {
		db.SetMaxOpenConns(config.MaxConns)
	}
	if config.MinConns > 0 {
		db.SetMaxIdleConns(config.MinConns)
	}
	db.SetConnMaxLifetime(config.MaxLifetime)
	db.SetConnMaxIdleTime(config.MaxIdleTime)

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

const uniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique constraint violation,
// optionally on the named constraint
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
