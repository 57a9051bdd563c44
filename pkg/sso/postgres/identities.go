package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/platinummonkey/spoke-sso/pkg/sso"
)

// IdentityRepository manages rows in the user_identities table
type IdentityRepository struct {
	db *sql.DB
}

// NewIdentityRepository creates a new identity repository
func NewIdentityRepository(db *sql.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

const identityColumns = `id, user_id, provider_key, issuer, subject, email, email_verified, profile, linked_at, last_login_at`

// GetBySubject returns the identity for the (provider_key, issuer, subject) triple
func (r *IdentityRepository) GetBySubject(ctx context.Context, providerKey, issuer, subject string) (*sso.UserIdentity, error) {
	query := `SELECT ` + identityColumns + `
		FROM user_identities
		WHERE provider_key = $1 AND issuer = $2 AND subject = $3`

	identity, err := scanIdentity(r.db.QueryRowContext(ctx, query, providerKey, issuer, subject))
	if err != nil && !errors.Is(err, sso.ErrNotFound) {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return identity, err
}

// GetByUser returns the identity the user holds under the provider key
func (r *IdentityRepository) GetByUser(ctx context.Context, userID int64, providerKey string) (*sso.UserIdentity, error) {
	query := `SELECT ` + identityColumns + `
		FROM user_identities
		WHERE user_id = $1 AND provider_key = $2`

	identity, err := scanIdentity(r.db.QueryRowContext(ctx, query, userID, providerKey))
	if err != nil && !errors.Is(err, sso.ErrNotFound) {
		return nil, fmt.Errorf("failed to get identity: %w", err)
	}
	return identity, err
}

// Upsert links the identity to its user or refreshes the existing link. A
// subject already linked to another user, or a user already linked to a
// different subject under the provider key, returns sso.ErrIdentityConflict.
func (r *IdentityRepository) Upsert(ctx context.Context, identity *sso.UserIdentity) (*sso.UserIdentity, error) {
	profile, err := json.Marshal(identity.Profile)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal profile: %w", err)
	}

	query := `
		INSERT INTO user_identities (user_id, provider_key, issuer, subject, email, email_verified, profile)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT ON CONSTRAINT ` + constraintIdentitiesSubject + ` DO UPDATE SET
			email = EXCLUDED.email,
			email_verified = EXCLUDED.email_verified,
			profile = EXCLUDED.profile,
			last_login_at = NOW()
		WHERE user_identities.user_id = EXCLUDED.user_id
		RETURNING ` + identityColumns

	saved, err := scanIdentity(r.db.QueryRowContext(ctx, query,
		identity.UserID,
		identity.ProviderKey,
		identity.Issuer,
		identity.Subject,
		identity.Email,
		identity.EmailVerified,
		profile,
	))
	switch {
	case err == nil:
		return saved, nil
	case errors.Is(err, sso.ErrNotFound):
		// The conflicting row belongs to another user, so nothing was returned
		return nil, sso.ErrIdentityConflict
	case isUniqueViolation(err, constraintIdentitiesUserProvider):
		return nil, sso.ErrIdentityConflict
	default:
		return nil, fmt.Errorf("failed to upsert identity: %w", err)
	}
}

func scanIdentity(row *sql.Row) (*sso.UserIdentity, error) {
	var i sso.UserIdentity
	var profile []byte

	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.ProviderKey,
		&i.Issuer,
		&i.Subject,
		&i.Email,
		&i.EmailVerified,
		&profile,
		&i.LinkedAt,
		&i.LastLoginAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sso.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if len(profile) > 0 {
		if err := json.Unmarshal(profile, &i.Profile); err != nil {
			return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
		}
	}
	return &i, nil
}
