package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/platinummonkey/spoke-sso/pkg/sso"
)

// UserRepository manages rows in the users table
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, email_verified, display_name, given_name, family_name, picture, locale, created_at, updated_at`

// queryRower is satisfied by *sql.DB and *sql.Tx
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// GetByID returns the user with the given id
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*sso.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

// GetByEmail returns the user with the given email, compared case-insensitively
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*sso.User, error) {
	return getUserByEmail(ctx, r.db, email)
}

// Create inserts a user, returning sso.ErrAlreadyExists when the email is taken
func (r *UserRepository) Create(ctx context.Context, u sso.NewUser) (*sso.User, error) {
	return createUser(ctx, r.db, u)
}

// MarkEmailVerified sets email_verified on the user
func (r *UserRepository) MarkEmailVerified(ctx context.Context, userID int64) error {
	query := `UPDATE users SET email_verified = TRUE, updated_at = NOW() WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to mark email verified: %w", err)
	}
	return requireRow(result)
}

// PatchProfile overwrites the profile fields set in patch and leaves the rest
func (r *UserRepository) PatchProfile(ctx context.Context, userID int64, patch sso.ProfilePatch) error {
	if patch.IsEmpty() {
		return nil
	}

	query := `
		UPDATE users SET
			display_name = COALESCE($2, display_name),
			given_name = COALESCE($3, given_name),
			family_name = COALESCE($4, family_name),
			picture = COALESCE($5, picture),
			locale = COALESCE($6, locale),
			updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.db.ExecContext(ctx, query,
		userID,
		optionalString(patch.Name),
		optionalString(patch.GivenName),
		optionalString(patch.FamilyName),
		optionalString(patch.Picture),
		optionalString(patch.Locale),
	)
	if err != nil {
		return fmt.Errorf("failed to patch profile: %w", err)
	}
	return requireRow(result)
}

func getUserByEmail(ctx context.Context, q queryRower, email string) (*sso.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE lower(email) = lower($1)`
	return scanUser(q.QueryRowContext(ctx, query, sso.NormalizeEmail(email)))
}

func createUser(ctx context.Context, q queryRower, u sso.NewUser) (*sso.User, error) {
	query := `
		INSERT INTO users (email, email_verified, display_name)
		VALUES ($1, $2, $3)
		RETURNING ` + userColumns

	user, err := scanUser(q.QueryRowContext(ctx, query, sso.NormalizeEmail(u.Email), u.EmailVerified, u.DisplayName))
	if isUniqueViolation(err, constraintUsersEmail) {
		return nil, sso.ErrAlreadyExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func scanUser(row *sql.Row) (*sso.User, error) {
	var u sso.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.EmailVerified,
		&u.DisplayName,
		&u.GivenName,
		&u.FamilyName,
		&u.Picture,
		&u.Locale,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sso.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// optionalString maps a nil pointer to SQL NULL
func optionalString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return sso.ErrNotFound
	}
	return nil
}
