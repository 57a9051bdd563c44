package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/platinummonkey/spoke-sso/pkg/sso"
)

// MembershipRepository manages rows in the tenant_members table
type MembershipRepository struct {
	db *sql.DB
}

// NewMembershipRepository creates a new membership repository
func NewMembershipRepository(db *sql.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// execer is satisfied by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// MembershipExists reports whether the user is a member of the tenant
func (r *MembershipRepository) MembershipExists(ctx context.Context, tenantID, userID int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM tenant_members WHERE tenant_id = $1 AND user_id = $2)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, tenantID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return exists, nil
}

// AddMember adds the user to the tenant, returning sso.ErrAlreadyMember when
// the membership already exists
func (r *MembershipRepository) AddMember(ctx context.Context, tenantID, userID int64, role string) error {
	return addMember(ctx, r.db, tenantID, userID, role)
}

func addMember(ctx context.Context, e execer, tenantID, userID int64, role string) error {
	query := `
		INSERT INTO tenant_members (tenant_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, user_id) DO NOTHING
	`
	result, err := e.ExecContext(ctx, query, tenantID, userID, role)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return sso.ErrAlreadyMember
	}
	return nil
}
