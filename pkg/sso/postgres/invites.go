package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/spoke-sso/pkg/sso"
)

// InviteRepository lists and accepts rows in the tenant_invites table. It
// implements both sso.InviteRepository and sso.InviteAcceptanceService.
type InviteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewInviteRepository creates a new invite repository
func NewInviteRepository(db *sql.DB) *InviteRepository {
	return &InviteRepository{db: db, now: time.Now}
}

const inviteColumns = `id, tenant_id, email, role, expires_at, revoked_at, accepted_at, accepted_by`

// ListActiveInvites returns the tenant's unaccepted, unrevoked, unexpired
// invites for email, newest first
func (r *InviteRepository) ListActiveInvites(ctx context.Context, tenantID int64, email string) ([]*sso.Invite, error) {
	query := `SELECT ` + inviteColumns + `
		FROM tenant_invites
		WHERE tenant_id = $1
			AND lower(email) = lower($2)
			AND accepted_at IS NULL
			AND revoked_at IS NULL
			AND expires_at > $3
		ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, tenantID, sso.NormalizeEmail(email), r.now())
	if err != nil {
		return nil, fmt.Errorf("failed to list invites: %w", err)
	}
	defer rows.Close()

	invites := make([]*sso.Invite, 0)
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invite: %w", err)
		}
		invites = append(invites, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate invites: %w", err)
	}

	return invites, nil
}

// AcceptForExistingUser adds the user to the invite's tenant and marks the
// invite accepted. An invite the same user already accepted returns
// sso.ErrAlreadyMember without changes.
func (r *InviteRepository) AcceptForExistingUser(ctx context.Context, invite *sso.Invite, user *sso.User) (*sso.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	locked, err := lockInvite(ctx, tx, invite.ID)
	if err != nil {
		return nil, err
	}

	if locked.AcceptedAt != nil {
		if locked.AcceptedBy != nil && *locked.AcceptedBy == user.ID {
			return nil, sso.ErrAlreadyMember
		}
		return nil, sso.ErrInviteInvalid
	}
	if !locked.Usable(r.now(), sso.NormalizeEmail(user.Email)) {
		return nil, sso.ErrInviteInvalid
	}

	if err := r.accept(ctx, tx, locked, user.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invite acceptance: %w", err)
	}
	return user, nil
}

// AcceptForNewUser creates the user, adds them to the invite's tenant and
// marks the invite accepted in one transaction. It returns
// sso.ErrAlreadyExists when a user with the email exists.
func (r *InviteRepository) AcceptForNewUser(ctx context.Context, invite *sso.Invite, u sso.NewUser) (*sso.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	locked, err := lockInvite(ctx, tx, invite.ID)
	if err != nil {
		return nil, err
	}

	email := sso.NormalizeEmail(u.Email)
	if locked.AcceptedAt != nil {
		// Accepted by a concurrent callback that created the user
		if _, err := getUserByEmail(ctx, tx, email); err == nil {
			return nil, sso.ErrAlreadyExists
		}
		return nil, sso.ErrInviteInvalid
	}
	if !locked.Usable(r.now(), email) {
		return nil, sso.ErrInviteInvalid
	}

	user, err := createUser(ctx, tx, u)
	if err != nil {
		return nil, err
	}

	if err := r.accept(ctx, tx, locked, user.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invite acceptance: %w", err)
	}
	return user, nil
}

func (r *InviteRepository) accept(ctx context.Context, tx *sql.Tx, invite *sso.Invite, userID int64) error {
	err := addMember(ctx, tx, invite.TenantID, userID, invite.Role)
	if err != nil && !errors.Is(err, sso.ErrAlreadyMember) {
		return err
	}

	query := `UPDATE tenant_invites SET accepted_at = $1, accepted_by = $2 WHERE id = $3`
	if _, err := tx.ExecContext(ctx, query, r.now(), userID, invite.ID); err != nil {
		return fmt.Errorf("failed to update invite: %w", err)
	}
	return nil
}

func lockInvite(ctx context.Context, tx *sql.Tx, id int64) (*sso.Invite, error) {
	query := `SELECT ` + inviteColumns + ` FROM tenant_invites WHERE id = $1 FOR UPDATE`

	inv, err := scanInvite(tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sso.ErrInviteInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invite: %w", err)
	}
	return inv, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanInvite(s scanner) (*sso.Invite, error) {
	var inv sso.Invite
	var revokedAt, acceptedAt sql.NullTime
	var acceptedBy sql.NullInt64

	err := s.Scan(
		&inv.ID,
		&inv.TenantID,
		&inv.Email,
		&inv.Role,
		&inv.ExpiresAt,
		&revokedAt,
		&acceptedAt,
		&acceptedBy,
	)
	if err != nil {
		return nil, err
	}

	if revokedAt.Valid {
		inv.RevokedAt = &revokedAt.Time
	}
	if acceptedAt.Valid {
		inv.AcceptedAt = &acceptedAt.Time
	}
	if acceptedBy.Valid {
		inv.AcceptedBy = &acceptedBy.Int64
	}
	return &inv, nil
}
