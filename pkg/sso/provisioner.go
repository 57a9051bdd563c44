package sso

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ProvisionRequest is the input to Provisioner.EnsureMembership. User is nil
// when the identity could not be matched to a local user.
type ProvisionRequest struct {
	User           *User
	TenantID       int64
	Policy         ProvisionPolicy
	AllowedDomains []string
	DefaultRole    string
	Email          string
	EmailVerified  bool
	DisplayName    string
}

// ProvisionResult is returned by Provisioner.EnsureMembership
type ProvisionResult struct {
	User *User
	// Provisioned is true when this call created the tenant membership
	Provisioned bool
}

// Provisioner applies a tenant's auto-provisioning policy
type Provisioner struct {
	users   UserRepository
	members MembershipRepository
	invites InviteRepository
	accept  InviteAcceptanceService
	now     func() time.Time
}

// NewProvisioner creates a new provisioner
func NewProvisioner(users UserRepository, members MembershipRepository, invites InviteRepository, accept InviteAcceptanceService) *Provisioner {
	return &Provisioner{
		users:   users,
		members: members,
		invites: invites,
		accept:  accept,
		now:     time.Now,
	}
}

// EnsureMembership makes sure the identity ends up as a member of the tenant,
// creating the user when policy allows it. Policy denials and failures are
// returned as *ProvisionError.
func (p *Provisioner) EnsureMembership(ctx context.Context, req ProvisionRequest) (*ProvisionResult, error) {
	if req.User != nil {
		member, err := p.members.MembershipExists(ctx, req.TenantID, req.User.ID)
		if err != nil {
			return nil, provisionFailed("checking membership", err)
		}
		if member {
			return &ProvisionResult{User: req.User}, nil
		}
	}

	if req.Policy == PolicyDisabled {
		return nil, &ProvisionError{Reason: ReasonPolicyDisabled}
	}

	email := NormalizeEmail(req.Email)
	if email == "" || !req.EmailVerified {
		return nil, &ProvisionError{Reason: ReasonEmailUnverified}
	}

	switch req.Policy {
	case PolicyInviteOnly:
		return p.acceptInvite(ctx, req, email)
	case PolicyDomainAllowlist:
		return p.joinByDomain(ctx, req, email)
	default:
		return nil, &ProvisionError{Reason: ReasonPolicyUnsupported, Err: fmt.Errorf("policy %q", req.Policy)}
	}
}

func (p *Provisioner) acceptInvite(ctx context.Context, req ProvisionRequest, email string) (*ProvisionResult, error) {
	invites, err := p.invites.ListActiveInvites(ctx, req.TenantID, email)
	if err != nil {
		return nil, provisionFailed("listing invites", err)
	}
	if len(invites) == 0 {
		return nil, &ProvisionError{Reason: ReasonInviteRequired}
	}

	now := p.now()
	user := req.User
	for _, inv := range invites {
		if !inv.Usable(now, email) {
			continue
		}

		var accepted *User
		provisioned := true
		if user != nil {
			accepted, provisioned, err = p.acceptExisting(ctx, inv, user)
		} else {
			accepted, err = p.accept.AcceptForNewUser(ctx, inv, NewUser{
				Email:         email,
				EmailVerified: true,
				DisplayName:   req.DisplayName,
			})
			if errors.Is(err, ErrAlreadyExists) {
				// A concurrent callback created the user first
				user, err = p.users.GetByEmail(ctx, email)
				if err != nil {
					return nil, provisionFailed("loading user", err)
				}
				accepted, provisioned, err = p.acceptExisting(ctx, inv, user)
			}
		}

		switch {
		case err == nil:
			return &ProvisionResult{User: accepted, Provisioned: provisioned}, nil
		case errors.Is(err, ErrInviteInvalid):
			continue
		default:
			return nil, provisionFailed("accepting invite", err)
		}
	}

	return nil, &ProvisionError{Reason: ReasonInviteInvalid}
}

// acceptExisting treats "already a member" as success. The flag is false
// when another callback accepted the invite first.
func (p *Provisioner) acceptExisting(ctx context.Context, inv *Invite, user *User) (*User, bool, error) {
	accepted, err := p.accept.AcceptForExistingUser(ctx, inv, user)
	if errors.Is(err, ErrAlreadyMember) {
		return user, false, nil
	}
	return accepted, err == nil, err
}

func (p *Provisioner) joinByDomain(ctx context.Context, req ProvisionRequest, email string) (*ProvisionResult, error) {
	if !DomainAllowed(email, req.AllowedDomains) {
		return nil, &ProvisionError{Reason: ReasonDomainNotAllowed}
	}

	user := req.User
	if user == nil {
		var err error
		user, err = p.findOrCreateUser(ctx, email, req.DisplayName)
		if err != nil {
			return nil, err
		}
	}

	err := p.members.AddMember(ctx, req.TenantID, user.ID, req.DefaultRole)
	switch {
	case err == nil:
		return &ProvisionResult{User: user, Provisioned: true}, nil
	case errors.Is(err, ErrAlreadyMember):
		return &ProvisionResult{User: user}, nil
	default:
		return nil, provisionFailed("adding member", err)
	}
}

func (p *Provisioner) findOrCreateUser(ctx context.Context, email, displayName string) (*User, error) {
	user, err := p.users.GetByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, provisionFailed("loading user", err)
	}

	user, err = p.users.Create(ctx, NewUser{Email: email, EmailVerified: true, DisplayName: displayName})
	if errors.Is(err, ErrAlreadyExists) {
		user, err = p.users.GetByEmail(ctx, email)
	}
	if err != nil {
		return nil, provisionFailed("creating user", err)
	}
	return user, nil
}

// DomainAllowed reports whether the email's domain equals, or is a subdomain
// of, an entry in allowed. Entries are case-insensitive and may start with "@".
func DomainAllowed(email string, allowed []string) bool {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return false
	}
	domain := strings.ToLower(strings.TrimSpace(email[at+1:]))

	for _, entry := range allowed {
		entry = strings.ToLower(strings.TrimSpace(entry))
		entry = strings.TrimPrefix(entry, "@")
		if entry == "" {
			continue
		}
		if domain == entry || strings.HasSuffix(domain, "."+entry) {
			return true
		}
	}
	return false
}

func provisionFailed(op string, err error) *ProvisionError {
	return &ProvisionError{Reason: ReasonProvisioningFailed, Err: fmt.Errorf("%s: %w", op, err)}
}
