package sso

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type provisionerEnv struct {
	users       *memUsers
	members     *memMembers
	invites     *memInvites
	provisioner *Provisioner
}

func newProvisionerEnv() *provisionerEnv {
	users := newMemUsers()
	members := newMemMembers()
	invites := &memInvites{users: users, members: members, now: time.Now}
	return &provisionerEnv{
		users:       users,
		members:     members,
		invites:     invites,
		provisioner: NewProvisioner(users, members, invites, invites),
	}
}

func (e *provisionerEnv) invite(id int64, email string, mutate func(inv *Invite)) {
	inv := &Invite{
		ID:        id,
		TenantID:  acmeTenantID,
		Email:     email,
		Role:      "viewer",
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if mutate != nil {
		mutate(inv)
	}
	e.invites.invites = append(e.invites.invites, inv)
}

func provisionReason(t *testing.T, err error) Reason {
	t.Helper()
	var pe *ProvisionError
	require.True(t, errors.As(err, &pe), "expected *ProvisionError, got %v", err)
	return pe.Reason
}

func TestProvisioner_ExistingMemberBypassesPolicy(t *testing.T) {
	env := newProvisionerEnv()
	user := env.users.add("bob@acme.com", false)
	require.NoError(t, env.members.AddMember(context.Background(), acmeTenantID, user.ID, "member"))

	for _, policy := range []ProvisionPolicy{PolicyDisabled, PolicyInviteOnly, PolicyDomainAllowlist, "BOGUS"} {
		res, err := env.provisioner.EnsureMembership(context.Background(), ProvisionRequest{
			User:     user,
			TenantID: acmeTenantID,
			Policy:   policy,
		})
		require.NoError(t, err, policy)
		assert.False(t, res.Provisioned)
		assert.Equal(t, user.ID, res.User.ID)
	}
}

func TestProvisioner_Denials(t *testing.T) {
	tests := []struct {
		name   string
		req    ProvisionRequest
		reason Reason
	}{
		{
			name:   "disabled",
			req:    ProvisionRequest{Policy: PolicyDisabled, Email: "bob@acme.com", EmailVerified: true},
			reason: ReasonPolicyDisabled,
		},
		{
			name:   "unverified email",
			req:    ProvisionRequest{Policy: PolicyDomainAllowlist, AllowedDomains: []string{"acme.com"}, Email: "bob@acme.com"},
			reason: ReasonEmailUnverified,
		},
		{
			name:   "missing email",
			req:    ProvisionRequest{Policy: PolicyInviteOnly, EmailVerified: true},
			reason: ReasonEmailUnverified,
		},
		{
			name:   "no invites",
			req:    ProvisionRequest{Policy: PolicyInviteOnly, Email: "bob@acme.com", EmailVerified: true},
			reason: ReasonInviteRequired,
		},
		{
			name:   "suffix attack",
			req:    ProvisionRequest{Policy: PolicyDomainAllowlist, AllowedDomains: []string{"example.com"}, Email: "a@example.com.evil.com", EmailVerified: true},
			reason: ReasonDomainNotAllowed,
		},
		{
			name:   "lookalike domain",
			req:    ProvisionRequest{Policy: PolicyDomainAllowlist, AllowedDomains: []string{"example.com"}, Email: "a@badexample.com", EmailVerified: true},
			reason: ReasonDomainNotAllowed,
		},
		{
			name:   "unknown policy",
			req:    ProvisionRequest{Policy: "OPEN", Email: "bob@acme.com", EmailVerified: true},
			reason: ReasonPolicyUnsupported,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newProvisionerEnv()
			tt.req.TenantID = acmeTenantID

			_, err := env.provisioner.EnsureMembership(context.Background(), tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.reason, provisionReason(t, err))
			assert.Equal(t, tt.reason, ReasonOf(err))
			assert.Equal(t, 0, env.members.count())
			assert.Equal(t, 0, env.users.count())
		})
	}
}

func TestProvisioner_DomainAllowlist(t *testing.T) {
	env := newProvisionerEnv()

	res, err := env.provisioner.EnsureMembership(context.Background(), ProvisionRequest{
		TenantID:       acmeTenantID,
		Policy:         PolicyDomainAllowlist,
		AllowedDomains: []string{"@Example.com"},
		DefaultRole:    "member",
		Email:          "A@Sub.Example.com",
		EmailVerified:  true,
		DisplayName:    "A Person",
	})
	require.NoError(t, err)
	assert.True(t, res.Provisioned)
	assert.Equal(t, "a@sub.example.com", res.User.Email)
	assert.True(t, res.User.EmailVerified)
	assert.Equal(t, "A Person", res.User.DisplayName)

	role, ok := env.members.role(acmeTenantID, res.User.ID)
	require.True(t, ok)
	assert.Equal(t, "member", role)
}

func TestProvisioner_DomainAllowlistExistingUser(t *testing.T) {
	env := newProvisionerEnv()
	user := env.users.add("bob@acme.com", true)

	res, err := env.provisioner.EnsureMembership(context.Background(), ProvisionRequest{
		User:           user,
		TenantID:       acmeTenantID,
		Policy:         PolicyDomainAllowlist,
		AllowedDomains: []string{"acme.com"},
		DefaultRole:    "member",
		Email:          "bob@acme.com",
		EmailVerified:  true,
	})
	require.NoError(t, err)
	assert.True(t, res.Provisioned)
	assert.Equal(t, user.ID, res.User.ID)
	assert.Equal(t, 1, env.users.count())
}

func TestProvisioner_InviteOnlyNewUser(t *testing.T) {
	env := newProvisionerEnv()
	env.invite(1, "Bob@Acme.com", nil)

	res, err := env.provisioner.EnsureMembership(context.Background(), ProvisionRequest{
		TenantID:      acmeTenantID,
		Policy:        PolicyInviteOnly,
		Email:         "bob@acme.com",
		EmailVerified: true,
	})
	require.NoError(t, err)
	assert.True(t, res.Provisioned)

	role, ok := env.members.role(acmeTenantID, res.User.ID)
	require.True(t, ok)
	assert.Equal(t, "viewer", role)
	require.NotNil(t, env.invites.invites[0].AcceptedBy)
	assert.Equal(t, res.User.ID, *env.invites.invites[0].AcceptedBy)
}

func TestProvisioner_InviteOnlyExistingUser(t *testing.T) {
	env := newProvisionerEnv()
	user := env.users.add("bob@acme.com", true)
	env.invite(1, "bob@acme.com", nil)

	res, err := env.provisioner.EnsureMembership(context.Background(), ProvisionRequest{
		User:          user,
		TenantID:      acmeTenantID,
		Policy:        PolicyInviteOnly,
		Email:         "bob@acme.com",
		EmailVerified: true,
	})
	require.NoError(t, err)
	assert.True(t, res.Provisioned)
	assert.Equal(t, user.ID, res.User.ID)
	assert.Equal(t, 1, env.users.count())
}

func TestProvisioner_InviteSkipsUnusable(t *testing.T) {
	env := newProvisionerEnv()
	user := env.users.add("bob@acme.com", true)
	env.invite(1, "bob@acme.com", nil)
	env.invite(2, "bob@acme.com", func(inv *Invite) { inv.Role = "admin" })

	// invite 1 gets revoked between listing and acceptance
	list, err := env.invites.ListActiveInvites(context.Background(), acmeTenantID, "bob@acme.com")
	require.NoError(t, err)
	require.Len(t, list, 2)
	invites := &staleInvites{list: list, inner: env.invites, revoke: 1}
	p := NewProvisioner(env.users, env.members, invites, env.invites)

	res, err := p.EnsureMembership(context.Background(), ProvisionRequest{
		User:          user,
		TenantID:      acmeTenantID,
		Policy:        PolicyInviteOnly,
		Email:         "bob@acme.com",
		EmailVerified: true,
	})
	require.NoError(t, err)
	assert.True(t, res.Provisioned)

	role, _ := env.members.role(acmeTenantID, user.ID)
	assert.Equal(t, "admin", role)
}

func TestProvisioner_InviteInvalid(t *testing.T) {
	env := newProvisionerEnv()
	env.invite(1, "bob@acme.com", nil)

	list, err := env.invites.ListActiveInvites(context.Background(), acmeTenantID, "bob@acme.com")
	require.NoError(t, err)
	p := NewProvisioner(env.users, env.members, &staleInvites{list: list, inner: env.invites, revoke: 1}, env.invites)

	_, err = p.EnsureMembership(context.Background(), ProvisionRequest{
		TenantID:      acmeTenantID,
		Policy:        PolicyInviteOnly,
		Email:         "bob@acme.com",
		EmailVerified: true,
	})
	require.Error(t, err)
	assert.Equal(t, ReasonInviteInvalid, provisionReason(t, err))
	assert.Equal(t, 0, env.members.count())
}

// staleInvites returns a fixed listing and revokes the invite with id revoke
// in the backing store before handing it out, simulating a revocation that
// lands between listing and acceptance
type staleInvites struct {
	list   []*Invite
	inner  *memInvites
	revoke int64
}

func (s *staleInvites) ListActiveInvites(ctx context.Context, tenantID int64, email string) ([]*Invite, error) {
	s.inner.mu.Lock()
	defer s.inner.mu.Unlock()
	if inv := s.inner.find(s.revoke); inv != nil {
		now := time.Now()
		inv.RevokedAt = &now
	}
	return s.list, nil
}

// staleMembers reports no membership, as seen by a callback that checked
// before a concurrent one joined the tenant
type staleMembers struct {
	*memMembers
}

func (staleMembers) MembershipExists(ctx context.Context, tenantID, userID int64) (bool, error) {
	return false, nil
}

func TestProvisioner_ConcurrentInviteAcceptance(t *testing.T) {
	env := newProvisionerEnv()
	env.invite(1, "bob@acme.com", nil)

	const callers = 2
	barrier := &sync.WaitGroup{}
	barrier.Add(callers)
	env.invites.listBarrier = barrier

	results := make([]*ProvisionResult, callers)
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		i := i
		g.Go(func() error {
			res, err := env.provisioner.EnsureMembership(context.Background(), ProvisionRequest{
				TenantID:      acmeTenantID,
				Policy:        PolicyInviteOnly,
				Email:         "bob@acme.com",
				EmailVerified: true,
			})
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, env.users.count())
	assert.Equal(t, 1, env.members.count())
	assert.Equal(t, results[0].User.ID, results[1].User.ID)
	// only the caller that accepted the invite reports provisioning
	assert.NotEqual(t, results[0].Provisioned, results[1].Provisioned)
}

func TestProvisioner_InviteAlreadyAcceptedBySameUser(t *testing.T) {
	env := newProvisionerEnv()
	user := env.users.add("bob@acme.com", true)
	env.invite(1, "bob@acme.com", nil)

	list, err := env.invites.ListActiveInvites(context.Background(), acmeTenantID, "bob@acme.com")
	require.NoError(t, err)
	require.Len(t, list, 1)

	// a concurrent callback accepts the invite after it was listed
	_, err = env.invites.AcceptForExistingUser(context.Background(), list[0], user)
	require.NoError(t, err)

	// and after this callback checked membership
	members := staleMembers{env.members}
	p := NewProvisioner(env.users, members, &staleInvites{list: list, inner: env.invites}, env.invites)
	res, err := p.EnsureMembership(context.Background(), ProvisionRequest{
		User:          user,
		TenantID:      acmeTenantID,
		Policy:        PolicyInviteOnly,
		Email:         "bob@acme.com",
		EmailVerified: true,
	})
	require.NoError(t, err)
	assert.False(t, res.Provisioned)
	assert.Equal(t, user.ID, res.User.ID)
	assert.Equal(t, 1, env.members.count())
}

func TestProvisioner_ConcurrentDomainJoin(t *testing.T) {
	env := newProvisionerEnv()

	const callers = 8
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			_, err := env.provisioner.EnsureMembership(context.Background(), ProvisionRequest{
				TenantID:       acmeTenantID,
				Policy:         PolicyDomainAllowlist,
				AllowedDomains: []string{"acme.com"},
				DefaultRole:    "member",
				Email:          "bob@acme.com",
				EmailVerified:  true,
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, 1, env.users.count())
	assert.Equal(t, 1, env.members.count())
}

func TestProvisioner_RepositoryFailure(t *testing.T) {
	env := newProvisionerEnv()
	p := NewProvisioner(env.users, failingMembers{}, env.invites, env.invites)
	user := env.users.add("bob@acme.com", true)

	_, err := p.EnsureMembership(context.Background(), ProvisionRequest{
		User:     user,
		TenantID: acmeTenantID,
		Policy:   PolicyDomainAllowlist,
	})
	require.Error(t, err)
	assert.Equal(t, ReasonProvisioningFailed, provisionReason(t, err))
}

type failingMembers struct{}

func (failingMembers) MembershipExists(ctx context.Context, tenantID, userID int64) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingMembers) AddMember(ctx context.Context, tenantID, userID int64, role string) error {
	return errors.New("connection refused")
}

func TestDomainAllowed(t *testing.T) {
	allowed := []string{"example.com", " @Corp.IO "}

	assert.True(t, DomainAllowed("a@example.com", allowed))
	assert.True(t, DomainAllowed("a@sub.example.com", allowed))
	assert.True(t, DomainAllowed("a@deep.sub.example.com", allowed))
	assert.True(t, DomainAllowed("a@corp.io", allowed))
	assert.False(t, DomainAllowed("a@example.com.evil.com", allowed))
	assert.False(t, DomainAllowed("a@notexample.com", allowed))
	assert.False(t, DomainAllowed("a@", allowed))
	assert.False(t, DomainAllowed("example.com", allowed))
	assert.False(t, DomainAllowed("a@example.com", nil))
	assert.False(t, DomainAllowed("a@example.com", []string{"", "@"}))
}
