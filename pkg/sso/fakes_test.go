package sso

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/platinummonkey/spoke-sso/pkg/audit"
)

type memTenants struct {
	tenants []*Tenant
}

func (m *memTenants) GetByID(ctx context.Context, id int64) (*Tenant, error) {
	for _, t := range m.tenants {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memTenants) GetBySlug(ctx context.Context, slug string) (*Tenant, error) {
	for _, t := range m.tenants {
		if t.Slug == slug {
			return t, nil
		}
	}
	return nil, ErrNotFound
}

type memUsers struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*User

	markedVerified []int64
	patches        map[int64]ProfilePatch
}

func newMemUsers() *memUsers {
	return &memUsers{nextID: 100, users: map[int64]*User{}, patches: map[int64]ProfilePatch{}}
}

func (m *memUsers) add(email string, verified bool) *User {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	u := &User{ID: m.nextID, Email: email, EmailVerified: verified}
	m.users[u.ID] = u
	return u
}

func (m *memUsers) GetByID(ctx context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (m *memUsers) GetByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byEmailLocked(email)
}

func (m *memUsers) byEmailLocked(email string) (*User, error) {
	for _, u := range m.users {
		if NormalizeEmail(u.Email) == NormalizeEmail(email) {
			clone := *u
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) Create(ctx context.Context, nu NewUser) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(nu)
}

func (m *memUsers) createLocked(nu NewUser) (*User, error) {
	if _, err := m.byEmailLocked(nu.Email); err == nil {
		return nil, ErrAlreadyExists
	}
	m.nextID++
	u := &User{ID: m.nextID, Email: NormalizeEmail(nu.Email), EmailVerified: nu.EmailVerified, DisplayName: nu.DisplayName}
	m.users[u.ID] = u
	clone := *u
	return &clone, nil
}

func (m *memUsers) MarkEmailVerified(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.EmailVerified = true
	m.markedVerified = append(m.markedVerified, userID)
	return nil
}

func (m *memUsers) PatchProfile(ctx context.Context, userID int64, patch ProfilePatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	if patch.Name != nil {
		u.DisplayName = *patch.Name
	}
	if patch.GivenName != nil {
		u.GivenName = *patch.GivenName
	}
	if patch.FamilyName != nil {
		u.FamilyName = *patch.FamilyName
	}
	if patch.Picture != nil {
		u.Picture = *patch.Picture
	}
	if patch.Locale != nil {
		u.Locale = *patch.Locale
	}
	m.patches[userID] = patch
	return nil
}

func (m *memUsers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

type memIdentities struct {
	mu         sync.Mutex
	nextID     int64
	identities []*UserIdentity
	upsertErr  error
}

func (m *memIdentities) GetBySubject(ctx context.Context, providerKey, issuer, subject string) (*UserIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.identities {
		if i.ProviderKey == providerKey && i.SameSubject(issuer, subject) {
			clone := *i
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memIdentities) GetByUser(ctx context.Context, userID int64, providerKey string) (*UserIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.identities {
		if i.UserID == userID && i.ProviderKey == providerKey {
			clone := *i
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memIdentities) Upsert(ctx context.Context, identity *UserIdentity) (*UserIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}

	now := time.Now()
	for _, i := range m.identities {
		if i.ProviderKey != identity.ProviderKey {
			continue
		}
		sameSubject := i.SameSubject(identity.Issuer, identity.Subject)
		switch {
		case sameSubject && i.UserID == identity.UserID:
			i.Email = identity.Email
			i.EmailVerified = identity.EmailVerified
			i.Profile = identity.Profile
			i.LastLoginAt = now
			clone := *i
			return &clone, nil
		case sameSubject || i.UserID == identity.UserID:
			return nil, ErrIdentityConflict
		}
	}

	m.nextID++
	saved := *identity
	saved.ID = m.nextID
	saved.LinkedAt = now
	saved.LastLoginAt = now
	m.identities = append(m.identities, &saved)
	clone := saved
	return &clone, nil
}

func (m *memIdentities) all() []*UserIdentity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*UserIdentity(nil), m.identities...)
}

type memMembers struct {
	mu      sync.Mutex
	members map[[2]int64]string
}

func newMemMembers() *memMembers {
	return &memMembers{members: map[[2]int64]string{}}
}

func (m *memMembers) MembershipExists(ctx context.Context, tenantID, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.members[[2]int64{tenantID, userID}]
	return ok, nil
}

func (m *memMembers) AddMember(ctx context.Context, tenantID, userID int64, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addLocked(tenantID, userID, role)
}

func (m *memMembers) addLocked(tenantID, userID int64, role string) error {
	key := [2]int64{tenantID, userID}
	if _, ok := m.members[key]; ok {
		return ErrAlreadyMember
	}
	m.members[key] = role
	return nil
}

func (m *memMembers) role(tenantID, userID int64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.members[[2]int64{tenantID, userID}]
	return r, ok
}

func (m *memMembers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.members)
}

// memInvites implements InviteRepository and InviteAcceptanceService with the
// same locking semantics as the Postgres implementation. When listBarrier is
// set every ListActiveInvites call waits for it, so concurrent callers see
// the same invites.
type memInvites struct {
	mu          sync.Mutex
	invites     []*Invite
	users       *memUsers
	members     *memMembers
	now         func() time.Time
	listBarrier *sync.WaitGroup
}

func (m *memInvites) ListActiveInvites(ctx context.Context, tenantID int64, email string) ([]*Invite, error) {
	m.mu.Lock()
	var out []*Invite
	now := m.now()
	for _, inv := range m.invites {
		if inv.TenantID == tenantID && inv.AcceptedAt == nil && inv.RevokedAt == nil &&
			now.Before(inv.ExpiresAt) && NormalizeEmail(inv.Email) == NormalizeEmail(email) {
			clone := *inv
			out = append(out, &clone)
		}
	}
	m.mu.Unlock()

	if m.listBarrier != nil {
		m.listBarrier.Done()
		m.listBarrier.Wait()
	}
	return out, nil
}

func (m *memInvites) find(id int64) *Invite {
	for _, inv := range m.invites {
		if inv.ID == id {
			return inv
		}
	}
	return nil
}

func (m *memInvites) AcceptForExistingUser(ctx context.Context, invite *Invite, user *User) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv := m.find(invite.ID)
	if inv == nil {
		return nil, ErrInviteInvalid
	}
	if inv.AcceptedAt != nil {
		if inv.AcceptedBy != nil && *inv.AcceptedBy == user.ID {
			return nil, ErrAlreadyMember
		}
		return nil, ErrInviteInvalid
	}
	if !inv.Usable(m.now(), NormalizeEmail(user.Email)) {
		return nil, ErrInviteInvalid
	}

	if err := m.members.AddMember(ctx, inv.TenantID, user.ID, inv.Role); err != nil && !errors.Is(err, ErrAlreadyMember) {
		return nil, err
	}
	m.markAccepted(inv, user.ID)
	return user, nil
}

func (m *memInvites) AcceptForNewUser(ctx context.Context, invite *Invite, nu NewUser) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv := m.find(invite.ID)
	if inv == nil {
		return nil, ErrInviteInvalid
	}
	if inv.AcceptedAt != nil {
		if _, err := m.users.GetByEmail(ctx, nu.Email); err == nil {
			return nil, ErrAlreadyExists
		}
		return nil, ErrInviteInvalid
	}
	if !inv.Usable(m.now(), NormalizeEmail(nu.Email)) {
		return nil, ErrInviteInvalid
	}

	user, err := m.users.Create(ctx, nu)
	if err != nil {
		return nil, err
	}
	if err := m.members.AddMember(ctx, inv.TenantID, user.ID, inv.Role); err != nil && !errors.Is(err, ErrAlreadyMember) {
		return nil, err
	}
	m.markAccepted(inv, user.ID)
	return user, nil
}

func (m *memInvites) markAccepted(inv *Invite, userID int64) {
	now := m.now()
	inv.AcceptedAt = &now
	inv.AcceptedBy = &userID
}

type fakeIssuer struct {
	mu       sync.Mutex
	requests []SessionRequest
	err      error
}

func (f *fakeIssuer) IssueUserSession(ctx context.Context, req SessionRequest) (*SessionTokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &SessionTokens{
		AccessToken: "session-access-token",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(time.Hour),
	}, nil
}

// memStates is a minimal StateStore; the real implementations live in
// package statestore
type memStates struct {
	mu     sync.Mutex
	states map[string]AttemptState
	ttls   map[string]time.Duration
}

func newMemStates() *memStates {
	return &memStates{states: map[string]AttemptState{}, ttls: map[string]time.Duration{}}
}

func (m *memStates) Put(ctx context.Context, token string, state *AttemptState, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[token]; ok {
		return errors.New("state token already in use")
	}
	m.states[token] = *state
	m.ttls[token] = ttl
	return nil
}

func (m *memStates) Consume(ctx context.Context, token string) (*AttemptState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[token]
	if !ok {
		return nil, ErrStateNotFound
	}
	delete(m.states, token)
	return &state, nil
}

func (m *memStates) peek(token string) (AttemptState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[token]
	return s, ok
}

type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (r *recordingAudit) Log(ctx context.Context, event *audit.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAudit) Close() error {
	return nil
}

func (r *recordingAudit) types() []audit.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

func (r *recordingAudit) last() *audit.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}
