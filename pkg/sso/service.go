package sso

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/spoke-sso/pkg/audit"
	"github.com/platinummonkey/spoke-sso/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
)

// Stage is a step of an SSO attempt
type Stage string

const (
	StageInit               Stage = "INIT"
	StageAuthorizeIssued    Stage = "AUTHORIZE_ISSUED"
	StageCallbackValidating Stage = "CALLBACK_VALIDATING"
	StageTokenExchanging    Stage = "TOKEN_EXCHANGING"
	StageTokenVerifying     Stage = "TOKEN_VERIFYING"
	StageIdentityResolving  Stage = "IDENTITY_RESOLVING"
	StageProvisioning       Stage = "PROVISIONING"
	StageSessionIssuing     Stage = "SESSION_ISSUING"
	StageDone               Stage = "DONE"
	StageFailed             Stage = "FAILED"
)

const (
	// DefaultClockSkew is the leeway applied to ID token time claims
	DefaultClockSkew = 60 * time.Second

	// reasonSessionIssuance labels failures returned unchanged by the AuthIssuer
	reasonSessionIssuance = "session_issuance_failed"
	reasonInternal        = "internal_error"

	randomTokenBytes = 32
)

// Config holds orchestrator settings
type Config struct {
	// PublicBaseURL is the externally visible base used for default redirect URIs
	PublicBaseURL string
	StateTTL      time.Duration
	ClockSkew     time.Duration
}

// Dependencies are the collaborators a Service is built from. Discovery,
// Exchanger and Verifier default to the HTTP implementations in this package
// using HTTPClient; Audit, Logger and Metrics default to no-ops.
type Dependencies struct {
	Providers  ProviderConfigRepository
	Tenants    TenantRepository
	Users      UserRepository
	Identities IdentityRepository
	Members    MembershipRepository
	Invites    InviteRepository
	Acceptance InviteAcceptanceService
	Issuer     AuthIssuer
	States     StateStore

	Discovery  Discoverer
	Exchanger  CodeExchanger
	Verifier   IDTokenVerifier
	HTTPClient *http.Client

	Audit   audit.Logger
	Logger  *observability.Logger
	Metrics observability.Recorder
}

// Service orchestrates SSO attempts: Start issues the authorize URL and
// Complete turns the provider's callback into a session
type Service struct {
	config Config

	providers   ProviderConfigRepository
	tenants     TenantRepository
	users       UserRepository
	identities  IdentityRepository
	issuer      AuthIssuer
	states      StateStore
	provisioner *Provisioner

	discovery Discoverer
	exchanger CodeExchanger
	verifier  IDTokenVerifier

	audit   audit.Logger
	logger  *observability.Logger
	metrics observability.Recorder
	now     func() time.Time
}

// NewService creates a new SSO service
func NewService(config Config, deps Dependencies) (*Service, error) {
	if strings.TrimSpace(config.PublicBaseURL) == "" {
		return nil, errors.New("public base URL is required")
	}

	required := []struct {
		name string
		dep  interface{}
	}{
		{"provider repository", deps.Providers},
		{"tenant repository", deps.Tenants},
		{"user repository", deps.Users},
		{"identity repository", deps.Identities},
		{"membership repository", deps.Members},
		{"invite repository", deps.Invites},
		{"invite acceptance service", deps.Acceptance},
		{"auth issuer", deps.Issuer},
		{"state store", deps.States},
	}
	for _, r := range required {
		if r.dep == nil {
			return nil, fmt.Errorf("%s is required", r.name)
		}
	}

	if config.ClockSkew == 0 {
		config.ClockSkew = DefaultClockSkew
	}
	config.StateTTL = EffectiveStateTTL(config.StateTTL)

	client := deps.HTTPClient
	if client == nil {
		client = NewHTTPClient(DefaultHTTPTimeout)
	}
	if deps.Discovery == nil {
		deps.Discovery = NewDiscoveryClient(client)
	}
	if deps.Exchanger == nil {
		deps.Exchanger = NewTokenExchanger(client)
	}
	if deps.Verifier == nil {
		deps.Verifier = NewTokenVerifier(client)
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewNoopLogger()
	}
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NopRecorder{}
	}

	return &Service{
		config:      config,
		providers:   deps.Providers,
		tenants:     deps.Tenants,
		users:       deps.Users,
		identities:  deps.Identities,
		issuer:      deps.Issuer,
		states:      deps.States,
		provisioner: NewProvisioner(deps.Users, deps.Members, deps.Invites, deps.Acceptance),
		discovery:   deps.Discovery,
		exchanger:   deps.Exchanger,
		verifier:    deps.Verifier,
		audit:       deps.Audit,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		now:         time.Now,
	}, nil
}

// attempt carries what is known about one Start or Complete call for
// logging, metrics, tracing and the closing audit event
type attempt struct {
	operation   string
	attemptID   string
	providerKey string
	tenantID    int64
	userID      int64
	stage       Stage
	ipAddress   string
	userAgent   string
	started     time.Time
}

// Start resolves the tenant and provider, persists fresh attempt state and
// returns the provider's authorize URL
func (s *Service) Start(ctx context.Context, req StartRequest) (result *StartResult, err error) {
	ctx, span := observability.Tracer().Start(ctx, "sso.start")
	defer span.End()

	at := &attempt{
		operation:   "start",
		attemptID:   uuid.NewString(),
		providerKey: NormalizeProviderKey(req.ProviderKey),
		stage:       StageInit,
		started:     s.now(),
	}
	defer func() { s.finish(ctx, span, at, err) }()

	if at.providerKey == "" {
		return nil, newError(ReasonProviderRequired, nil)
	}

	tenant, err := s.resolveTenant(ctx, req.TenantID, req.TenantSlug)
	if err != nil {
		return nil, err
	}
	at.tenantID = tenant.ID

	cfg, err := s.resolveProvider(ctx, tenant.ID, at.providerKey)
	if err != nil {
		return nil, err
	}

	redirectURI := req.RedirectURI
	if redirectURI == "" {
		redirectURI = s.defaultRedirectURI(at.providerKey)
	}
	scopes := EffectiveScopes(cfg.Scopes)

	stateToken, err := randomToken()
	if err != nil {
		return nil, err
	}
	nonce, err := randomToken()
	if err != nil {
		return nil, err
	}
	var verifier string
	if cfg.PKCERequired {
		verifier = oauth2.GenerateVerifier()
	}

	state := &AttemptState{
		AttemptID:    at.attemptID,
		TenantID:     tenant.ID,
		ProviderKey:  at.providerKey,
		Nonce:        nonce,
		PKCEVerifier: verifier,
		RedirectURI:  redirectURI,
		Scopes:       scopes,
	}
	if err := s.states.Put(ctx, stateToken, state, s.config.StateTTL); err != nil {
		s.metrics.RecordStateOp(ctx, "put", observability.ResultFailure)
		return nil, fmt.Errorf("persisting attempt state: %w", err)
	}
	s.metrics.RecordStateOp(ctx, "put", observability.ResultSuccess)

	doc, err := s.fetchDiscovery(ctx, cfg)
	if err != nil {
		return nil, err
	}

	oauthConfig := &oauth2.Config{
		ClientID:    cfg.ClientID,
		RedirectURL: redirectURI,
		Scopes:      scopes,
		Endpoint:    oauth2.Endpoint{AuthURL: doc.AuthorizationEndpoint},
	}
	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("nonce", nonce)}
	if verifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}
	if hint := strings.TrimSpace(req.LoginHint); hint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", hint))
	}

	at.stage = StageAuthorizeIssued
	return &StartResult{
		AuthorizeURL: oauthConfig.AuthCodeURL(stateToken, opts...),
		State:        stateToken,
	}, nil
}

// Complete consumes the attempt state named by req.State, redeems the code,
// verifies the ID token, resolves or provisions the user, links the identity
// and asks the AuthIssuer for a session. Errors from the AuthIssuer are
// returned unchanged; every other failure is an *Error.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (tokens *SessionTokens, err error) {
	ctx, span := observability.Tracer().Start(ctx, "sso.complete")
	defer span.End()

	at := &attempt{
		operation:   "complete",
		providerKey: NormalizeProviderKey(req.ProviderKey),
		stage:       StageCallbackValidating,
		ipAddress:   req.IPAddress,
		userAgent:   req.UserAgent,
		started:     s.now(),
	}
	defer func() { s.finish(ctx, span, at, err) }()

	if at.providerKey == "" {
		return nil, newError(ReasonProviderRequired, nil)
	}

	state, err := s.consumeState(ctx, req.State)
	if err != nil {
		return nil, err
	}
	at.attemptID = state.AttemptID
	at.tenantID = state.TenantID
	if state.ProviderKey != at.providerKey {
		return nil, newError(ReasonProviderMismatch, nil)
	}

	cfg, err := s.resolveProvider(ctx, state.TenantID, at.providerKey)
	if err != nil {
		return nil, err
	}

	doc, err := s.fetchDiscovery(ctx, cfg)
	if err != nil {
		return nil, err
	}
	ca, err := resolveClientAuth(cfg, doc)
	if err != nil {
		return nil, err
	}
	if cfg.PKCERequired && state.PKCEVerifier == "" {
		return nil, newError(ReasonPKCEMissing, nil)
	}

	at.stage = StageTokenExchanging
	if doc.TokenEndpoint == "" {
		return nil, newError(ReasonDiscoveryMissing, errors.New("no token endpoint"))
	}
	begin := s.now()
	tokenResp, err := s.exchanger.Exchange(ctx, ExchangeRequest{
		TokenEndpoint: doc.TokenEndpoint,
		ClientID:      cfg.ClientID,
		ClientSecret:  cfg.ClientSecret,
		Code:          req.Code,
		RedirectURI:   state.RedirectURI,
		CodeVerifier:  state.PKCEVerifier,
		AuthMethod:    ca.method(),
	})
	s.recordProviderCall(ctx, "token", begin, err)
	if err != nil {
		return nil, newError(ReasonTokenExchangeFailed, err)
	}

	at.stage = StageTokenVerifying
	allowed, err := ResolveAllowedAlgs(cfg.AllowedIDTokenAlgs, doc.IDTokenSigningAlgValuesSupported)
	if err != nil {
		return nil, err
	}
	if doc.JWKSURI == "" {
		return nil, newError(ReasonDiscoveryMissing, errors.New("no jwks_uri"))
	}
	begin = s.now()
	claims, err := s.verifier.Verify(ctx, VerifyRequest{
		IDToken:     tokenResp.IDToken,
		Issuer:      doc.Issuer,
		Audience:    cfg.ClientID,
		JWKSURI:     doc.JWKSURI,
		AllowedAlgs: allowed,
		ClockSkew:   s.config.ClockSkew,
	})
	s.recordProviderCall(ctx, "jwks", begin, err)
	if err != nil {
		return nil, newError(ReasonTokenVerificationFailed, err)
	}
	if subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(state.Nonce)) != 1 {
		return nil, newError(ReasonNonceMismatch, nil)
	}

	at.stage = StageIdentityResolving
	issuer := claims.Issuer
	if issuer == "" {
		issuer = doc.Issuer
	}
	email := NormalizeEmail(claims.Email)

	user, err := s.resolveUser(ctx, at.providerKey, issuer, claims.Subject, email, claims.EmailVerified)
	if err != nil {
		return nil, err
	}

	at.stage = StageProvisioning
	provisioned, err := s.provisioner.EnsureMembership(ctx, ProvisionRequest{
		User:           user,
		TenantID:       state.TenantID,
		Policy:         cfg.AutoProvisionPolicy,
		AllowedDomains: cfg.AllowedDomains,
		DefaultRole:    cfg.DefaultRole,
		Email:          email,
		EmailVerified:  claims.EmailVerified,
		DisplayName:    displayName(claims),
	})
	if err != nil {
		var pe *ProvisionError
		if errors.As(err, &pe) {
			return nil, newError(pe.Reason, pe.Err)
		}
		return nil, newError(ReasonProvisioningFailed, err)
	}
	user = provisioned.User
	at.userID = user.ID
	if provisioned.Provisioned {
		s.emitProvisioned(ctx, at, cfg.AutoProvisionPolicy)
	}

	if err := s.refreshUser(ctx, user, email, claims); err != nil {
		return nil, err
	}

	identity, err := s.identities.Upsert(ctx, &UserIdentity{
		UserID:        user.ID,
		ProviderKey:   at.providerKey,
		Issuer:        issuer,
		Subject:       claims.Subject,
		Email:         email,
		EmailVerified: claims.EmailVerified,
		Profile:       claims.Profile(),
	})
	if errors.Is(err, ErrIdentityConflict) {
		return nil, newError(ReasonIdentityConflict, err)
	}
	if err != nil {
		return nil, newError(ReasonIdentityLinkFailed, err)
	}
	s.emitLinked(ctx, at, identity.ID)

	at.stage = StageSessionIssuing
	tokens, err = s.issuer.IssueUserSession(ctx, SessionRequest{
		UserID:     user.ID,
		TenantID:   state.TenantID,
		IPAddress:  req.IPAddress,
		UserAgent:  req.UserAgent,
		EnforceMFA: true,
	})
	if err != nil {
		return nil, err
	}

	at.stage = StageDone
	return tokens, nil
}

func (s *Service) resolveTenant(ctx context.Context, id int64, slug string) (*Tenant, error) {
	slug = strings.TrimSpace(slug)

	var tenant *Tenant
	var err error
	switch {
	case id != 0:
		tenant, err = s.tenants.GetByID(ctx, id)
	case slug != "":
		tenant, err = s.tenants.GetBySlug(ctx, slug)
	default:
		return nil, newError(ReasonTenantRequired, nil)
	}

	if errors.Is(err, ErrNotFound) {
		return nil, newError(ReasonTenantNotFound, nil)
	}
	if err != nil {
		return nil, newError(ReasonTenantNotFound, err)
	}
	return tenant, nil
}

// resolveProvider returns the tenant's config for key, falling back to the
// global one. A disabled tenant config disables the provider for the tenant
// even when a global config exists.
func (s *Service) resolveProvider(ctx context.Context, tenantID int64, key string) (*ProviderConfig, error) {
	cfg, err := s.providers.GetTenantConfig(ctx, tenantID, key)
	if errors.Is(err, ErrNotFound) {
		cfg, err = s.providers.GetGlobalConfig(ctx, key)
	}
	if errors.Is(err, ErrNotFound) {
		return nil, newError(ReasonProviderNotConfigured, nil)
	}
	if err != nil {
		return nil, newError(ReasonProviderNotConfigured, err)
	}
	if !cfg.Enabled {
		return nil, newError(ReasonProviderDisabled, nil)
	}
	return cfg, nil
}

func (s *Service) fetchDiscovery(ctx context.Context, cfg *ProviderConfig) (*DiscoveryDocument, error) {
	begin := s.now()
	doc, err := s.discovery.Fetch(ctx, cfg.IssuerURL, cfg.DiscoveryURL)
	s.recordProviderCall(ctx, "discovery", begin, err)
	if err != nil {
		return nil, newError(ReasonDiscoveryFailed, err)
	}
	return doc, nil
}

func (s *Service) consumeState(ctx context.Context, token string) (*AttemptState, error) {
	if token == "" {
		return nil, newError(ReasonStateInvalid, nil)
	}

	state, err := s.states.Consume(ctx, token)
	switch {
	case err == nil:
		s.metrics.RecordStateOp(ctx, "consume", observability.ResultSuccess)
		return state, nil
	case errors.Is(err, ErrStateNotFound):
		s.metrics.RecordStateOp(ctx, "consume", observability.ResultNotFound)
		return nil, newError(ReasonStateInvalid, nil)
	default:
		s.metrics.RecordStateOp(ctx, "consume", observability.ResultFailure)
		return nil, newError(ReasonStateInvalid, err)
	}
}

// resolveUser finds the local user for the identity: by linked identity
// first, then by verified email. It returns nil when neither matches.
func (s *Service) resolveUser(ctx context.Context, providerKey, issuer, subject, email string, emailVerified bool) (*User, error) {
	var user *User

	identity, err := s.identities.GetBySubject(ctx, providerKey, issuer, subject)
	switch {
	case err == nil:
		user, err = s.users.GetByID(ctx, identity.UserID)
		if errors.Is(err, ErrNotFound) {
			return nil, newError(ReasonIdentityOrphaned, fmt.Errorf("identity %d points at missing user %d", identity.ID, identity.UserID))
		}
		if err != nil {
			return nil, newError(ReasonIdentityLinkFailed, err)
		}
	case errors.Is(err, ErrNotFound):
		if email == "" || !emailVerified {
			return nil, nil
		}
		user, err = s.users.GetByEmail(ctx, email)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, newError(ReasonIdentityLinkFailed, err)
		}
	default:
		return nil, newError(ReasonIdentityLinkFailed, err)
	}

	linked, err := s.identities.GetByUser(ctx, user.ID, providerKey)
	switch {
	case err == nil:
		if !linked.SameSubject(issuer, subject) {
			return nil, newError(ReasonIdentityConflict,
				fmt.Errorf("user %d is linked to another %s subject", user.ID, providerKey))
		}
	case errors.Is(err, ErrNotFound):
	default:
		return nil, newError(ReasonIdentityLinkFailed, err)
	}

	return user, nil
}

// refreshUser records a newly verified email and the profile fields the
// token carried
func (s *Service) refreshUser(ctx context.Context, user *User, email string, claims *VerifiedClaims) error {
	if claims.EmailVerified && email != "" && !user.EmailVerified && NormalizeEmail(user.Email) == email {
		if err := s.users.MarkEmailVerified(ctx, user.ID); err != nil {
			return newError(ReasonProvisioningFailed, fmt.Errorf("marking email verified: %w", err))
		}
		user.EmailVerified = true
	}

	patch := claims.Profile()
	if patch.IsEmpty() {
		return nil
	}
	if err := s.users.PatchProfile(ctx, user.ID, patch); err != nil {
		return newError(ReasonProvisioningFailed, fmt.Errorf("updating profile: %w", err))
	}
	return nil
}

func (s *Service) defaultRedirectURI(providerKey string) string {
	return strings.TrimRight(s.config.PublicBaseURL, "/") + "/auth/sso/" + providerKey + "/callback"
}

func (s *Service) recordProviderCall(ctx context.Context, call string, begin time.Time, err error) {
	result := observability.ResultSuccess
	if err != nil {
		result = observability.ResultFailure
	}
	s.metrics.RecordProviderCall(ctx, call, result, s.now().Sub(begin))
}

// finish records the outcome of an attempt: metrics, span status, a log
// line and the closing sso.start or sso.callback audit event
func (s *Service) finish(ctx context.Context, span trace.Span, at *attempt, err error) {
	result := observability.ResultSuccess
	reason := ""
	if err != nil {
		result = observability.ResultFailure
		reason = failureReason(err, at.stage)
	}
	s.metrics.RecordAttempt(ctx, at.operation, result, reason, s.now().Sub(at.started))

	span.SetAttributes(
		attribute.String("sso.provider", at.providerKey),
		attribute.Int64("sso.tenant_id", at.tenantID),
		attribute.String("sso.stage", string(at.stage)),
	)

	logger := observability.UpdateLoggerWithTraceContext(ctx, s.logger).WithFields(map[string]interface{}{
		"operation":  at.operation,
		"attempt_id": at.attemptID,
		"provider":   at.providerKey,
		"tenant_id":  at.tenantID,
		"stage":      string(at.stage),
	})

	eventType := audit.EventTypeSSOStart
	if at.operation == "complete" {
		eventType = audit.EventTypeSSOCallback
	}
	status := audit.EventStatusSuccess

	if err != nil {
		status = audit.EventStatusFailure
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		logger.WithError(err).WithFields(map[string]interface{}{
			"kind":   string(KindOf(err)),
			"reason": reason,
		}).Warn("sso attempt failed")
	} else {
		span.SetStatus(codes.Ok, "")
		logger.Info("sso attempt succeeded")
	}

	event := s.newEvent(ctx, eventType, status, at)
	event.Reason = reason
	if err != nil {
		event.Metadata["failed_stage"] = string(at.stage)
		at.stage = StageFailed
	}
	s.emit(ctx, event)
}

func failureReason(err error, stage Stage) string {
	if reason := ReasonOf(err); reason != "" {
		return string(reason)
	}
	if stage == StageSessionIssuing {
		return reasonSessionIssuance
	}
	return reasonInternal
}

func (s *Service) emitProvisioned(ctx context.Context, at *attempt, policy ProvisionPolicy) {
	event := s.newEvent(ctx, audit.EventTypeSSOProvisioned, audit.EventStatusSuccess, at)
	event.Policy = string(policy)
	s.emit(ctx, event)
}

func (s *Service) emitLinked(ctx context.Context, at *attempt, identityID int64) {
	event := s.newEvent(ctx, audit.EventTypeSSOLinked, audit.EventStatusSuccess, at)
	event.IdentityID = &identityID
	s.emit(ctx, event)
}

func (s *Service) newEvent(ctx context.Context, eventType audit.EventType, status audit.EventStatus, at *attempt) *audit.AuditEvent {
	event := audit.NewEvent(eventType, status)
	event.ProviderKey = at.providerKey
	if at.tenantID != 0 {
		tenantID := at.tenantID
		event.TenantID = &tenantID
	}
	if at.userID != 0 {
		userID := at.userID
		event.UserID = &userID
	}
	event.IPAddress = at.ipAddress
	event.UserAgent = at.userAgent
	event.RequestID = audit.RequestID(ctx)
	if event.RequestID == "" {
		event.RequestID = observability.GetRequestID(ctx)
	}
	event.Metadata = map[string]interface{}{}
	if at.attemptID != "" {
		event.Metadata["attempt_id"] = at.attemptID
	}
	return event
}

// emit never fails the attempt; sink errors are logged
func (s *Service) emit(ctx context.Context, event *audit.AuditEvent) {
	if err := s.audit.Log(ctx, event); err != nil {
		s.logger.WithError(err).WithField("event_type", string(event.EventType)).Error("failed to write audit event")
	}
}

// EffectiveScopes deduplicates scopes in their configured order. openid is
// put first only when it is missing.
func EffectiveScopes(configured []string) []string {
	var scopes []string
	seen := make(map[string]bool, len(configured))
	for _, scope := range configured {
		scope = strings.TrimSpace(scope)
		if scope == "" || seen[scope] {
			continue
		}
		seen[scope] = true
		scopes = append(scopes, scope)
	}
	if !seen["openid"] {
		scopes = append([]string{"openid"}, scopes...)
	}
	return scopes
}

func displayName(claims *VerifiedClaims) string {
	if claims.Name != nil && *claims.Name != "" {
		return *claims.Name
	}
	var parts []string
	if claims.GivenName != nil && *claims.GivenName != "" {
		parts = append(parts, *claims.GivenName)
	}
	if claims.FamilyName != nil && *claims.FamilyName != "" {
		parts = append(parts, *claims.FamilyName)
	}
	return strings.Join(parts, " ")
}

// randomToken returns 32 random bytes, base64url encoded without padding
func randomToken() (string, error) {
	b := make([]byte, randomTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
