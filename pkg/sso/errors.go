package sso

import (
	"errors"
	"fmt"
)

// ErrorKind is the coarse category of an SSO failure
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindState         ErrorKind = "state"
	KindToken         ErrorKind = "token"
	KindIdentity      ErrorKind = "identity"
	KindProvisioning  ErrorKind = "provisioning"
)

// Reason is the machine-readable cause of an SSO failure
type Reason string

const (
	// Configuration
	ReasonProviderRequired           Reason = "provider_required"
	ReasonTenantRequired             Reason = "tenant_required"
	ReasonTenantNotFound             Reason = "tenant_not_found"
	ReasonProviderNotConfigured      Reason = "provider_not_configured"
	ReasonProviderDisabled           Reason = "provider_disabled"
	ReasonTokenAuthMethodUnsupported Reason = "token_auth_method_unsupported"
	ReasonClientSecretRequired       Reason = "client_secret_required"
	ReasonPKCERequiredForPublic      Reason = "pkce_required_for_public_client"
	ReasonIDTokenAlgInvalid          Reason = "id_token_alg_invalid"
	ReasonIDTokenAlgUnsupported      Reason = "id_token_alg_unsupported"
	ReasonDiscoveryFailed            Reason = "discovery_failed"

	// State
	ReasonStateInvalid     Reason = "state_invalid"
	ReasonProviderMismatch Reason = "provider_mismatch"
	ReasonPKCEMissing      Reason = "pkce_missing"
	ReasonNonceMismatch    Reason = "nonce_mismatch"

	// Token
	ReasonTokenExchangeFailed     Reason = "token_exchange_failed"
	ReasonTokenVerificationFailed Reason = "token_verification_failed"
	ReasonDiscoveryMissing        Reason = "discovery_missing"

	// Identity
	ReasonIdentityOrphaned   Reason = "identity_orphaned"
	ReasonIdentityConflict   Reason = "identity_conflict"
	ReasonIdentityLinkFailed Reason = "identity_link_failed"

	// Provisioning
	ReasonPolicyDisabled     Reason = "policy_disabled"
	ReasonEmailUnverified    Reason = "email_unverified"
	ReasonInviteRequired     Reason = "invite_required"
	ReasonInviteInvalid      Reason = "invite_invalid"
	ReasonDomainNotAllowed   Reason = "domain_not_allowed"
	ReasonPolicyUnsupported  Reason = "policy_unsupported"
	ReasonProvisioningFailed Reason = "provisioning_failed"
)

var reasonKinds = map[Reason]ErrorKind{
	ReasonProviderRequired:           KindConfiguration,
	ReasonTenantRequired:             KindConfiguration,
	ReasonTenantNotFound:             KindConfiguration,
	ReasonProviderNotConfigured:      KindConfiguration,
	ReasonProviderDisabled:           KindConfiguration,
	ReasonTokenAuthMethodUnsupported: KindConfiguration,
	ReasonClientSecretRequired:       KindConfiguration,
	ReasonPKCERequiredForPublic:      KindConfiguration,
	ReasonIDTokenAlgInvalid:          KindConfiguration,
	ReasonIDTokenAlgUnsupported:      KindConfiguration,
	ReasonDiscoveryFailed:            KindConfiguration,

	ReasonStateInvalid:     KindState,
	ReasonProviderMismatch: KindState,
	ReasonPKCEMissing:      KindState,
	ReasonNonceMismatch:    KindState,

	ReasonTokenExchangeFailed:     KindToken,
	ReasonTokenVerificationFailed: KindToken,
	ReasonDiscoveryMissing:        KindToken,

	ReasonIdentityOrphaned:   KindIdentity,
	ReasonIdentityConflict:   KindIdentity,
	ReasonIdentityLinkFailed: KindIdentity,

	ReasonPolicyDisabled:     KindProvisioning,
	ReasonEmailUnverified:    KindProvisioning,
	ReasonInviteRequired:     KindProvisioning,
	ReasonInviteInvalid:      KindProvisioning,
	ReasonDomainNotAllowed:   KindProvisioning,
	ReasonPolicyUnsupported:  KindProvisioning,
	ReasonProvisioningFailed: KindProvisioning,
}

// Kind returns the error kind a reason belongs to
func (r Reason) Kind() ErrorKind {
	if k, ok := reasonKinds[r]; ok {
		return k
	}
	return KindConfiguration
}

// Error is the error returned by Service.Start and Service.Complete
type Error struct {
	Kind   ErrorKind
	Reason Reason
	Err    error
}

func newError(reason Reason, err error) *Error {
	return &Error{Kind: reason.Kind(), Reason: reason, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sso %s error: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("sso %s error: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same reason, so callers can write
// errors.Is(err, &sso.Error{Reason: sso.ReasonStateInvalid})
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Reason == e.Reason
}

// ReasonOf returns the reason carried by err, or "" when err is not an SSO error
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	var pe *ProvisionError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return ""
}

// KindOf returns the kind carried by err, or "" when err is not an SSO error
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Component and collaborator sentinels
var (
	ErrDiscovery         = errors.New("sso: discovery failed")
	ErrTokenExchange     = errors.New("sso: token exchange failed")
	ErrTokenVerification = errors.New("sso: token verification failed")
	ErrStateNotFound     = errors.New("sso: state not found")

	ErrNotFound         = errors.New("sso: not found")
	ErrAlreadyExists    = errors.New("sso: already exists")
	ErrAlreadyMember    = errors.New("sso: already a member")
	ErrInviteInvalid    = errors.New("sso: invite invalid")
	ErrIdentityConflict = errors.New("sso: identity conflict")
)

// ProvisionError is returned by the Provisioner when policy denies membership
// or provisioning itself fails
type ProvisionError struct {
	Reason Reason
	Err    error
}

func (e *ProvisionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provisioning: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("provisioning: %s", e.Reason)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}
