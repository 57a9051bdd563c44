package sso

import (
	"fmt"

	"golang.org/x/oauth2"
)

// AuthMethod is the configured token endpoint client authentication method
type AuthMethod string

const (
	AuthMethodClientSecretBasic AuthMethod = "client_secret_basic"
	AuthMethodClientSecretPost  AuthMethod = "client_secret_post"
	AuthMethodNone              AuthMethod = "none"
)

// clientAuth is the closed set of client authentication variants. Every
// variant must describe how credentials reach the token endpoint, so adding
// one without handling it does not compile.
type clientAuth interface {
	method() AuthMethod
	authStyle() oauth2.AuthStyle
	requiresSecret() bool
}

type clientSecretBasic struct{}

func (clientSecretBasic) method() AuthMethod          { return AuthMethodClientSecretBasic }
func (clientSecretBasic) authStyle() oauth2.AuthStyle { return oauth2.AuthStyleInHeader }
func (clientSecretBasic) requiresSecret() bool        { return true }

type clientSecretPost struct{}

func (clientSecretPost) method() AuthMethod          { return AuthMethodClientSecretPost }
func (clientSecretPost) authStyle() oauth2.AuthStyle { return oauth2.AuthStyleInParams }
func (clientSecretPost) requiresSecret() bool        { return true }

// publicClient sends only client_id in the body and relies on PKCE
type publicClient struct{}

func (publicClient) method() AuthMethod          { return AuthMethodNone }
func (publicClient) authStyle() oauth2.AuthStyle { return oauth2.AuthStyleInParams }
func (publicClient) requiresSecret() bool        { return false }

// parseClientAuth maps a configured method onto its variant
func parseClientAuth(m AuthMethod) (clientAuth, error) {
	switch m {
	case AuthMethodClientSecretBasic:
		return clientSecretBasic{}, nil
	case AuthMethodClientSecretPost:
		return clientSecretPost{}, nil
	case AuthMethodNone:
		return publicClient{}, nil
	default:
		return nil, fmt.Errorf("unsupported token endpoint auth method %q", m)
	}
}

// resolveClientAuth picks the effective client authentication for a provider,
// checking it against what the provider advertises and what is configured
func resolveClientAuth(cfg *ProviderConfig, doc *DiscoveryDocument) (clientAuth, error) {
	ca, err := parseClientAuth(cfg.TokenEndpointAuthMethod)
	if err != nil {
		return nil, newError(ReasonTokenAuthMethodUnsupported, err)
	}

	if len(doc.TokenEndpointAuthMethodsSupported) > 0 && !containsString(doc.TokenEndpointAuthMethodsSupported, string(ca.method())) {
		return nil, newError(ReasonTokenAuthMethodUnsupported,
			fmt.Errorf("provider does not advertise %s", ca.method()))
	}

	if ca.requiresSecret() && cfg.ClientSecret == "" {
		return nil, newError(ReasonClientSecretRequired, fmt.Errorf("%s needs a client secret", ca.method()))
	}
	if !ca.requiresSecret() && !cfg.PKCERequired {
		return nil, newError(ReasonPKCERequiredForPublic, nil)
	}

	return ca, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
