package sso

import (
	"context"
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
)

// VerifyRequest is the input to TokenVerifier.Verify
type VerifyRequest struct {
	IDToken     string
	Issuer      string
	Audience    string
	JWKSURI     string
	AllowedAlgs []string
	ClockSkew   time.Duration
}

// TokenVerifier verifies ID tokens against a provider's published keys
type TokenVerifier struct {
	client *http.Client
	now    func() time.Time
}

// NewTokenVerifier creates a token verifier; a nil client gets the default
func NewTokenVerifier(client *http.Client) *TokenVerifier {
	if client == nil {
		client = NewHTTPClient(DefaultHTTPTimeout)
	}
	return &TokenVerifier{client: client, now: time.Now}
}

// idTokenClaims are the optional claims read after go-oidc has checked the
// registered ones
type idTokenClaims struct {
	Email         string          `json:"email"`
	EmailVerified json.RawMessage `json:"email_verified"`
	Name          *string         `json:"name"`
	GivenName     *string         `json:"given_name"`
	FamilyName    *string         `json:"family_name"`
	Picture       *string         `json:"picture"`
	Locale        *string         `json:"locale"`
}

// Verify checks the token's algorithm against req.AllowedAlgs before any key
// is fetched, then verifies signature, issuer, audience, exp and iat.
func (v *TokenVerifier) Verify(ctx context.Context, req VerifyRequest) (*VerifiedClaims, error) {
	if len(req.AllowedAlgs) == 0 {
		return nil, fmt.Errorf("%w: no signing algorithms allowed", ErrTokenVerification)
	}
	if req.Issuer == "" || req.Audience == "" {
		return nil, fmt.Errorf("%w: issuer and audience are required", ErrTokenVerification)
	}

	kid, alg, err := parseTokenHeader(req.IDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenVerification, err)
	}
	if !containsString(normalizeAlgs(req.AllowedAlgs), alg) {
		return nil, fmt.Errorf("%w: algorithm %s is not allowed", ErrTokenVerification, alg)
	}

	key, err := v.signingKey(ctx, req.JWKSURI, kid, alg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenVerification, err)
	}

	skew := req.ClockSkew
	if skew < 0 {
		skew = 0
	}
	now := v.now()

	verifier := oidc.NewVerifier(req.Issuer, &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{key}}, &oidc.Config{
		ClientID:             req.Audience,
		SupportedSigningAlgs: []string{alg},
		Now:                  func() time.Time { return now.Add(-skew) },
	})

	token, err := verifier.Verify(ctx, req.IDToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenVerification, err)
	}
	if token.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrTokenVerification)
	}
	if token.IssuedAt.IsZero() {
		return nil, fmt.Errorf("%w: token has no iat", ErrTokenVerification)
	}
	if token.IssuedAt.After(now.Add(skew)) {
		return nil, fmt.Errorf("%w: token issued in the future", ErrTokenVerification)
	}

	var extra idTokenClaims
	if err := token.Claims(&extra); err != nil {
		return nil, fmt.Errorf("%w: decoding claims: %v", ErrTokenVerification, err)
	}

	return &VerifiedClaims{
		Subject:       token.Subject,
		Issuer:        token.Issuer,
		Audience:      token.Audience,
		IssuedAt:      token.IssuedAt,
		Expiry:        token.Expiry,
		Nonce:         token.Nonce,
		Email:         extra.Email,
		EmailVerified: parseEmailVerified(extra.EmailVerified),
		Name:          extra.Name,
		GivenName:     extra.GivenName,
		FamilyName:    extra.FamilyName,
		Picture:       extra.Picture,
		Locale:        extra.Locale,
	}, nil
}

// parseTokenHeader reads kid and alg from the protected header without
// looking at the payload. Only algorithms from the safe set parse at all.
func parseTokenHeader(raw string) (kid, alg string, err error) {
	if strings.Count(raw, ".") != 2 {
		return "", "", errors.New("token is not a compact JWS")
	}
	jws, err := jose.ParseSigned(raw, joseAlgs(SafeIDTokenAlgs))
	if err != nil {
		return "", "", fmt.Errorf("parsing header: %v", err)
	}
	if len(jws.Signatures) != 1 {
		return "", "", errors.New("token must carry exactly one signature")
	}
	h := jws.Signatures[0].Protected
	if h.KeyID == "" {
		return "", "", errors.New("token header has no kid")
	}
	if h.Algorithm == "" {
		return "", "", errors.New("token header has no alg")
	}
	return h.KeyID, strings.ToUpper(h.Algorithm), nil
}

// signingKey fetches the JWKS and returns the public key for kid. The key must
// be a signing key and, when it names an algorithm, must name alg.
func (v *TokenVerifier) signingKey(ctx context.Context, jwksURI, kid, alg string) (crypto.PublicKey, error) {
	if jwksURI == "" {
		return nil, errors.New("jwks_uri is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURI, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid jwks url: %v", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching jwks: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading jwks: %v", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("jwks endpoint returned status %d", resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("malformed jwks: %v", err)
	}

	for _, k := range set.Key(kid) {
		if !k.Valid() || !k.IsPublic() {
			continue
		}
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		if k.Algorithm != "" && !strings.EqualFold(k.Algorithm, alg) {
			continue
		}
		return k.Key, nil
	}
	return nil, fmt.Errorf("no usable signing key with kid %q", kid)
}

func parseEmailVerified(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.EqualFold(strings.TrimSpace(s), "true")
	}
	return false
}

func normalizeAlgs(algs []string) []string {
	out := make([]string, 0, len(algs))
	for _, a := range algs {
		out = append(out, strings.ToUpper(strings.TrimSpace(a)))
	}
	return out
}

func joseAlgs(algs []string) []jose.SignatureAlgorithm {
	out := make([]jose.SignatureAlgorithm, 0, len(algs))
	for _, a := range algs {
		out = append(out, jose.SignatureAlgorithm(a))
	}
	return out
}
