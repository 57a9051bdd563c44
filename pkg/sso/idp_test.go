package sso

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testClientID     = "spoke-client"
	testClientSecret = "spoke-secret"
	testCode         = "auth-code-1"
	rsaKeyID         = "rsa-1"
	ecKeyID          = "ec-1"
)

var (
	testKeysOnce sync.Once
	testRSAKey   *rsa.PrivateKey
	testECKey    *ecdsa.PrivateKey
)

func testKeys(t *testing.T) (*rsa.PrivateKey, *ecdsa.PrivateKey) {
	t.Helper()
	testKeysOnce.Do(func() {
		var err error
		testRSAKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		testECKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			panic(err)
		}
	})
	return testRSAKey, testECKey
}

// fakeIDP is an httptest OIDC provider serving discovery, token and JWKS
// endpoints and signing real ID tokens
type fakeIDP struct {
	t      *testing.T
	server *httptest.Server
	rsaKey *rsa.PrivateKey
	ecKey  *ecdsa.PrivateKey

	mu              sync.Mutex
	issuerOverride  *string
	algs            []string
	authMethods     []string
	discoveryStatus int
	tokenStatus     int
	omitIDToken     bool
	signAlg         string
	claims          jwt.MapClaims
	tokenRequests   []url.Values
	authHeaders     []string
}

func newFakeIDP(t *testing.T) *fakeIDP {
	t.Helper()
	rsaKey, ecKey := testKeys(t)

	p := &fakeIDP{
		t:       t,
		rsaKey:  rsaKey,
		ecKey:   ecKey,
		signAlg: "RS256",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", p.handleDiscovery)
	mux.HandleFunc("/token", p.handleToken)
	mux.HandleFunc("/jwks", p.handleJWKS)
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)

	return p
}

func (p *fakeIDP) URL() string {
	return p.server.URL
}

// issuer is what the discovery document and tokens claim by default
func (p *fakeIDP) issuer() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.issuerOverride != nil {
		return *p.issuerOverride
	}
	return p.server.URL
}

func (p *fakeIDP) set(fn func(p *fakeIDP)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

// willIssue sets the claims of the next ID token. iss, aud, iat and exp get
// defaults unless present.
func (p *fakeIDP) willIssue(claims jwt.MapClaims) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.claims = claims
}

func (p *fakeIDP) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	status := p.discoveryStatus
	doc := map[string]interface{}{
		"authorization_endpoint": p.server.URL + "/authorize",
		"token_endpoint":         p.server.URL + "/token",
		"jwks_uri":               p.server.URL + "/jwks",
	}
	if p.issuerOverride != nil {
		doc["issuer"] = *p.issuerOverride
	} else {
		doc["issuer"] = p.server.URL
	}
	if p.algs != nil {
		doc["id_token_signing_alg_values_supported"] = p.algs
	}
	if p.authMethods != nil {
		doc["token_endpoint_auth_methods_supported"] = p.authMethods
	}
	p.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

func (p *fakeIDP) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	p.mu.Lock()
	p.tokenRequests = append(p.tokenRequests, r.PostForm)
	p.authHeaders = append(p.authHeaders, r.Header.Get("Authorization"))
	status := p.tokenStatus
	omit := p.omitIDToken
	p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != 0 {
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		return
	}
	if r.PostForm.Get("code") != testCode {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		return
	}

	resp := map[string]interface{}{
		"access_token": "provider-access-token",
		"token_type":   "Bearer",
		"expires_in":   3600,
	}
	if !omit {
		resp["id_token"] = p.mint()
	}
	json.NewEncoder(w).Encode(resp)
}

func (p *fakeIDP) handleJWKS(w http.ResponseWriter, r *http.Request) {
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{
		{Key: &p.rsaKey.PublicKey, KeyID: rsaKeyID, Algorithm: "RS256", Use: "sig"},
		{Key: &p.ecKey.PublicKey, KeyID: ecKeyID, Algorithm: "ES256", Use: "sig"},
	}}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(set)
}

// mint signs the configured claims with the configured algorithm
func (p *fakeIDP) mint() string {
	p.mu.Lock()
	claims := jwt.MapClaims{}
	for k, v := range p.claims {
		claims[k] = v
	}
	alg := p.signAlg
	issuer := p.server.URL
	if p.issuerOverride != nil {
		issuer = *p.issuerOverride
	}
	p.mu.Unlock()

	now := time.Now()
	defaults := jwt.MapClaims{
		"iss": issuer,
		"aud": testClientID,
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	}
	for k, v := range defaults {
		if _, ok := claims[k]; !ok {
			claims[k] = v
		}
	}

	return signToken(p.t, alg, claims, p.rsaKey, p.ecKey)
}

func signToken(t *testing.T, alg string, claims jwt.MapClaims, rsaKey *rsa.PrivateKey, ecKey *ecdsa.PrivateKey) string {
	t.Helper()

	var token *jwt.Token
	var key interface{}
	switch alg {
	case "RS256":
		token = jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		token.Header["kid"] = rsaKeyID
		key = rsaKey
	case "PS256":
		token = jwt.NewWithClaims(jwt.SigningMethodPS256, claims)
		token.Header["kid"] = rsaKeyID
		key = rsaKey
	case "ES256":
		token = jwt.NewWithClaims(jwt.SigningMethodES256, claims)
		token.Header["kid"] = ecKeyID
		key = ecKey
	case "HS256":
		token = jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		token.Header["kid"] = rsaKeyID
		key = []byte(testClientSecret)
	case "none":
		token = jwt.NewWithClaims(jwt.SigningMethodNone, claims)
		token.Header["kid"] = rsaKeyID
		key = jwt.UnsafeAllowNoneSignatureType
	default:
		t.Fatalf("unsupported test alg %s", alg)
	}

	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func (p *fakeIDP) lastTokenRequest() (url.Values, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(p.t, p.tokenRequests)
	i := len(p.tokenRequests) - 1
	return p.tokenRequests[i], p.authHeaders[i]
}
