package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	wellKnownPath = "/.well-known/openid-configuration"

	// DefaultHTTPTimeout bounds every call made to an identity provider
	DefaultHTTPTimeout = 5 * time.Second

	maxProviderResponseBytes = 1 << 20
)

// NewHTTPClient creates the HTTP client used for provider calls
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// DiscoveryClient fetches OIDC discovery documents. It never caches: every
// Fetch returns a fresh snapshot of what the provider published.
type DiscoveryClient struct {
	client *http.Client
}

// NewDiscoveryClient creates a discovery client; a nil client gets the default
func NewDiscoveryClient(client *http.Client) *DiscoveryClient {
	if client == nil {
		client = NewHTTPClient(DefaultHTTPTimeout)
	}
	return &DiscoveryClient{client: client}
}

// DiscoveryURL returns the URL the document is fetched from
func DiscoveryURL(issuerURL, discoveryURL string) string {
	if discoveryURL != "" {
		return discoveryURL
	}
	return strings.TrimRight(issuerURL, "/") + wellKnownPath
}

// Fetch retrieves and validates the discovery document for a provider
func (c *DiscoveryClient) Fetch(ctx context.Context, issuerURL, discoveryURL string) (*DiscoveryDocument, error) {
	target := DiscoveryURL(issuerURL, discoveryURL)
	if target == wellKnownPath {
		return nil, fmt.Errorf("%w: issuer_url is required", ErrDiscovery)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid discovery url: %v", ErrDiscovery, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrDiscovery, err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrDiscovery, target, resp.StatusCode)
	}

	return parseDiscoveryDocument(body, issuerURL)
}

// parseDiscoveryDocument decodes a discovery document and fails closed on
// missing endpoints. The issuer falls back to the requested one only when the
// document does not carry it.
func parseDiscoveryDocument(body []byte, issuerURL string) (*DiscoveryDocument, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: response is not a JSON object: %v", ErrDiscovery, err)
	}

	var doc DiscoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: malformed document: %v", ErrDiscovery, err)
	}

	var missing []string
	if doc.AuthorizationEndpoint == "" {
		missing = append(missing, "authorization_endpoint")
	}
	if doc.TokenEndpoint == "" {
		missing = append(missing, "token_endpoint")
	}
	if doc.JWKSURI == "" {
		missing = append(missing, "jwks_uri")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: document missing %s", ErrDiscovery, strings.Join(missing, ", "))
	}

	if doc.Issuer == "" {
		if _, present := raw["issuer"]; present {
			return nil, fmt.Errorf("%w: document has an empty issuer", ErrDiscovery)
		}
		if issuerURL == "" {
			return nil, fmt.Errorf("%w: document missing issuer", ErrDiscovery)
		}
		doc.Issuer = issuerURL
	}

	return &doc, nil
}
