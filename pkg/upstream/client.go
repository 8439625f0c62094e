// Package upstream executes HTTP requests against the configured REST API
// and owns the process-lifetime session state: basic credentials, the
// delegated proxy user, and the lazily fetched bearer and Amazon vendor
// tokens. Tokens are cached until process restart and never refreshed
// proactively.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tradebridge/openapi-mcp/pkg/server"
)

// RequestTimeout bounds every upstream call; a single attempt, no retry.
const RequestTimeout = 30 * time.Second

const (
	tokenPath       = "/api/v2/token"
	amazonTokenPath = "/api/amazon/access-token"

	// ProxyUserHeader carries the delegated user on the token handshake.
	ProxyUserHeader = "X-Proxy-User-Id"
)

// Options configures a Client.
type Options struct {
	BaseURL       string
	Username      string
	Password      string
	ProxyUserID   string
	MarketplaceID string

	// TLSInsecure accepts self-signed upstream certificates. Off by
	// default; the legacy environment this bridge fronts must opt in.
	TLSInsecure bool

	// HTTPClient overrides the default client, used by tests.
	HTTPClient *http.Client
}

// Client is the upstream HTTP client plus mutable session state. All calls
// are safe for concurrent use; the token caches memoize their first
// successful fetch.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string

	marketplaceID string

	mu          sync.Mutex
	proxyUserID string
	apiToken    string
	amazonToken string
}

// New creates a Client from options.
func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if opts.TLSInsecure {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		httpClient = &http.Client{
			Timeout:   RequestTimeout,
			Transport: transport,
		}
	}
	return &Client{
		httpClient:    httpClient,
		baseURL:       strings.TrimSuffix(opts.BaseURL, "/"),
		username:      opts.Username,
		password:      opts.Password,
		marketplaceID: opts.MarketplaceID,
		proxyUserID:   opts.ProxyUserID,
	}
}

// BaseURL returns the configured upstream base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// HasBasicCredentials reports whether username and password are both set.
func (c *Client) HasBasicCredentials() bool {
	return c.username != "" && c.password != ""
}

// SetProxyUser records the delegated user for subsequent calls.
func (c *Client) SetProxyUser(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.proxyUserID = id
}

// ProxyUser returns the current delegated user id, empty when none is set.
func (c *Client) ProxyUser() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.proxyUserID
}

// CachedToken returns the cached bearer token, empty when none was minted.
func (c *Client) CachedToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apiToken
}

// SetToken stores a bearer token in the session cache.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.apiToken = token
}

// Authenticate performs the HTTP Basic handshake against the token
// endpoint, caches and returns the minted bearer token. The delegated
// proxy user, when configured, rides along as a header.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	if !c.HasBasicCredentials() {
		return "", server.NewError(server.ErrorTypeConfig,
			"missing basic auth credentials for token handshake", "")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tokenPath, nil)
	if err != nil {
		return "", server.Wrap(err, server.ErrorTypeAuth, "authentication failed")
	}
	req.SetBasicAuth(c.username, c.password)
	if proxy := c.ProxyUser(); proxy != "" {
		req.Header.Set(ProxyUserHeader, proxy)
	}

	payload, err := c.execute(req)
	if err != nil {
		return "", server.Wrap(err, server.ErrorTypeAuth, "authentication failed")
	}

	token := tokenFromPayload(payload, "token", "access_token", "api_token")
	if token == "" {
		return "", server.NewError(server.ErrorTypeAuth,
			"authentication failed", "token endpoint response contained no token field")
	}

	c.mu.Lock()
	c.apiToken = token
	c.mu.Unlock()
	log.Printf("Minted upstream bearer token (length: %d)", len(token))
	return token, nil
}

// AmazonAccessToken returns the cached vendor token, fetching and caching
// it on first use. The configured marketplace id is passed as a query
// parameter.
func (c *Client) AmazonAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.amazonToken
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+amazonTokenPath, nil)
	if err != nil {
		return "", server.Wrap(err, server.ErrorTypeUpstream, "amazon access token fetch failed")
	}
	if c.marketplaceID != "" {
		q := req.URL.Query()
		q.Set("marketplace", c.marketplaceID)
		req.URL.RawQuery = q.Encode()
	}
	if c.HasBasicCredentials() {
		req.SetBasicAuth(c.username, c.password)
	}

	payload, err := c.execute(req)
	if err != nil {
		return "", server.Wrap(err, server.ErrorTypeUpstream, "amazon access token fetch failed")
	}

	token := tokenFromPayload(payload, "access_token", "token")
	if token == "" {
		return "", server.NewError(server.ErrorTypeUpstream,
			"amazon access token fetch failed", "response contained no token field")
	}

	c.mu.Lock()
	c.amazonToken = token
	c.mu.Unlock()
	log.Printf("Cached Amazon vendor access token (length: %d)", len(token))
	return token, nil
}

// Request describes one upstream call assembled by the dispatcher.
type Request struct {
	Method string
	URL    string
	Query  url.Values
	Header http.Header
	Body   []byte

	// UseBasicAuth attaches the static credentials instead of any bearer
	// header; the dispatcher guarantees the two never collide.
	UseBasicAuth bool
}

// Response carries the decoded upstream reply.
type Response struct {
	StatusCode int
	// Payload is the decoded JSON body, or the raw text when the body is
	// not valid JSON.
	Payload any
}

// Do issues exactly one HTTP request and decodes the response. Non-2xx
// statuses and transport failures are returned as upstream errors carrying
// the status and body for diagnosis.
func (c *Client) Do(ctx context.Context, r *Request) (*Response, error) {
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeInternal, "failed to build upstream request")
	}
	if len(r.Query) > 0 {
		q := req.URL.Query()
		for key, values := range r.Query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		req.URL.RawQuery = q.Encode()
	}
	for key, values := range r.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if len(r.Body) > 0 && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.UseBasicAuth {
		if !c.HasBasicCredentials() {
			return nil, server.NewError(server.ErrorTypeConfig,
				"operation requires basic auth but no credentials are configured", "")
		}
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeNetwork, "upstream request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, server.Wrap(err, server.ErrorTypeNetwork, "failed to read upstream response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, server.NewError(server.ErrorTypeUpstream,
			fmt.Sprintf("upstream returned HTTP %d", resp.StatusCode),
			strings.TrimSpace(string(raw)))
	}

	return &Response{StatusCode: resp.StatusCode, Payload: decodePayload(raw)}, nil
}

// execute runs a prepared request and returns the decoded JSON payload.
func (c *Client) execute(req *http.Request) (map[string]any, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	payload := map[string]any{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}
	return payload, nil
}

func decodePayload(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return string(raw)
	}
	return payload
}

func tokenFromPayload(payload map[string]any, fields ...string) string {
	for _, field := range fields {
		if v, ok := payload[field].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
