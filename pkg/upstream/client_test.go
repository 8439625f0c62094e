package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tradebridge/openapi-mcp/pkg/server"
)

func TestAuthenticateMintsAndCaches(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
		proxy string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v2/token", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "svc", user)
		assert.Equal(t, "secret", pass)

		mu.Lock()
		calls++
		proxy = r.Header.Get(ProxyUserHeader)
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"access_token": "tok-123"})
	}))
	defer ts.Close()

	client := New(Options{
		BaseURL:     ts.URL,
		Username:    "svc",
		Password:    "secret",
		ProxyUserID: "u-5",
		HTTPClient:  ts.Client(),
	})

	token, err := client.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)
	assert.Equal(t, "tok-123", client.CachedToken())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
	assert.Equal(t, "u-5", proxy, "the delegated user rides along on the handshake")
}

func TestAuthenticateWithoutCredentials(t *testing.T) {
	client := New(Options{BaseURL: "http://unused.invalid"})

	_, err := client.Authenticate(context.Background())
	require.Error(t, err)
	assert.True(t, server.IsType(err, server.ErrorTypeConfig))
}

func TestAuthenticateRejectsTokenlessResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer ts.Close()

	client := New(Options{BaseURL: ts.URL, Username: "svc", Password: "secret", HTTPClient: ts.Client()})

	_, err := client.Authenticate(context.Background())
	require.Error(t, err)
	assert.True(t, server.IsType(err, server.ErrorTypeAuth))
}

func TestAmazonAccessTokenMemoized(t *testing.T) {
	var (
		mu          sync.Mutex
		calls       int
		marketplace string
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/amazon/access-token", r.URL.Path)
		mu.Lock()
		calls++
		marketplace = r.URL.Query().Get("marketplace")
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"access_token": "amz-token"})
	}))
	defer ts.Close()

	client := New(Options{BaseURL: ts.URL, MarketplaceID: "ATVPDKIKX0DER", HTTPClient: ts.Client()})

	for i := 0; i < 3; i++ {
		token, err := client.AmazonAccessToken(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "amz-token", token)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "the vendor token is fetched once per process")
	assert.Equal(t, "ATVPDKIKX0DER", marketplace)
}

func TestDoDecodesJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"items": []any{"a", "b"}})
	}))
	defer ts.Close()

	client := New(Options{BaseURL: ts.URL, HTTPClient: ts.Client()})
	resp, err := client.Do(context.Background(), &Request{Method: http.MethodGet, URL: ts.URL + "/x"})
	require.NoError(t, err)

	payload, ok := resp.Payload.(map[string]any)
	require.True(t, ok)
	assert.Len(t, payload["items"], 2)
}

func TestDoReturnsRawTextForNonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("plain text response"))
	}))
	defer ts.Close()

	client := New(Options{BaseURL: ts.URL, HTTPClient: ts.Client()})
	resp, err := client.Do(context.Background(), &Request{Method: http.MethodGet, URL: ts.URL + "/x"})
	require.NoError(t, err)
	assert.Equal(t, "plain text response", resp.Payload)
}

func TestDoWrapsUpstreamFailures(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer ts.Close()

	client := New(Options{BaseURL: ts.URL, HTTPClient: ts.Client()})
	_, err := client.Do(context.Background(), &Request{Method: http.MethodGet, URL: ts.URL + "/x"})
	require.Error(t, err)
	assert.True(t, server.IsType(err, server.ErrorTypeUpstream))
	assert.Contains(t, err.Error(), "502")
}

func TestProxyUserIsMutable(t *testing.T) {
	client := New(Options{BaseURL: "http://unused.invalid", ProxyUserID: "u-1"})
	assert.Equal(t, "u-1", client.ProxyUser())

	client.SetProxyUser("u-2")
	assert.Equal(t, "u-2", client.ProxyUser())
}
