package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/obot-platform/mcp-entra-proxy/pkg/proxy"
	"github.com/obot-platform/mcp-entra-proxy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIntegrationFlow(t *testing.T) {
	// Skip if running in short mode
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}

	entra := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/contoso/oauth2/v2.0/token" {
			http.NotFound(w, r)
			return
		}
		_ = r.ParseForm()
		if r.PostForm.Get("client_id") != "proxy-app" || r.PostForm.Get("code") != "entra-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"AADSTS70008"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token_type":"Bearer","access_token":"at","refresh_token":"rt","expires_in":3599}`))
	}))
	defer entra.Close()

	oauthProxy, err := proxy.NewOAuthProxy(&types.Config{
		TenantID:         "contoso",
		Authority:        entra.URL + "/contoso",
		ClientID:         "proxy-app",
		ClientSecret:     "proxy-secret",
		AllowedResources: []string{"https://mcp.contoso.example"},
	}, zap.NewNop().Sugar(), nil)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, oauthProxy.Close())
	}()
	require.NoError(t, oauthProxy.Start(t.Context()))

	server := httptest.NewServer(oauthProxy.GetHandler())
	defer server.Close()

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	t.Run("HealthAndMetadata", func(t *testing.T) {
		resp, err := client.Get(server.URL + "/health")
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp, err = client.Get(server.URL + "/.well-known/oauth-authorization-server")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var metadata types.OAuthMetadata
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&metadata))
		assert.Equal(t, server.URL, metadata.Issuer)
		assert.Equal(t, server.URL+"/oidc/register", metadata.RegistrationEndpoint)
	})

	t.Run("AuthorizationCodeFlow", func(t *testing.T) {
		// register
		resp, err := client.Post(server.URL+"/oidc/register", "application/json",
			strings.NewReader(`{"redirect_uris":["http://127.0.0.1:33418/callback"],"client_name":"Integration"}`))
		require.NoError(t, err)
		var registration struct {
			ClientID     string `json:"client_id"`
			ClientSecret string `json:"client_secret"`
		}
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&registration))
		_ = resp.Body.Close()

		// authorize
		resp, err = client.Get(server.URL + "/authorize?" + url.Values{
			"response_type": {"code"},
			"client_id":     {registration.ClientID},
			"redirect_uri":  {"http://127.0.0.1:33418/callback"},
			"state":         {"client-state"},
			"resource":      {"https://mcp.contoso.example"},
			"scope":         {"mcp.tools"},
		}.Encode())
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusFound, resp.StatusCode)

		providerURL, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, entra.URL+"/contoso/oauth2/v2.0/authorize", providerURL.Scheme+"://"+providerURL.Host+providerURL.Path)
		assert.Equal(t, "openid https://mcp.contoso.example/mcp.tools", providerURL.Query().Get("scope"))
		assert.Equal(t, server.URL+"/callback", providerURL.Query().Get("redirect_uri"))

		// callback
		resp, err = client.Get(server.URL + "/callback?" + url.Values{
			"code":  {"entra-code"},
			"state": {providerURL.Query().Get("state")},
		}.Encode())
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, "http://127.0.0.1:33418/callback?code=entra-code&state=client-state", resp.Header.Get("Location"))

		// token
		resp, err = client.PostForm(server.URL+"/oauth/token", url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {"entra-code"},
			"client_id":     {registration.ClientID},
			"client_secret": {registration.ClientSecret},
		})
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
		assert.JSONEq(t, `{"token_type":"Bearer","access_token":"at","refresh_token":"rt","expires_in":3599}`, string(body))
	})

	t.Run("ProviderErrorIsRelayed", func(t *testing.T) {
		resp, err := client.Post(server.URL+"/oidc/register", "application/json",
			strings.NewReader(`{"redirect_uris":["https://client.example/cb"]}`))
		require.NoError(t, err)
		var registration struct {
			ClientID     string `json:"client_id"`
			ClientSecret string `json:"client_secret"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&registration))
		_ = resp.Body.Close()

		resp, err = client.Get(server.URL + "/authorize?" + url.Values{
			"client_id":    {registration.ClientID},
			"redirect_uri": {"https://client.example/cb"},
			"state":        {"s"},
			"resource":     {"https://mcp.contoso.example"},
		}.Encode())
		require.NoError(t, err)
		_ = resp.Body.Close()
		providerURL, err := url.Parse(resp.Header.Get("Location"))
		require.NoError(t, err)

		resp, err = client.Get(server.URL + "/callback?" + url.Values{
			"code":  {"stale-code"},
			"state": {providerURL.Query().Get("state")},
		}.Encode())
		require.NoError(t, err)
		_ = resp.Body.Close()

		resp, err = client.PostForm(server.URL+"/oauth/token", url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {"stale-code"},
			"client_id":     {registration.ClientID},
			"client_secret": {registration.ClientSecret},
		})
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.JSONEq(t, `{"error":"invalid_grant","error_description":"AADSTS70008"}`, string(body))
	})

	t.Run("UnknownResourceIsRejected", func(t *testing.T) {
		resp, err := client.Post(server.URL+"/oidc/register", "application/json",
			strings.NewReader(`{"redirect_uris":["https://client.example/cb"]}`))
		require.NoError(t, err)
		var registration types.ClientRegistration
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&registration))
		_ = resp.Body.Close()

		resp, err = client.Get(server.URL + "/authorize?" + url.Values{
			"client_id":    {registration.ClientID},
			"redirect_uri": {"https://client.example/cb"},
			"state":        {"s"},
			"resource":     {"https://other.example"},
		}.Encode())
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
