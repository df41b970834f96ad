package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/obot-platform/mcp-entra-proxy/pkg/types"
	"golang.org/x/oauth2"
)

// DefaultTimeout bounds a single token exchange with the provider
const DefaultTimeout = 30 * time.Second

const maxTokenResponseBytes = 1 << 20

// ErrResponseTooLarge is returned when the token response exceeds 1 MiB. Such a
// body is never relayed in part.
var ErrResponseTooLarge = errors.New("token response exceeds size limit")

// AuthorizationRequest is the provider-facing half of an authorize redirect
type AuthorizationRequest struct {
	RedirectURI         string
	State               string
	Scopes              []string
	CodeChallenge       string
	CodeChallengeMethod string
}

// TokenResponse is the provider's raw answer to a code exchange. It is relayed
// to the client without modification.
type TokenResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// Provider interface for OAuth providers
type Provider interface {
	// AuthorizationURL returns the provider authorize URL for tenant
	AuthorizationURL(tenant *types.TenantConfig, req AuthorizationRequest) string

	// ExchangeCode posts an authorization code to the tenant token endpoint
	ExchangeCode(ctx context.Context, tenant *types.TenantConfig, code, redirectURI, codeVerifier string) (*TokenResponse, error)
}

// EntraProvider talks to the Microsoft identity platform v2.0 endpoints
type EntraProvider struct {
	httpClient *http.Client
	timeout    time.Duration
}

var _ Provider = (*EntraProvider)(nil)

// NewEntraProvider creates a provider using transport for outbound calls. A nil
// transport uses http.DefaultTransport and a zero timeout uses DefaultTimeout.
func NewEntraProvider(transport http.RoundTripper, timeout time.Duration) *EntraProvider {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &EntraProvider{
		httpClient: &http.Client{
			Transport: transport,
			// The provider never redirects a token request; surface it instead of following.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
	}
}

func (p *EntraProvider) AuthorizationURL(tenant *types.TenantConfig, req AuthorizationRequest) string {
	o := &oauth2.Config{
		ClientID:    tenant.ClientID,
		RedirectURL: req.RedirectURI,
		Scopes:      req.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  tenant.AuthorizeURL,
			TokenURL: tenant.TokenURL,
		},
	}

	var opts []oauth2.AuthCodeOption
	if req.CodeChallenge != "" {
		method := req.CodeChallengeMethod
		if method == "" {
			method = "S256"
		}
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", req.CodeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", method),
		)
	}
	return o.AuthCodeURL(req.State, opts...)
}

func (p *EntraProvider) ExchangeCode(ctx context.Context, tenant *types.TenantConfig, code, redirectURI, codeVerifier string) (*TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {tenant.ClientID},
		"client_secret": {tenant.ClientSecret},
	}
	if codeVerifier != "" {
		form.Set("code_verifier", codeVerifier)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tenant.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}
	if len(body) > maxTokenResponseBytes {
		return nil, fmt.Errorf("%w: status %d", ErrResponseTooLarge, resp.StatusCode)
	}

	return &TokenResponse{
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
