package types

import (
	"time"
)

// Config holds all configuration values for the Entra proxy
type Config struct {
	Port         string
	Host         string
	ProxyBaseURL string

	// Storage
	StoreBackend string
	DatabaseDSN  string
	RedisURL     string

	// Entra application used on behalf of every downstream client
	TenantID         string
	Authority        string
	ClientID         string
	ClientSecret     string
	AllowedResources []string
	TenantsFile      string

	ScopePolicy string
	FixedScopes string

	ProviderTimeout time.Duration
	SweepInterval   time.Duration
	RateLimitWindow time.Duration
	RateLimitMax    int
}

// ClientRegistration is a dynamically registered downstream (MCP) client.
// ClientSecret is only populated on the value returned from registration.
type ClientRegistration struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty"`
	RedirectURIs []string `json:"redirect_uris"`
	ClientName   string   `json:"client_name,omitempty"`
	IssuedAt     int64    `json:"client_id_issued_at"`
}

// StoredClient is the persisted form of a ClientRegistration
type StoredClient struct {
	ClientID     string   `json:"client_id"`
	SecretHash   string   `json:"secret_hash"`
	RedirectURIs []string `json:"redirect_uris"`
	ClientName   string   `json:"client_name,omitempty"`
	IssuedAt     int64    `json:"issued_at"`
}

// AuthorizationRequest ties the proxy state sent to the provider back to the
// client's original authorization request.
type AuthorizationRequest struct {
	ClientID            string `json:"client_id"`
	RedirectURI         string `json:"redirect_uri"`
	OriginalState       string `json:"original_state"`
	Resource            string `json:"resource"`
	Scope               string `json:"scope,omitempty"`
	CodeChallenge       string `json:"code_challenge,omitempty"`
	CodeChallengeMethod string `json:"code_challenge_method,omitempty"`
}

// CodeExchange remembers which resource a provider authorization code was issued for.
type CodeExchange struct {
	Resource string `json:"resource"`
}

// TenantConfig is the provider-facing application identity for one Entra tenant.
type TenantConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	AuthorizeURL string
	TokenURL     string
}

// OAuthMetadata represents OAuth authorization server metadata
type OAuthMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
}

// OAuthError represents OAuth error response
type OAuthError struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// OAuth error codes used by the proxy
const (
	InvalidRequest          = "invalid_request"
	InvalidClient           = "invalid_client"
	InvalidGrant            = "invalid_grant"
	UnsupportedGrantType    = "unsupported_grant_type"
	UnsupportedResponseType = "unsupported_response_type"
	InvalidClientMetadata   = "invalid_client_metadata"
	ServerError             = "server_error"
	TooManyRequests         = "too_many_requests"
)
