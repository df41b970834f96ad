// Package registry holds the MCP clients registered through dynamic client registration.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/obot-platform/mcp-entra-proxy/pkg/encryption"
	"github.com/obot-platform/mcp-entra-proxy/pkg/ttlstore"
	"github.com/obot-platform/mcp-entra-proxy/pkg/types"
)

var (
	ErrInvalidMetadata = errors.New("invalid client metadata")
	ErrClientNotFound  = errors.New("client not found")
	ErrInvalidClient   = errors.New("invalid client credentials")
)

const (
	clientIDBytes     = 16
	clientSecretBytes = 32
)

// Registry issues client credentials and answers lookups against them.
// Registrations never expire.
type Registry struct {
	clients ttlstore.Store[types.StoredClient]
	now     func() time.Time
}

func New(clients ttlstore.Store[types.StoredClient]) *Registry {
	return &Registry{
		clients: clients,
		now:     time.Now,
	}
}

// Register validates redirectURIs and issues a new client id and secret. The
// returned registration is the only place the plaintext secret appears.
func (r *Registry) Register(ctx context.Context, redirectURIs []string, clientName string) (*types.ClientRegistration, error) {
	if err := ValidateRedirectURIs(redirectURIs); err != nil {
		return nil, err
	}

	clientID, err := encryption.RandomHex(clientIDBytes)
	if err != nil {
		return nil, err
	}
	clientSecret, err := encryption.RandomHex(clientSecretBytes)
	if err != nil {
		return nil, err
	}

	stored := types.StoredClient{
		ClientID:     clientID,
		SecretHash:   encryption.HashSecret(clientSecret),
		RedirectURIs: slices.Clone(redirectURIs),
		ClientName:   clientName,
		IssuedAt:     r.now().Unix(),
	}
	if err := r.clients.Set(ctx, clientID, stored); err != nil {
		return nil, fmt.Errorf("failed to store client: %w", err)
	}

	return &types.ClientRegistration{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURIs: stored.RedirectURIs,
		ClientName:   clientName,
		IssuedAt:     stored.IssuedAt,
	}, nil
}

// Lookup returns the registration for clientID without its secret
func (r *Registry) Lookup(ctx context.Context, clientID string) (*types.ClientRegistration, error) {
	stored, err := r.get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return &types.ClientRegistration{
		ClientID:     stored.ClientID,
		RedirectURIs: stored.RedirectURIs,
		ClientName:   stored.ClientName,
		IssuedAt:     stored.IssuedAt,
	}, nil
}

// Authenticate checks a client id and secret pair. Unknown clients and wrong
// secrets are both reported as ErrInvalidClient.
func (r *Registry) Authenticate(ctx context.Context, clientID, clientSecret string) (*types.ClientRegistration, error) {
	stored, err := r.get(ctx, clientID)
	if errors.Is(err, ErrClientNotFound) {
		// Still hash the presented secret so both failure paths do the same work.
		encryption.SecretMatches("", clientSecret)
		return nil, ErrInvalidClient
	} else if err != nil {
		return nil, err
	}

	if !encryption.SecretMatches(stored.SecretHash, clientSecret) {
		return nil, ErrInvalidClient
	}
	return &types.ClientRegistration{
		ClientID:     stored.ClientID,
		RedirectURIs: stored.RedirectURIs,
		ClientName:   stored.ClientName,
		IssuedAt:     stored.IssuedAt,
	}, nil
}

func (r *Registry) get(ctx context.Context, clientID string) (*types.StoredClient, error) {
	if clientID == "" {
		return nil, ErrClientNotFound
	}
	stored, ok, err := r.clients.Get(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	if !ok {
		return nil, ErrClientNotFound
	}
	return &stored, nil
}

// ValidateRedirectURIs requires a non-empty list of absolute URIs
func ValidateRedirectURIs(redirectURIs []string) error {
	if len(redirectURIs) == 0 {
		return fmt.Errorf("%w: redirect_uris is required and must be a non-empty array", ErrInvalidMetadata)
	}
	for _, uri := range redirectURIs {
		u, err := url.Parse(uri)
		if err != nil || !u.IsAbs() || u.Fragment != "" {
			return fmt.Errorf("%w: redirect_uri %q must be an absolute URI without a fragment", ErrInvalidMetadata, uri)
		}
	}
	return nil
}

// HasRedirectURI reports whether uri is registered for the client, byte for byte
func HasRedirectURI(client *types.ClientRegistration, uri string) bool {
	return slices.Contains(client.RedirectURIs, uri)
}
