// Package tenants maps a protected resource to the Entra tenant and application
// the proxy uses when talking to the provider on its behalf.
package tenants

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/obot-platform/mcp-entra-proxy/pkg/types"
)

// DefaultLoginHost is the Entra ID public cloud login host
const DefaultLoginHost = "https://login.microsoftonline.com"

var (
	// ErrUnknownResource is returned for a resource no tenant serves
	ErrUnknownResource = errors.New("resource is not served by any configured tenant")
	// ErrNotConfigured is returned when the resolver has no usable tenant at all
	ErrNotConfigured = errors.New("tenant not configured")
)

// Resolver resolves the tenant configuration for a resource identifier.
// Implementations are pure lookups and never contact the provider.
type Resolver interface {
	Resolve(resource string) (*types.TenantConfig, error)
}

// DefaultAuthority returns the public cloud authority of tenantID
func DefaultAuthority(tenantID string) string {
	return DefaultLoginHost + "/" + tenantID
}

// Endpoints returns the v2.0 authorize and token endpoints of an authority. The
// authority already names the tenant, as in https://login.microsoftonline.com/{tenant}.
// An empty authority selects DefaultAuthority(tenantID).
func Endpoints(authority, tenantID string) (authorizeURL, tokenURL string) {
	if authority == "" {
		authority = DefaultAuthority(tenantID)
	}
	base := strings.TrimSuffix(authority, "/") + "/oauth2/v2.0"
	return base + "/authorize", base + "/token"
}

// Tenant describes one provider application. Authority includes the tenant
// segment and defaults to DefaultAuthority(TenantID).
type Tenant struct {
	TenantID     string `yaml:"tenant_id"`
	Authority    string `yaml:"authority,omitempty"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret,omitempty"`
}

func (t Tenant) validate() error {
	if t.TenantID == "" {
		return fmt.Errorf("%w: tenant id is required", ErrNotConfigured)
	}
	if t.ClientID == "" {
		return fmt.Errorf("%w: client id is required", ErrNotConfigured)
	}
	if t.ClientSecret == "" {
		return fmt.Errorf("%w: client secret is required", ErrNotConfigured)
	}
	return nil
}

func (t Tenant) config() *types.TenantConfig {
	authorizeURL, tokenURL := Endpoints(t.Authority, t.TenantID)
	return &types.TenantConfig{
		TenantID:     t.TenantID,
		ClientID:     t.ClientID,
		ClientSecret: t.ClientSecret,
		AuthorizeURL: authorizeURL,
		TokenURL:     tokenURL,
	}
}

// Single serves every allowed resource from one tenant
type Single struct {
	tenant           Tenant
	allowedResources []string
}

var _ Resolver = (*Single)(nil)

// NewSingle creates a resolver for one tenant. An empty allowedResources accepts
// any resource.
func NewSingle(tenant Tenant, allowedResources []string) *Single {
	return &Single{
		tenant:           tenant,
		allowedResources: slices.Clone(allowedResources),
	}
}

func (s *Single) Resolve(resource string) (*types.TenantConfig, error) {
	if err := s.tenant.validate(); err != nil {
		return nil, err
	}
	if resource == "" {
		return nil, ErrUnknownResource
	}
	if len(s.allowedResources) > 0 && !slices.Contains(s.allowedResources, resource) {
		return nil, ErrUnknownResource
	}
	return s.tenant.config(), nil
}

// Multi serves each resource from its own tenant
type Multi struct {
	byResource map[string]Tenant
}

var _ Resolver = (*Multi)(nil)

// NewMulti creates a resolver from a resource to tenant map
func NewMulti(byResource map[string]Tenant) (*Multi, error) {
	if len(byResource) == 0 {
		return nil, fmt.Errorf("%w: no tenants defined", ErrNotConfigured)
	}
	m := &Multi{byResource: make(map[string]Tenant, len(byResource))}
	for resource, tenant := range byResource {
		if resource == "" {
			return nil, fmt.Errorf("%w: tenant %s has an empty resource", ErrNotConfigured, tenant.TenantID)
		}
		if err := tenant.validate(); err != nil {
			return nil, fmt.Errorf("resource %s: %w", resource, err)
		}
		m.byResource[resource] = tenant
	}
	return m, nil
}

func (m *Multi) Resolve(resource string) (*types.TenantConfig, error) {
	tenant, ok := m.byResource[resource]
	if !ok {
		return nil, ErrUnknownResource
	}
	return tenant.config(), nil
}

// Resources returns the configured resources in sorted order
func (m *Multi) Resources() []string {
	resources := make([]string, 0, len(m.byResource))
	for resource := range m.byResource {
		resources = append(resources, resource)
	}
	slices.Sort(resources)
	return resources
}
