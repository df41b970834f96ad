// Package scopes derives the scope string sent to the provider from the scope a
// client requested and the resource it is authorizing for.
package scopes

import (
	"fmt"
	"slices"
	"strings"
)

const (
	PolicyNamespaced = "namespaced"
	PolicyFixed      = "fixed"

	// DefaultFixedScopes is used by the fixed policy when none are configured
	DefaultFixedScopes = "openid profile email"
)

// oidcScopes are understood by the provider itself and are never namespaced
var oidcScopes = []string{"openid", "profile", "email", "offline_access"}

// Policy maps a client scope request onto provider scopes
type Policy interface {
	Derive(requested, resource string) []string
}

// New returns the policy called name. fixedScopes only applies to the fixed policy.
func New(name, fixedScopes string) (Policy, error) {
	switch name {
	case "", PolicyNamespaced:
		return Namespaced{}, nil
	case PolicyFixed:
		if strings.TrimSpace(fixedScopes) == "" {
			fixedScopes = DefaultFixedScopes
		}
		return Fixed{Scopes: strings.Fields(fixedScopes)}, nil
	default:
		return nil, fmt.Errorf("unknown scope policy %q, expected %s or %s", name, PolicyNamespaced, PolicyFixed)
	}
}

// Namespaced prefixes every non-OIDC scope with the resource, so "read" for
// https://api.example.com becomes "https://api.example.com/read". openid is
// always requested.
type Namespaced struct{}

func (Namespaced) Derive(requested, resource string) []string {
	prefix := strings.TrimSuffix(resource, "/") + "/"

	result := []string{"openid"}
	for _, scope := range strings.Fields(requested) {
		if !slices.Contains(oidcScopes, scope) && !strings.HasPrefix(scope, prefix) {
			scope = prefix + scope
		}
		if !slices.Contains(result, scope) {
			result = append(result, scope)
		}
	}
	return result
}

// Fixed ignores the request and always asks for the same scopes, with openid
// first when it is not listed.
type Fixed struct {
	Scopes []string
}

func (f Fixed) Derive(string, string) []string {
	result := []string{"openid"}
	for _, scope := range f.Scopes {
		if !slices.Contains(result, scope) {
			result = append(result, scope)
		}
	}
	return result
}
