// Package correlator links the legs of a proxied authorization-code flow: the
// client's authorize request to the provider callback, and the provider code to
// the token exchange. Every record is single use.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/obot-platform/mcp-entra-proxy/pkg/encryption"
	"github.com/obot-platform/mcp-entra-proxy/pkg/ttlstore"
	"github.com/obot-platform/mcp-entra-proxy/pkg/types"
)

// DefaultTTL bounds how long a pending authorization or code may wait
const DefaultTTL = 10 * time.Minute

const stateBytes = 16

var (
	ErrUnknownState = errors.New("unknown or expired state")
	ErrUnknownCode  = errors.New("unknown or expired authorization code")
)

// Authorizations maps proxy-generated state values to pending client requests
type Authorizations struct {
	pending ttlstore.Store[types.AuthorizationRequest]
}

func NewAuthorizations(pending ttlstore.Store[types.AuthorizationRequest]) *Authorizations {
	return &Authorizations{pending: pending}
}

// Begin stores req under a fresh unguessable state and returns that state
func (a *Authorizations) Begin(ctx context.Context, req types.AuthorizationRequest) (string, error) {
	state, err := encryption.RandomHex(stateBytes)
	if err != nil {
		return "", err
	}
	if err := a.pending.Set(ctx, state, req); err != nil {
		return "", fmt.Errorf("failed to store authorization request: %w", err)
	}
	return state, nil
}

// Consume returns and removes the request stored under state
func (a *Authorizations) Consume(ctx context.Context, state string) (*types.AuthorizationRequest, error) {
	if state == "" {
		return nil, ErrUnknownState
	}
	req, ok, err := a.pending.Take(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization request: %w", err)
	}
	if !ok {
		return nil, ErrUnknownState
	}
	return &req, nil
}

// Codes remembers the resource each provider authorization code was issued for
type Codes struct {
	issued ttlstore.Store[types.CodeExchange]
}

func NewCodes(issued ttlstore.Store[types.CodeExchange]) *Codes {
	return &Codes{issued: issued}
}

// Record associates code with resource, replacing any previous record
func (c *Codes) Record(ctx context.Context, code, resource string) error {
	if err := c.issued.Set(ctx, code, types.CodeExchange{Resource: resource}); err != nil {
		return fmt.Errorf("failed to record authorization code: %w", err)
	}
	return nil
}

// Consume returns and removes the record for code
func (c *Codes) Consume(ctx context.Context, code string) (*types.CodeExchange, error) {
	if code == "" {
		return nil, ErrUnknownCode
	}
	exchange, ok, err := c.issued.Take(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to consume authorization code: %w", err)
	}
	if !ok {
		return nil, ErrUnknownCode
	}
	return &exchange, nil
}
