package authorize

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/obot-platform/mcp-entra-proxy/pkg/handlerutils"
	"github.com/obot-platform/mcp-entra-proxy/pkg/logger"
	"github.com/obot-platform/mcp-entra-proxy/pkg/metrics"
	"github.com/obot-platform/mcp-entra-proxy/pkg/providers"
	"github.com/obot-platform/mcp-entra-proxy/pkg/registry"
	"github.com/obot-platform/mcp-entra-proxy/pkg/scopes"
	"github.com/obot-platform/mcp-entra-proxy/pkg/tenants"
	"github.com/obot-platform/mcp-entra-proxy/pkg/types"
	"go.uber.org/zap"
)

type ClientLookup interface {
	Lookup(ctx context.Context, clientID string) (*types.ClientRegistration, error)
}

type AuthorizationStore interface {
	Begin(ctx context.Context, req types.AuthorizationRequest) (string, error)
}

type Handler struct {
	clients      ClientLookup
	pending      AuthorizationStore
	tenants      tenants.Resolver
	scopes       scopes.Policy
	provider     providers.Provider
	proxyBaseURL string
	log          *zap.SugaredLogger
	metrics      *metrics.Metrics
}

func NewHandler(clients ClientLookup, pending AuthorizationStore, resolver tenants.Resolver, policy scopes.Policy, provider providers.Provider, proxyBaseURL string, log *zap.SugaredLogger, m *metrics.Metrics) http.Handler {
	return &Handler{
		clients:      clients,
		pending:      pending,
		tenants:      resolver,
		scopes:       policy,
		provider:     provider,
		proxyBaseURL: proxyBaseURL,
		log:          log,
		metrics:      m,
	}
}

func (p *Handler) fail(w http.ResponseWriter, status int, code, description string) {
	p.metrics.FlowStep("authorize", code)
	handlerutils.OAuthError(w, status, code, description)
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	authReq := types.AuthorizationRequest{
		ClientID:            params.Get("client_id"),
		RedirectURI:         params.Get("redirect_uri"),
		OriginalState:       params.Get("state"),
		Resource:            params.Get("resource"),
		Scope:               params.Get("scope"),
		CodeChallenge:       params.Get("code_challenge"),
		CodeChallengeMethod: params.Get("code_challenge_method"),
	}

	if authReq.ClientID == "" || authReq.RedirectURI == "" || authReq.OriginalState == "" || authReq.Resource == "" {
		p.fail(w, http.StatusBadRequest, types.InvalidRequest, "Missing required parameters: client_id, redirect_uri, state, resource")
		return
	}

	if responseType := params.Get("response_type"); responseType != "" && responseType != "code" {
		p.fail(w, http.StatusBadRequest, types.UnsupportedResponseType, "Only the 'code' response type is supported")
		return
	}

	client, err := p.clients.Lookup(r.Context(), authReq.ClientID)
	if errors.Is(err, registry.ErrClientNotFound) {
		p.fail(w, http.StatusBadRequest, types.InvalidClient, "Unknown client_id")
		return
	} else if err != nil {
		p.log.Errorw("Failed to look up client", "error", err)
		p.fail(w, http.StatusInternalServerError, types.ServerError, "Failed to look up client")
		return
	}

	if !registry.HasRedirectURI(client, authReq.RedirectURI) {
		p.log.Warnw("Rejected unregistered redirect_uri", "client_id", logger.Redact(client.ClientID), "redirect_uri", authReq.RedirectURI)
		p.fail(w, http.StatusBadRequest, types.InvalidRequest, "redirect_uri not registered for this client")
		return
	}

	tenant, err := p.tenants.Resolve(authReq.Resource)
	if errors.Is(err, tenants.ErrUnknownResource) {
		p.fail(w, http.StatusBadRequest, types.InvalidRequest, "Unknown resource")
		return
	} else if err != nil {
		p.log.Errorw("Failed to resolve tenant", "resource", authReq.Resource, "error", err)
		p.fail(w, http.StatusInternalServerError, types.ServerError, "Tenant not configured")
		return
	}

	if authReq.CodeChallenge != "" && authReq.CodeChallengeMethod == "" {
		authReq.CodeChallengeMethod = "S256"
	}

	proxyState, err := p.pending.Begin(r.Context(), authReq)
	if err != nil {
		p.log.Errorw("Failed to store authorization request", "error", err)
		p.fail(w, http.StatusInternalServerError, types.ServerError, "Failed to start authorization")
		return
	}

	providerScopes := p.scopes.Derive(authReq.Scope, authReq.Resource)
	redirectURL := p.provider.AuthorizationURL(tenant, providers.AuthorizationRequest{
		RedirectURI:         handlerutils.ProxyURL(p.proxyBaseURL, r, "/callback"),
		State:               proxyState,
		Scopes:              providerScopes,
		CodeChallenge:       authReq.CodeChallenge,
		CodeChallengeMethod: authReq.CodeChallengeMethod,
	})

	p.log.Debugw("Redirecting to provider",
		"client_id", logger.Redact(authReq.ClientID),
		"resource", authReq.Resource,
		"tenant_id", tenant.TenantID,
		"scope", strings.Join(providerScopes, " "),
	)
	p.metrics.FlowStep("authorize", "ok")
	http.Redirect(w, r, redirectURL, http.StatusFound)
}
