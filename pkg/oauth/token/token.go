package token

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/obot-platform/mcp-entra-proxy/pkg/correlator"
	"github.com/obot-platform/mcp-entra-proxy/pkg/handlerutils"
	"github.com/obot-platform/mcp-entra-proxy/pkg/logger"
	"github.com/obot-platform/mcp-entra-proxy/pkg/metrics"
	"github.com/obot-platform/mcp-entra-proxy/pkg/providers"
	"github.com/obot-platform/mcp-entra-proxy/pkg/registry"
	"github.com/obot-platform/mcp-entra-proxy/pkg/tenants"
	"github.com/obot-platform/mcp-entra-proxy/pkg/types"
	"go.uber.org/zap"
)

type ClientAuthenticator interface {
	Authenticate(ctx context.Context, clientID, clientSecret string) (*types.ClientRegistration, error)
}

type CodeStore interface {
	Consume(ctx context.Context, code string) (*types.CodeExchange, error)
}

type Handler struct {
	clients      ClientAuthenticator
	codes        CodeStore
	tenants      tenants.Resolver
	provider     providers.Provider
	proxyBaseURL string
	log          *zap.SugaredLogger
	metrics      *metrics.Metrics
}

func NewHandler(clients ClientAuthenticator, codes CodeStore, resolver tenants.Resolver, provider providers.Provider, proxyBaseURL string, log *zap.SugaredLogger, m *metrics.Metrics) http.Handler {
	return &Handler{
		clients:      clients,
		codes:        codes,
		tenants:      resolver,
		provider:     provider,
		proxyBaseURL: proxyBaseURL,
		log:          log,
		metrics:      m,
	}
}

func (p *Handler) fail(w http.ResponseWriter, status int, code, description string) {
	p.metrics.FlowStep("token", code)
	w.Header().Set("Cache-Control", "no-store")
	handlerutils.OAuthError(w, status, code, description)
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params, err := handlerutils.ParseParams(w, r)
	if err != nil {
		p.fail(w, http.StatusBadRequest, types.InvalidRequest, "Invalid request body")
		return
	}

	if params.Get("grant_type") != "authorization_code" {
		p.fail(w, http.StatusBadRequest, types.UnsupportedGrantType, "Only the authorization_code grant type is supported")
		return
	}

	clientID := params.Get("client_id")
	clientSecret := params.Get("client_secret")
	code := params.Get("code")
	if clientID == "" || clientSecret == "" || code == "" {
		p.fail(w, http.StatusBadRequest, types.InvalidRequest, "Missing required parameters: client_id, client_secret, code")
		return
	}

	if _, err := p.clients.Authenticate(r.Context(), clientID, clientSecret); errors.Is(err, registry.ErrInvalidClient) {
		p.fail(w, http.StatusUnauthorized, types.InvalidClient, "Client authentication failed")
		return
	} else if err != nil {
		p.log.Errorw("Failed to authenticate client", "error", err)
		p.fail(w, http.StatusInternalServerError, types.ServerError, "Failed to authenticate client")
		return
	}

	// The code is consumed before the provider is contacted, so a failed exchange
	// cannot be retried with the same code.
	exchange, err := p.codes.Consume(r.Context(), code)
	if errors.Is(err, correlator.ErrUnknownCode) {
		p.fail(w, http.StatusBadRequest, types.InvalidGrant, "Unknown or expired authorization code")
		return
	} else if err != nil {
		p.log.Errorw("Failed to consume authorization code", "error", err)
		p.fail(w, http.StatusInternalServerError, types.ServerError, "Failed to exchange authorization code")
		return
	}

	tenant, err := p.tenants.Resolve(exchange.Resource)
	if err != nil {
		p.log.Errorw("Failed to resolve tenant for code exchange", "resource", exchange.Resource, "error", err)
		p.fail(w, http.StatusInternalServerError, types.ServerError, "Tenant configuration not found")
		return
	}

	start := time.Now()
	resp, err := p.provider.ExchangeCode(r.Context(), tenant, code, handlerutils.ProxyURL(p.proxyBaseURL, r, "/callback"), params.Get("code_verifier"))
	if err != nil {
		p.metrics.ProviderExchange("error", time.Since(start))
		p.log.Errorw("Provider token exchange failed", "tenant_id", tenant.TenantID, "error", err)
		p.fail(w, http.StatusInternalServerError, types.ServerError, "Token exchange with the provider failed")
		return
	}
	p.metrics.ProviderExchange(strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode == http.StatusOK {
		p.auditIDToken(clientID, tenant, resp.Body)
		p.metrics.FlowStep("token", "ok")
	} else {
		p.log.Infow("Relaying provider token error", "client_id", logger.Redact(clientID), "status", resp.StatusCode)
		p.metrics.FlowStep("token", "provider_error")
	}

	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(resp.Body); err != nil {
		p.log.Debugw("Failed to write token response", "error", err)
	}
}

func (p *Handler) auditIDToken(clientID string, tenant *types.TenantConfig, body []byte) {
	claims, err := providers.InspectIDToken(body)
	if err != nil {
		p.log.Debugw("Token response carried no readable id_token", "client_id", logger.Redact(clientID), "error", err)
		return
	}
	if claims.TenantID != "" && claims.TenantID != tenant.TenantID {
		p.log.Warnw("id_token tenant does not match the configured tenant",
			"client_id", logger.Redact(clientID),
			"expected_tenant_id", tenant.TenantID,
			"tenant_id", claims.TenantID,
		)
	}
	p.log.Infow("Token issued", "client_id", logger.Redact(clientID), "tenant_id", claims.TenantID, "oid", claims.ObjectID)
}
