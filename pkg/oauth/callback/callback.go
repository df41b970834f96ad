package callback

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/obot-platform/mcp-entra-proxy/pkg/correlator"
	"github.com/obot-platform/mcp-entra-proxy/pkg/handlerutils"
	"github.com/obot-platform/mcp-entra-proxy/pkg/logger"
	"github.com/obot-platform/mcp-entra-proxy/pkg/metrics"
	"github.com/obot-platform/mcp-entra-proxy/pkg/types"
	"go.uber.org/zap"
)

type AuthorizationStore interface {
	Consume(ctx context.Context, state string) (*types.AuthorizationRequest, error)
}

type CodeStore interface {
	Record(ctx context.Context, code, resource string) error
}

type Handler struct {
	pending AuthorizationStore
	codes   CodeStore
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewHandler(pending AuthorizationStore, codes CodeStore, log *zap.SugaredLogger, m *metrics.Metrics) http.Handler {
	return &Handler{
		pending: pending,
		codes:   codes,
		log:     log,
		metrics: m,
	}
}

func (p *Handler) fail(w http.ResponseWriter, status int, code, description string) {
	p.metrics.FlowStep("callback", code)
	handlerutils.OAuthError(w, status, code, description)
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	state := params.Get("state")
	if state == "" {
		p.fail(w, http.StatusBadRequest, types.InvalidRequest, "Missing state parameter")
		return
	}

	// Consuming the record here makes the state single use whatever happens next.
	authReq, err := p.pending.Consume(r.Context(), state)
	if errors.Is(err, correlator.ErrUnknownState) {
		p.fail(w, http.StatusBadRequest, types.InvalidRequest, "Unknown or expired state")
		return
	} else if err != nil {
		p.log.Errorw("Failed to consume authorization request", "error", err)
		p.fail(w, http.StatusInternalServerError, types.ServerError, "Failed to complete authorization")
		return
	}

	if providerError := params.Get("error"); providerError != "" {
		result := url.Values{
			"error": {providerError},
			"state": {authReq.OriginalState},
		}
		if description := params.Get("error_description"); description != "" {
			result.Set("error_description", description)
		}
		p.log.Infow("Provider returned an authorization error", "client_id", logger.Redact(authReq.ClientID), "error", providerError)
		p.metrics.FlowStep("callback", "provider_error")
		p.redirect(w, r, authReq.RedirectURI, result)
		return
	}

	code := params.Get("code")
	if code == "" {
		p.fail(w, http.StatusBadRequest, types.InvalidRequest, "Missing code parameter")
		return
	}

	if err := p.codes.Record(r.Context(), code, authReq.Resource); err != nil {
		p.log.Errorw("Failed to record authorization code", "error", err)
		p.fail(w, http.StatusInternalServerError, types.ServerError, "Failed to complete authorization")
		return
	}

	p.metrics.FlowStep("callback", "ok")
	p.redirect(w, r, authReq.RedirectURI, url.Values{
		"code":  {code},
		"state": {authReq.OriginalState},
	})
}

func (p *Handler) redirect(w http.ResponseWriter, r *http.Request, redirectURI string, params url.Values) {
	target, err := handlerutils.AppendQuery(redirectURI, params)
	if err != nil {
		// Registered URIs are validated as absolute URIs, so this only happens with corrupt storage.
		p.log.Errorw("Failed to build client redirect", "error", err)
		p.fail(w, http.StatusInternalServerError, types.ServerError, "Invalid redirect_uri")
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}
