package register

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/obot-platform/mcp-entra-proxy/pkg/handlerutils"
	"github.com/obot-platform/mcp-entra-proxy/pkg/logger"
	"github.com/obot-platform/mcp-entra-proxy/pkg/metrics"
	"github.com/obot-platform/mcp-entra-proxy/pkg/registry"
	"github.com/obot-platform/mcp-entra-proxy/pkg/types"
	"go.uber.org/zap"
)

type ClientRegistrar interface {
	Register(ctx context.Context, redirectURIs []string, clientName string) (*types.ClientRegistration, error)
}

// Response is the RFC 7591 registration response
type Response struct {
	types.ClientRegistration
	ClientSecretExpiresAt   int64    `json:"client_secret_expires_at"`
	TokenEndpointAuthMethod string   `json:"token_endpoint_auth_method"`
	GrantTypes              []string `json:"grant_types"`
	ResponseTypes           []string `json:"response_types"`
}

type Handler struct {
	clients ClientRegistrar
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

func NewHandler(clients ClientRegistrar, log *zap.SugaredLogger, m *metrics.Metrics) http.Handler {
	return &Handler{
		clients: clients,
		log:     log,
		metrics: m,
	}
}

func (p *Handler) fail(w http.ResponseWriter, status int, code, description string) {
	p.metrics.FlowStep("register", code)
	handlerutils.OAuthError(w, status, code, description)
}

func (p *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > handlerutils.MaxBodyBytes {
		p.fail(w, http.StatusRequestEntityTooLarge, types.InvalidRequest, "Request payload too large, must be under 1 MiB")
		return
	}

	var clientMetadata map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, handlerutils.MaxBodyBytes)).Decode(&clientMetadata); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			p.fail(w, http.StatusRequestEntityTooLarge, types.InvalidRequest, "Request payload too large, must be under 1 MiB")
			return
		}
		p.fail(w, http.StatusBadRequest, types.InvalidRequest, "Invalid JSON payload")
		return
	}

	redirectURIs, clientName, err := parseClientMetadata(clientMetadata)
	if err != nil {
		p.fail(w, http.StatusBadRequest, types.InvalidClientMetadata, err.Error())
		return
	}

	client, err := p.clients.Register(r.Context(), redirectURIs, clientName)
	if errors.Is(err, registry.ErrInvalidMetadata) {
		p.fail(w, http.StatusBadRequest, types.InvalidClientMetadata, err.Error())
		return
	} else if err != nil {
		p.log.Errorw("Failed to register client", "error", err)
		p.fail(w, http.StatusInternalServerError, types.ServerError, "Failed to register client")
		return
	}

	p.log.Infow("Registered client", "client_id", logger.Redact(client.ClientID), "client_name", client.ClientName, "redirect_uris", client.RedirectURIs)
	p.metrics.FlowStep("register", "ok")
	handlerutils.JSON(w, http.StatusCreated, Response{
		ClientRegistration:      *client,
		ClientSecretExpiresAt:   0,
		TokenEndpointAuthMethod: "client_secret_post",
		GrantTypes:              []string{"authorization_code"},
		ResponseTypes:           []string{"code"},
	})
}

func parseClientMetadata(metadata map[string]any) ([]string, string, error) {
	rawURIs, ok := metadata["redirect_uris"].([]any)
	if !ok || len(rawURIs) == 0 {
		return nil, "", fmt.Errorf("redirect_uris is required and must be a non-empty array")
	}

	redirectURIs := make([]string, len(rawURIs))
	for i, raw := range rawURIs {
		uri, ok := raw.(string)
		if !ok {
			return nil, "", fmt.Errorf("each redirect_uri must be a string")
		}
		redirectURIs[i] = uri
	}

	var clientName string
	if raw, present := metadata["client_name"]; present && raw != nil {
		if clientName, ok = raw.(string); !ok {
			return nil, "", fmt.Errorf("field client_name must be a string")
		}
	}

	return redirectURIs, clientName, nil
}
