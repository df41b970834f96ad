package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/obot-platform/mcp-entra-proxy/pkg/correlator"
	"github.com/obot-platform/mcp-entra-proxy/pkg/handlerutils"
	"github.com/obot-platform/mcp-entra-proxy/pkg/metrics"
	"github.com/obot-platform/mcp-entra-proxy/pkg/oauth/authorize"
	"github.com/obot-platform/mcp-entra-proxy/pkg/oauth/callback"
	"github.com/obot-platform/mcp-entra-proxy/pkg/oauth/register"
	"github.com/obot-platform/mcp-entra-proxy/pkg/oauth/token"
	"github.com/obot-platform/mcp-entra-proxy/pkg/providers"
	"github.com/obot-platform/mcp-entra-proxy/pkg/ratelimit"
	"github.com/obot-platform/mcp-entra-proxy/pkg/registry"
	"github.com/obot-platform/mcp-entra-proxy/pkg/scopes"
	"github.com/obot-platform/mcp-entra-proxy/pkg/telemetry"
	"github.com/obot-platform/mcp-entra-proxy/pkg/tenants"
	"github.com/obot-platform/mcp-entra-proxy/pkg/ttlstore"
	"github.com/obot-platform/mcp-entra-proxy/pkg/types"
	"go.uber.org/zap"
)

const (
	DefaultSweepInterval   = 5 * time.Minute
	DefaultRateLimitWindow = 15 * time.Minute
	DefaultRateLimitMax    = 5000
)

type OAuthProxy struct {
	config      *types.Config
	log         *zap.SugaredLogger
	metrics     *metrics.Metrics
	tracing     *telemetry.Tracing
	rateLimiter *ratelimit.RateLimiter
	metadata    *types.OAuthMetadata

	backend        *backend
	sweepers       []ttlstore.Sweeper
	registry       *registry.Registry
	authorizations *correlator.Authorizations
	codes          *correlator.Codes
	tenants        tenants.Resolver
	scopes         scopes.Policy
	provider       providers.Provider

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOAuthProxy builds the proxy and opens its store backend. A nil tracing
// disables tracing.
func NewOAuthProxy(config *types.Config, log *zap.SugaredLogger, tracing *telemetry.Tracing) (*OAuthProxy, error) {
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	if config.RateLimitWindow <= 0 {
		config.RateLimitWindow = DefaultRateLimitWindow
	}
	if config.RateLimitMax == 0 {
		config.RateLimitMax = DefaultRateLimitMax
	}
	if config.ProviderTimeout <= 0 {
		config.ProviderTimeout = providers.DefaultTimeout
	}

	resolver, err := newResolver(config)
	if err != nil {
		return nil, err
	}

	policy, err := scopes.New(config.ScopePolicy, config.FixedScopes)
	if err != nil {
		return nil, err
	}

	backend, err := openBackend(config.StoreBackend, config.DatabaseDSN, config.RedisURL)
	if err != nil {
		return nil, err
	}
	log.Infow("Using store backend", "backend", backend.describe())

	clients := newStore[types.StoredClient](backend, "clients", 0)
	pending := newStore[types.AuthorizationRequest](backend, "authorizations", correlator.DefaultTTL)
	issued := newStore[types.CodeExchange](backend, "codes", correlator.DefaultTTL)

	var sweepers []ttlstore.Sweeper
	for _, store := range []any{clients, pending, issued} {
		if sweeper, ok := store.(ttlstore.Sweeper); ok {
			sweepers = append(sweepers, sweeper)
		}
	}
	if backend.kind == BackendDatabase && len(sweepers) > 1 {
		// The durable table is shared, one cleanup covers every namespace.
		sweepers = sweepers[:1]
	}

	return &OAuthProxy{
		config:         config,
		log:            log,
		metrics:        metrics.New(),
		tracing:        tracing,
		rateLimiter:    ratelimit.NewRateLimiter(config.RateLimitWindow, config.RateLimitMax),
		backend:        backend,
		sweepers:       sweepers,
		registry:       registry.New(clients),
		authorizations: correlator.NewAuthorizations(pending),
		codes:          correlator.NewCodes(issued),
		tenants:        resolver,
		scopes:         policy,
		provider:       providers.NewEntraProvider(tracing.Transport(nil), config.ProviderTimeout),
		metadata: &types.OAuthMetadata{
			ResponseTypesSupported:            []string{"code"},
			GrantTypesSupported:               []string{"authorization_code"},
			CodeChallengeMethodsSupported:     []string{"S256"},
			TokenEndpointAuthMethodsSupported: []string{"client_secret_post"},
			ScopesSupported:                   []string{"openid", "profile", "email", "offline_access"},
		},
	}, nil
}

func newResolver(config *types.Config) (tenants.Resolver, error) {
	if config.TenantsFile != "" {
		resolver, err := tenants.LoadFile(config.TenantsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load tenants: %w", err)
		}
		return resolver, nil
	}
	return tenants.NewSingle(tenants.Tenant{
		TenantID:     config.TenantID,
		Authority:    config.Authority,
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
	}, config.AllowedResources), nil
}

// Start runs the background sweeper until ctx is cancelled or Close is called
func (p *OAuthProxy) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.config.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.sweep(ctx)
			}
		}
	}()

	return nil
}

func (p *OAuthProxy) sweep(ctx context.Context) {
	for _, sweeper := range p.sweepers {
		removed, err := sweeper.Sweep(ctx)
		if err != nil {
			p.log.Warnw("Failed to sweep expired entries", "error", err)
			continue
		}
		p.metrics.Swept(removed)
	}
	if n := p.rateLimiter.Cleanup(); n > 0 {
		p.log.Debugw("Dropped idle rate limit entries", "count", n)
	}
}

func (p *OAuthProxy) Close() error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	return p.backend.close()
}

func (p *OAuthProxy) SetupRoutes(mux *http.ServeMux) {
	authorizeHandler := authorize.NewHandler(p.registry, p.authorizations, p.tenants, p.scopes, p.provider, p.config.ProxyBaseURL, p.log, p.metrics)
	callbackHandler := callback.NewHandler(p.authorizations, p.codes, p.log, p.metrics)
	tokenHandler := token.NewHandler(p.registry, p.codes, p.tenants, p.provider, p.config.ProxyBaseURL, p.log, p.metrics)
	registerHandler := register.NewHandler(p.registry, p.log, p.metrics)

	mux.HandleFunc("GET /health", p.withCORS(p.healthHandler))
	mux.Handle("GET /metrics", p.metrics.Handler())

	// OAuth endpoints
	mux.HandleFunc("GET /authorize", p.withCORS(p.withRateLimit(authorizeHandler)))
	mux.HandleFunc("GET /callback", p.withCORS(p.withRateLimit(callbackHandler)))
	mux.HandleFunc("POST /oauth/token", p.withCORS(p.withRateLimit(tokenHandler)))
	mux.HandleFunc("POST /oidc/register", p.withCORS(p.withRateLimit(registerHandler)))

	// Metadata endpoints
	mux.HandleFunc("GET /.well-known/oauth-authorization-server", p.withCORS(p.oauthMetadataHandler))

	// Preflight for every route
	mux.HandleFunc("OPTIONS /", p.withCORS(http.NotFound))
}

// GetHandler returns an http.Handler for the OAuth proxy
func (p *OAuthProxy) GetHandler() http.Handler {
	mux := http.NewServeMux()
	p.SetupRoutes(mux)

	var handler http.Handler = mux
	handler = p.withRecover(handler)
	handler = withRequestID(handler)
	handler = p.tracing.Middleware(handler)

	return handlers.LoggingHandler(os.Stdout, handler)
}

// withCORS wraps a handler with CORS headers
func (p *OAuthProxy) withCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, mcp-protocol-version")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, X-Request-Id")
		w.Header().Set("Access-Control-Max-Age", strconv.Itoa(int((12 * time.Hour).Seconds())))

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// withRateLimit wraps a handler with rate limiting
func (p *OAuthProxy) withRateLimit(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p.rateLimiter != nil {
			clientIP := handlerutils.GetClientIP(r)
			if !p.rateLimiter.Allow(clientIP) {
				p.metrics.RateLimited()
				handlerutils.OAuthError(w, http.StatusTooManyRequests, types.TooManyRequests, "Rate limit exceeded")
				return
			}
		}
		next.ServeHTTP(w, r)
	}
}

// withRecover turns a handler panic into a bare server_error response
func (p *OAuthProxy) withRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				p.log.Errorw("Recovered from handler panic",
					"panic", rec,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", w.Header().Get("X-Request-Id"),
				)
				handlerutils.JSON(w, http.StatusInternalServerError, types.OAuthError{Error: types.ServerError})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-Id")
		if _, err := uuid.Parse(requestID); err != nil {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r)
	})
}

func (p *OAuthProxy) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := p.backend.ping(ctx); err != nil {
		p.log.Warnw("Health check failed", "backend", p.backend.describe(), "error", err)
		handlerutils.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	handlerutils.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (p *OAuthProxy) oauthMetadataHandler(w http.ResponseWriter, r *http.Request) {
	metadata := *p.metadata
	metadata.Issuer = handlerutils.ProxyURL(p.config.ProxyBaseURL, r, "")
	metadata.AuthorizationEndpoint = handlerutils.ProxyURL(p.config.ProxyBaseURL, r, "/authorize")
	metadata.TokenEndpoint = handlerutils.ProxyURL(p.config.ProxyBaseURL, r, "/oauth/token")
	metadata.RegistrationEndpoint = handlerutils.ProxyURL(p.config.ProxyBaseURL, r, "/oidc/register")

	handlerutils.JSON(w, http.StatusOK, metadata)
}

// ErrNoTenant is returned by ValidateConfig when neither a single tenant nor a
// tenants file is configured.
var ErrNoTenant = errors.New("either a tenant id with client credentials or a tenants file is required")

// ValidateConfig checks the settings NewOAuthProxy cannot default
func ValidateConfig(config *types.Config) error {
	if config.TenantsFile == "" {
		if config.TenantID == "" || config.ClientID == "" || config.ClientSecret == "" {
			return ErrNoTenant
		}
	}
	switch config.StoreBackend {
	case "", BackendMemory, BackendDatabase:
	case BackendRedis:
		if config.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the %s store backend", BackendRedis)
		}
	default:
		return fmt.Errorf("unknown store backend %q", config.StoreBackend)
	}
	if _, err := scopes.New(config.ScopePolicy, config.FixedScopes); err != nil {
		return err
	}
	return nil
}
