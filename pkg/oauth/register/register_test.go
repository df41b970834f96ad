package register

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/obot-platform/mcp-entra-proxy/pkg/logger"
	"github.com/obot-platform/mcp-entra-proxy/pkg/registry"
	"github.com/obot-platform/mcp-entra-proxy/pkg/ttlstore"
	"github.com/obot-platform/mcp-entra-proxy/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newHandler() (http.Handler, *registry.Registry) {
	reg := registry.New(ttlstore.NewMemory[types.StoredClient](0))
	return NewHandler(reg, zap.NewNop().Sugar(), nil), reg
}

func post(handler http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/oidc/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRegister(t *testing.T) {
	handler, reg := newHandler()

	rec := post(handler, `{"redirect_uris":["https://client.example/cb"],"client_name":"Inspector"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.NotEmpty(t, resp["client_id"])
	assert.NotEmpty(t, resp["client_secret"])
	assert.Equal(t, []any{"https://client.example/cb"}, resp["redirect_uris"])
	assert.Equal(t, "Inspector", resp["client_name"])
	assert.NotZero(t, resp["client_id_issued_at"])
	assert.Equal(t, float64(0), resp["client_secret_expires_at"])
	assert.Equal(t, "client_secret_post", resp["token_endpoint_auth_method"])
	assert.Equal(t, []any{"authorization_code"}, resp["grant_types"])
	assert.Equal(t, []any{"code"}, resp["response_types"])

	_, err := reg.Authenticate(context.Background(), resp["client_id"].(string), resp["client_secret"].(string))
	assert.NoError(t, err)
}

func TestRegisterLogsRedactedClientID(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	reg := registry.New(ttlstore.NewMemory[types.StoredClient](0))
	handler := NewHandler(reg, zap.New(core).Sugar(), nil)

	rec := post(handler, `{"redirect_uris":["https://client.example/cb"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	clientID := resp["client_id"].(string)
	clientSecret := resp["client_secret"].(string)

	entries := logs.FilterMessage("Registered client").All()
	require.Len(t, entries, 1)
	assert.Equal(t, logger.Redact(clientID), entries[0].ContextMap()["client_id"])

	for _, entry := range logs.All() {
		for _, value := range entry.ContextMap() {
			assert.NotContains(t, fmt.Sprint(value), clientID)
			assert.NotContains(t, fmt.Sprint(value), clientSecret)
		}
	}
}

func TestRegisterWithoutClientName(t *testing.T) {
	handler, _ := newHandler()

	rec := post(handler, `{"redirect_uris":["http://localhost:6274/oauth/callback"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "client_name")
}

func TestRegisterRejectsInvalidMetadata(t *testing.T) {
	handler, _ := newHandler()

	tests := []struct {
		name string
		body string
	}{
		{"missing redirect_uris", `{"client_name":"x"}`},
		{"empty redirect_uris", `{"redirect_uris":[]}`},
		{"redirect_uris not an array", `{"redirect_uris":"https://client.example/cb"}`},
		{"non-string redirect_uri", `{"redirect_uris":[42]}`},
		{"relative redirect_uri", `{"redirect_uris":["/cb"]}`},
		{"non-string client_name", `{"redirect_uris":["https://client.example/cb"],"client_name":7}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(handler, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error":"invalid_client_metadata"`)
		})
	}
}

func TestRegisterRejectsMalformedJSON(t *testing.T) {
	handler, _ := newHandler()

	rec := post(handler, `{"redirect_uris":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error":"invalid_request"`)
}

func TestRegisterRejectsLargeBody(t *testing.T) {
	handler, _ := newHandler()

	body := `{"redirect_uris":["https://client.example/cb"],"client_name":"` + strings.Repeat("a", 2<<20) + `"}`
	rec := post(handler, body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
