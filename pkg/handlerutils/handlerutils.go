package handlerutils

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/obot-platform/mcp-entra-proxy/pkg/types"
)

// MaxBodyBytes bounds every request body the proxy decodes
const MaxBodyBytes = 1 << 20

func JSON(w http.ResponseWriter, statusCode int, obj any) {
	data, err := json.Marshal(obj)
	if err != nil {
		statusCode = http.StatusInternalServerError
		data, _ = json.Marshal(types.OAuthError{
			Error:            types.ServerError,
			ErrorDescription: "Failed to encode JSON response",
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(append(data, '\n'))
}

// OAuthError writes an RFC 6749 error body
func OAuthError(w http.ResponseWriter, statusCode int, code, description string) {
	JSON(w, statusCode, types.OAuthError{
		Error:            code,
		ErrorDescription: description,
	})
}

// GetClientIP extracts the client IP from the request using the X-Forwarded-For,
// X-Real-IP and RemoteAddr headers.
func GetClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	ip := r.RemoteAddr
	if colonIndex := strings.LastIndex(ip, ":"); colonIndex != -1 {
		ip = ip[:colonIndex]
	}
	return ip
}

// GetBaseURL returns the URL of the request without the path and
// infers the scheme (http or https)
func GetBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, r.Host)
}

// ParseParams reads request parameters from a form encoded or JSON body. Query
// parameters are not consulted. JSON values that are not strings are rejected.
func ParseParams(w http.ResponseWriter, r *http.Request) (url.Values, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		values := url.Values{}
		for key, raw := range body {
			switch v := raw.(type) {
			case string:
				values.Set(key, v)
			case nil:
			default:
				return nil, fmt.Errorf("parameter %s must be a string", key)
			}
		}
		return values, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("invalid form body: %w", err)
	}
	return r.PostForm, nil
}

// AppendQuery returns target with params merged into its query, keeping any
// parameters already present that params does not override.
func AppendQuery(target string, params url.Values) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	query := u.Query()
	for key, values := range params {
		query[key] = values
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// ProxyURL joins path onto the configured public base URL of the proxy, or onto
// the request's base URL when none is configured.
func ProxyURL(configuredBaseURL string, r *http.Request, path string) string {
	base := configuredBaseURL
	if base == "" {
		base = GetBaseURL(r)
	}
	return strings.TrimSuffix(base, "/") + path
}
