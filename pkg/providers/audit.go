package providers

import (
	"encoding/json"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// IDTokenClaims identifies the subject of an id_token for logging
type IDTokenClaims struct {
	TenantID string
	ObjectID string
	Audience []string
}

var errNoIDToken = errors.New("no id_token in response")

// InspectIDToken decodes the id_token in a token response body WITHOUT verifying
// its signature. The result is only fit for logging.
func InspectIDToken(body []byte) (*IDTokenClaims, error) {
	var tokenResponse struct {
		IDToken string `json:"id_token"`
	}
	if err := json.Unmarshal(body, &tokenResponse); err != nil {
		return nil, err
	}
	if tokenResponse.IDToken == "" {
		return nil, errNoIDToken
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenResponse.IDToken, claims); err != nil {
		return nil, err
	}

	result := &IDTokenClaims{}
	result.TenantID, _ = claims["tid"].(string)
	result.ObjectID, _ = claims["oid"].(string)
	result.Audience, _ = claims.GetAudience()
	return result, nil
}
