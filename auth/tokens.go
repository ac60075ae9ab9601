package auth

import (
	"encoding/json"

	"github.com/calder-labs/gapi"
)

// tokenResponse is the token endpoint's JSON reply. refresh_token is only
// present on the authorization-code exchange.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

func parseTokenResponse(body []byte) (*tokenResponse, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil || tr.AccessToken == "" {
		return nil, gapi.ErrInvalidResponse("Failed to parse newly fetched tokens")
	}
	return &tr, nil
}
