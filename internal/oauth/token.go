// Package oauth refreshes Google OAuth access tokens for pooled
// credentials. Only the refresh leg is needed here: onboarding a new
// credential is an out-of-band step that produces the JSON files this
// gateway consumes, not something the gateway performs itself.
package oauth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
)

const tokenEndpoint = "https://oauth2.googleapis.com/token"

// Client refreshes access tokens against Google's OAuth token endpoint
// using a fixed client id/secret pair shared by every pooled credential.
type Client struct {
	config *oauth2.Config
}

// NewClient builds a refresh client for the given OAuth client id/secret.
func NewClient(clientID, clientSecret string) *Client {
	return &Client{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL: tokenEndpoint,
			},
		},
	}
}

// Refresh exchanges refreshToken for a new access token and its expiry,
// expressed as a seconds-epoch timestamp to match the credential store's
// representation.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (accessToken string, expiry int64, err error) {
	if refreshToken == "" {
		return "", 0, fmt.Errorf("oauth: empty refresh token")
	}

	src := c.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return "", 0, fmt.Errorf("oauth: refresh failed: %w", err)
	}
	if tok.AccessToken == "" {
		return "", 0, fmt.Errorf("oauth: refresh returned empty access token")
	}
	return tok.AccessToken, tok.Expiry.Unix(), nil
}
