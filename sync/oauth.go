// ABOUTME: OAuth configuration and token management for the Webex API
// ABOUTME: Handles token persistence via SecretStore and refresh with rotation
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/oauth2"
)

const (
	// Secret keys within the SecretStore.
	tokenSecretKey = "webex-token.json"

	// CDR feed access requires the analytics read scope.
	scopeAnalyticsRead = "analytics:read_all"
)

// WebexEndpoint is the Webex OAuth 2.0 endpoint pair.
var WebexEndpoint = oauth2.Endpoint{
	AuthURL:  "https://webexapis.com/v1/authorize",
	TokenURL: "https://webexapis.com/v1/access_token",
}

// NewOAuthConfig creates the OAuth2 config for the Webex CDR API.
// Client credentials come from WEBEX_CLIENT_ID / WEBEX_CLIENT_SECRET.
func NewOAuthConfig() (*oauth2.Config, error) {
	clientID := os.Getenv("WEBEX_CLIENT_ID")
	clientSecret := os.Getenv("WEBEX_CLIENT_SECRET")

	if clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("webex OAuth credentials not configured. Set WEBEX_CLIENT_ID and WEBEX_CLIENT_SECRET environment variables")
	}

	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  "http://localhost:8080/oauth/callback",
		Scopes:       []string{scopeAnalyticsRead},
		Endpoint:     WebexEndpoint,
	}, nil
}

// SaveToken persists an OAuth token to the secret store.
func SaveToken(store SecretStore, token *oauth2.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	return store.Set(tokenSecretKey, string(data))
}

// LoadToken loads a previously saved OAuth token. Returns nil when no
// token has been stored (auth init has not run).
func LoadToken(store SecretStore) (*oauth2.Token, error) {
	data, err := store.Get(tokenSecretKey)
	if err != nil {
		return nil, err
	}
	if data == "" {
		return nil, nil
	}

	var token oauth2.Token
	if err := json.Unmarshal([]byte(data), &token); err != nil {
		return nil, fmt.Errorf("failed to decode token: %w", err)
	}
	return &token, nil
}

// ClearToken removes stored credentials.
func ClearToken(store SecretStore) error {
	return store.Delete(tokenSecretKey)
}

// TokenProvider is what the fetcher needs from the auth layer: bearer
// headers for each request, and a synchronous, idempotent refresh hook
// invoked on 401.
type TokenProvider interface {
	Headers() map[string]string
	Refresh(ctx context.Context) error
}

// AuthManager manages the Webex access token lifecycle: loading from the
// secret store, attaching headers, and refreshing (with refresh-token
// rotation) when the API reports the access token expired.
type AuthManager struct {
	config *oauth2.Config
	store  SecretStore
	token  *oauth2.Token
}

// NewAuthManager loads the stored token and returns a manager ready for
// API calls. Fails when auth init has never been run.
func NewAuthManager(store SecretStore) (*AuthManager, error) {
	config, err := NewOAuthConfig()
	if err != nil {
		return nil, err
	}

	token, err := LoadToken(store)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, fmt.Errorf("no stored Webex token. Run 'cdrsync auth init' first")
	}

	return &AuthManager{config: config, store: store, token: token}, nil
}

// Headers returns the authorization headers for API requests.
func (m *AuthManager) Headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + m.token.AccessToken,
		"Content-Type":  "application/json",
	}
}

// Refresh exchanges the refresh token for a new access token and
// persists the result. Webex rotates refresh tokens, so the new token is
// saved immediately to survive a crash between refresh and next run.
func (m *AuthManager) Refresh(ctx context.Context) error {
	if m.token.RefreshToken == "" {
		return fmt.Errorf("stored token has no refresh token. Run 'cdrsync auth init' again")
	}

	src := m.config.TokenSource(ctx, &oauth2.Token{RefreshToken: m.token.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		return fmt.Errorf("failed to refresh access token: %w", err)
	}

	// Keep the old refresh token if the endpoint didn't rotate it
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = m.token.RefreshToken
	}
	m.token = fresh

	if err := SaveToken(m.store, fresh); err != nil {
		return fmt.Errorf("failed to save refreshed token: %w", err)
	}

	return nil
}

// Token returns the current token (for auth status reporting).
func (m *AuthManager) Token() *oauth2.Token {
	return m.token
}
