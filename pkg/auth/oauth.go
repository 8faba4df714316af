// Package auth implements the Teamleader Focus OAuth2 authorization-code
// flow: building the authorization URL the user is sent to, and exchanging
// the returned code for the initial token pair. Subsequent refreshes are
// handled by the tokens package.
package auth

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/focuskit/focuskit/pkg/tokens"
)

// DefaultAuthorizeURL is the Teamleader Focus authorization endpoint.
const DefaultAuthorizeURL = "https://focus.teamleader.eu/oauth2/authorize"

// Config holds the OAuth2 client registration for a Teamleader Focus
// integration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// AuthorizeURL and TokenURL default to the Focus endpoints and only
	// need to be set when pointing at a test server.
	AuthorizeURL string
	TokenURL     string
}

func (c Config) oauth2Config() *oauth2.Config {
	authorizeURL := c.AuthorizeURL
	if authorizeURL == "" {
		authorizeURL = DefaultAuthorizeURL
	}
	tokenURL := c.TokenURL
	if tokenURL == "" {
		tokenURL = tokens.DefaultTokenURL
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		RedirectURL:  c.RedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:   authorizeURL,
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// AuthorizationURL returns the URL to send the user to. The state parameter
// is echoed back on the callback and must be verified by the caller.
func (c Config) AuthorizationURL(state string) string {
	return c.oauth2Config().AuthCodeURL(state)
}

// Exchange trades an authorization code for the initial token pair and
// returns it as a tokens.Token ready to be persisted.
func (c Config) Exchange(ctx context.Context, code string) (*tokens.Token, error) {
	tok, err := c.oauth2Config().Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging authorization code: %w", err)
	}

	now := time.Now()
	expiresAt := tok.Expiry
	if expiresAt.IsZero() {
		expiresAt = now.Add(tokens.DefaultExpiresIn * time.Second)
	}

	return &tokens.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    int(time.Until(expiresAt).Seconds()),
		ExpiresAt:    expiresAt,
		UpdatedAt:    now,
	}, nil
}
