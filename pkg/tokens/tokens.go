// Package tokens manages the OAuth2 credential pair for the Teamleader Focus
// API: a durable store as source of truth, an optional volatile cache in
// front of it, and a Refresher that hands out currently valid access tokens,
// transparently performing a single-flight refresh_token grant when the
// stored token nears expiry.
package tokens

import (
	"errors"
	"time"
)

// DefaultExpiresIn is assumed when the token endpoint omits expires_in.
const DefaultExpiresIn = 3600

// Sentinel errors for token state.
var (
	// ErrNoToken means no token has ever been obtained (or it was purged).
	// The caller must complete the OAuth authorization flow.
	ErrNoToken = errors.New("tokens: no token stored")

	// ErrRefreshTokenInvalid means the authorization server rejected the
	// refresh token (HTTP 400/401). All stored credentials have been purged;
	// retrying is pointless until re-authorization.
	ErrRefreshTokenInvalid = errors.New("tokens: refresh token rejected by authorization server")
)

// Token is the current OAuth2 credential pair and its expiry. Exactly one
// token exists per deployment; the stores in this package persist it under a
// single fixed key.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresIn    int       `json:"expires_in,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Valid reports whether the token carries an access token that has not
// expired at the given instant.
func (t *Token) Valid(now time.Time) bool {
	return t != nil && t.AccessToken != "" && now.Before(t.ExpiresAt)
}

// NearExpiry reports whether the token is within threshold of expiring and
// should be refreshed before use.
func (t *Token) NearExpiry(now time.Time, threshold time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return true
	}
	return !now.Before(t.ExpiresAt.Add(-threshold))
}

// Clone returns an independent copy so stored records can't be mutated
// through shared pointers.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
