package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTokenURL is the Teamleader Focus token endpoint.
const DefaultTokenURL = "https://focus.teamleader.eu/oauth2/access_token"

// Refresh flow defaults.
const (
	// DefaultRefreshThreshold is how long before expiry a token counts as
	// near-expiry and gets refreshed.
	DefaultRefreshThreshold = 15 * time.Minute

	// DefaultLockPollInterval is how often a caller that lost the lock race
	// re-reads the store while waiting for the holder to finish.
	DefaultLockPollInterval = 500 * time.Millisecond

	// DefaultLockWaitTimeout bounds how long a waiter polls before giving
	// up and proceeding with whatever the store holds.
	DefaultLockWaitTimeout = 30 * time.Second
)

// RefresherConfig configures a Refresher. Zero values fall back to the
// defaults above.
type RefresherConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string

	RefreshThreshold time.Duration
	LockPollInterval time.Duration
	LockWaitTimeout  time.Duration

	HTTPClient *http.Client
}

// Refresher hands out currently valid access tokens, refreshing them via the
// OAuth2 refresh_token grant when they near expiry. At most one refresh runs
// concurrently across all callers sharing the same Locker backend; losers of
// the lock race wait for the winner's result instead of refreshing
// themselves.
type Refresher struct {
	store   Store
	durable Store
	locker  Locker
	cfg     RefresherConfig
	client  *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithRefresherLogger sets the logger.
func WithRefresherLogger(logger *slog.Logger) RefresherOption {
	return func(r *Refresher) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRefresherClock injects the time source, used by tests.
func WithRefresherClock(now func() time.Time) RefresherOption {
	return func(r *Refresher) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRefresher creates a Refresher over the given store and lock. When the
// store is a DualStore, refresh operations read the refresh token from its
// durable layer directly, bypassing the cache.
func NewRefresher(store Store, locker Locker, cfg RefresherConfig, opts ...RefresherOption) *Refresher {
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = DefaultRefreshThreshold
	}
	if cfg.LockPollInterval <= 0 {
		cfg.LockPollInterval = DefaultLockPollInterval
	}
	if cfg.LockWaitTimeout <= 0 {
		cfg.LockWaitTimeout = DefaultLockWaitTimeout
	}

	r := &Refresher{
		store:   store,
		durable: store,
		locker:  locker,
		cfg:     cfg,
		client:  cfg.HTTPClient,
		logger:  slog.Default(),
		now:     time.Now,
	}
	if ds, ok := store.(*DualStore); ok {
		r.durable = ds.Durable()
	}
	if r.client == nil {
		r.client = &http.Client{Timeout: 30 * time.Second}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AccessToken returns an access token valid for at least the refresh
// threshold's grace period. It returns ErrNoToken when no authorization has
// ever been completed, and ErrRefreshTokenInvalid when the refresh token was
// rejected and all credentials were purged.
func (r *Refresher) AccessToken(ctx context.Context) (string, error) {
	token, err := r.store.Get(ctx)
	if err != nil {
		return "", err
	}
	if !token.NearExpiry(r.now(), r.cfg.RefreshThreshold) {
		return token.AccessToken, nil
	}
	return r.Refresh(ctx)
}

// Refresh performs (or waits for) a single-flight token refresh and returns
// the resulting access token.
func (r *Refresher) Refresh(ctx context.Context) (string, error) {
	acquired, err := r.locker.TryAcquire(ctx)
	if err != nil {
		return "", fmt.Errorf("tokens: %w", err)
	}
	if !acquired {
		return r.waitForHolder(ctx)
	}

	// Release on every exit path. The parent context may already be
	// canceled by the time we unwind, so the release gets its own.
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := r.locker.Release(releaseCtx); err != nil {
			r.logger.Error("failed to release refresh lock", "error", err)
		}
	}()

	// Double-check against the durable store: another instance may have
	// finished a refresh between our expiry check and the lock acquire.
	if token, err := r.durable.Get(ctx); err == nil && !token.NearExpiry(r.now(), r.cfg.RefreshThreshold) {
		return token.AccessToken, nil
	}

	return r.doRefresh(ctx)
}

// waitForHolder polls the durable store while another caller performs the
// refresh. It returns as soon as a fresh token appears. On timeout it
// returns whatever the store holds, possibly stale, rather than waiting
// indefinitely.
func (r *Refresher) waitForHolder(ctx context.Context) (string, error) {
	r.logger.Debug("refresh already in flight, waiting for holder")

	deadline := r.now().Add(r.cfg.LockWaitTimeout)
	ticker := time.NewTicker(r.cfg.LockPollInterval)
	defer ticker.Stop()

	for r.now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		token, err := r.durable.Get(ctx)
		if err != nil {
			continue
		}
		if !token.NearExpiry(r.now(), r.cfg.RefreshThreshold) {
			return token.AccessToken, nil
		}
	}

	token, err := r.durable.Get(ctx)
	if err != nil {
		return "", err
	}
	r.logger.Warn("gave up waiting for in-flight refresh, returning stored token")
	return token.AccessToken, nil
}

// tokenResponse is the token endpoint's success body. refresh_token is
// optional; absence means "unchanged".
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// doRefresh performs the actual refresh_token grant. Caller holds the lock.
func (r *Refresher) doRefresh(ctx context.Context) (string, error) {
	// The refresh token is read from the durable store, not the cache: a
	// stale cache entry surviving an external token reset would otherwise
	// feed a dead refresh token into the grant.
	prior, err := r.durable.Get(ctx)
	if errors.Is(err, ErrNoToken) {
		// The durable store is empty; drop any stale cache entry too.
		r.purge(ctx)
		return "", ErrNoToken
	}
	if err != nil {
		return "", err
	}
	if prior.RefreshToken == "" {
		r.logger.Error("stored token has no refresh token, purging")
		r.purge(ctx)
		return "", ErrNoToken
	}

	form := url.Values{}
	form.Set("client_id", r.cfg.ClientID)
	form.Set("client_secret", r.cfg.ClientSecret)
	form.Set("refresh_token", prior.RefreshToken)
	form.Set("grant_type", "refresh_token")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		// Transient: keep the stored token, the caller may retry.
		return "", fmt.Errorf("refresh request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		// Handled below.
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		// The refresh token itself is dead. Retrying with it is certain to
		// fail, so purge everything and force re-authorization.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		r.logger.Error("refresh token rejected, purging stored credentials",
			"status", resp.StatusCode,
			"body", string(body))
		r.purge(ctx)
		return "", ErrRefreshTokenInvalid
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decoding refresh response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("refresh response missing access token")
	}
	if tr.ExpiresIn <= 0 {
		tr.ExpiresIn = DefaultExpiresIn
	}

	now := r.now()
	token := &Token{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		TokenType:    tr.TokenType,
		ExpiresIn:    tr.ExpiresIn,
		ExpiresAt:    now.Add(time.Duration(tr.ExpiresIn) * time.Second),
		UpdatedAt:    now,
	}
	// A response that omits refresh_token means the old one stays valid.
	// Never store a nil refresh token once one was obtained.
	if token.RefreshToken == "" {
		token.RefreshToken = prior.RefreshToken
	}

	if err := r.store.Save(ctx, token); err != nil {
		return "", fmt.Errorf("persisting refreshed token: %w", err)
	}

	r.logger.Info("access token refreshed", "expires_at", token.ExpiresAt)
	return token.AccessToken, nil
}

// purge clears both storage layers. Best-effort: a failing layer is logged,
// not propagated, since the purge itself is already an error path.
func (r *Refresher) purge(ctx context.Context) {
	if err := r.store.Clear(ctx); err != nil {
		r.logger.Error("failed to purge stored tokens", "error", err)
	}
}
