package focus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/focuskit/focuskit/pkg/throttle"
)

// DefaultBaseURL is the Teamleader Focus API root.
const DefaultBaseURL = "https://api.focus.teamleader.eu"

const defaultUserAgent = "focuskit/1.0"

// TokenSource supplies a currently valid access token for the Authorization
// header. tokens.Refresher satisfies it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// refresher is the optional extension a TokenSource can implement to support
// a forced refresh after a 401 response.
type refresher interface {
	Refresh(ctx context.Context) (string, error)
}

// Client issues requests against the Focus API with client-side throttling,
// automatic bearer tokens, rate-limit header reconciliation, and bounded
// retries with exponential backoff.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	tokens     TokenSource
	limiter    *throttle.Limiter
	pacer      *rate.Limiter
	backoff    BackoffConfig
	metrics    *Metrics
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL points the client at a different API root, typically a test
// server.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithThrottle replaces the default limiter, for sharing one limiter between
// clients or injecting a test clock.
func WithThrottle(limiter *throttle.Limiter) ClientOption {
	return func(c *Client) {
		if limiter != nil {
			c.limiter = limiter
		}
	}
}

// WithPacer replaces the hard ceiling pacer. Unlike the advisory limiter,
// the pacer blocks: it caps the absolute outbound rate even when callers
// ignore advised delays.
func WithPacer(pacer *rate.Limiter) ClientOption {
	return func(c *Client) {
		if pacer != nil {
			c.pacer = pacer
		}
	}
}

// WithBackoff tunes the retry backoff.
func WithBackoff(cfg BackoffConfig) ClientOption {
	return func(c *Client) {
		c.backoff = cfg
	}
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(metrics *Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = metrics
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// NewClient creates a Focus API client. The token source is required; every
// request carries a bearer token from it.
func NewClient(tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		userAgent: defaultUserAgent,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
				Proxy:               http.ProxyFromEnvironment,
			},
		},
		tokens:  tokens,
		limiter: throttle.New(),
		// The pacer enforces the 200/min ceiling outright; the advisory
		// limiter shapes traffic well before that point.
		pacer:   rate.NewLimiter(rate.Limit(float64(throttle.DefaultLimit)/throttle.DefaultWindow.Seconds()), 5),
		backoff: DefaultBackoffConfig(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Limiter exposes the client's throttle limiter for diagnostics.
func (c *Client) Limiter() *throttle.Limiter {
	return c.limiter
}

// Get calls a Focus API read method (for example "companies.info") with the
// given query parameters, decoding the JSON response into out when non-nil.
func (c *Client) Get(ctx context.Context, method string, query url.Values, out any) error {
	path := "/" + strings.TrimLeft(method, "/")
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	body, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	return decodeInto(body, out)
}

// Post calls a Focus API method with a JSON payload, decoding the JSON
// response into out when non-nil.
func (c *Client) Post(ctx context.Context, method string, payload, out any) error {
	path := "/" + strings.TrimLeft(method, "/")
	body, err := c.Do(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	return decodeInto(body, out)
}

func decodeInto(body []byte, out any) error {
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("focus: decoding response: %w", err)
	}
	return nil
}

// Do performs one API call with the full throttle/token/retry pipeline and
// returns the raw response body.
func (c *Client) Do(ctx context.Context, httpMethod, path string, payload any) ([]byte, error) {
	var bodyBytes []byte
	if payload != nil {
		var err error
		bodyBytes, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("focus: encoding request payload: %w", err)
		}
	}

	var lastErr error
	forcedRefresh := false

	for attempt := 0; attempt <= c.backoff.MaxAttempts; attempt++ {
		decision := c.limiter.Check()
		if !decision.CanProceed {
			c.logger.Warn("local rate limit exhausted, waiting",
				"wait", decision.WaitTime,
				"reason", decision.Reason)
			if err := sleepCtx(ctx, decision.WaitTime); err != nil {
				return nil, err
			}
			lastErr = fmt.Errorf("focus: rate limit exhausted (%s)", decision.Reason)
			continue
		}
		if decision.Delay > 0 {
			c.metrics.observeThrottle(decision.Delay)
			if err := sleepCtx(ctx, decision.Delay); err != nil {
				return nil, err
			}
		}
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, err
		}

		accessToken, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return nil, fmt.Errorf("focus: cannot authenticate: %w", err)
		}

		req, err := c.newRequest(ctx, httpMethod, path, bodyBytes, accessToken)
		if err != nil {
			return nil, err
		}

		// Record on dispatch, not on completion: the remote window counts
		// requests regardless of outcome, and recording late would
		// under-count in-flight concurrent calls.
		c.limiter.Record()

		start := time.Now()
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("focus: request failed: %w", err)
			c.logger.Warn("request failed, retrying", "error", err, "attempt", attempt)
			if err := sleepCtx(ctx, backoffDelay(c.backoff, attempt+1)); err != nil {
				return nil, err
			}
			continue
		}

		c.limiter.UpdateFromHeaders(resp.Header)
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		c.metrics.observeRequest(httpMethod, resp.StatusCode, time.Since(start))

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			c.metrics.observeRateLimited()
			retryAfter := c.limiter.Handle429(resp.Header)
			lastErr = &APIError{
				StatusCode: resp.StatusCode,
				Method:     httpMethod,
				Path:       path,
				Body:       excerpt(body),
				RequestID:  req.Header.Get("X-Request-Id"),
			}
			if err := sleepCtx(ctx, retryAfter); err != nil {
				return nil, err
			}
			continue

		case resp.StatusCode == http.StatusUnauthorized && !forcedRefresh:
			// The token may have been revoked out-of-band. Force one
			// refresh and retry before giving up.
			r, ok := c.tokens.(refresher)
			if !ok {
				return nil, c.apiError(req, httpMethod, path, resp.StatusCode, body)
			}
			forcedRefresh = true
			if _, err := r.Refresh(ctx); err != nil {
				return nil, fmt.Errorf("focus: cannot authenticate: %w", err)
			}
			continue

		case retryableStatus(resp.StatusCode):
			lastErr = c.apiError(req, httpMethod, path, resp.StatusCode, body)
			c.logger.Warn("server error, retrying",
				"status", resp.StatusCode,
				"attempt", attempt)
			if err := sleepCtx(ctx, backoffDelay(c.backoff, attempt+1)); err != nil {
				return nil, err
			}
			continue

		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if readErr != nil {
				return nil, fmt.Errorf("focus: reading response: %w", readErr)
			}
			return body, nil

		default:
			return nil, c.apiError(req, httpMethod, path, resp.StatusCode, body)
		}
	}

	return nil, fmt.Errorf("focus: giving up after %d attempts: %w", c.backoff.MaxAttempts+1, lastErr)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte, accessToken string) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("focus: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-Id", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) apiError(req *http.Request, method, path string, status int, body []byte) error {
	return &APIError{
		StatusCode: status,
		Method:     method,
		Path:       path,
		Body:       excerpt(body),
		RequestID:  req.Header.Get("X-Request-Id"),
	}
}

// excerpt trims a response body for inclusion in errors and logs.
func excerpt(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}

// sleepCtx sleeps for d or until the context is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
