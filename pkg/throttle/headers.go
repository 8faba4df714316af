package throttle

import (
	"net/http"
	"strconv"
	"time"
)

// Rate-limit headers sent by the Teamleader Focus API. http.Header lookups
// are case-insensitive, so the canonical spelling here is cosmetic.
const (
	headerLimit      = "X-RateLimit-Limit"
	headerRemaining  = "X-RateLimit-Remaining"
	headerReset      = "X-RateLimit-Reset"
	headerRetryAfter = "Retry-After"
)

// absoluteResetFloor disambiguates the reset header: values above it are
// absolute Unix seconds, values below are relative seconds-from-now.
const absoluteResetFloor = 1e9

// DefaultRetryAfter is assumed when a 429 response omits Retry-After.
const DefaultRetryAfter = 60 * time.Second

// UpdateFromHeaders reconciles the local estimate with rate-limit metadata
// from a response. The reconciliation is conservative: the server-reported
// remaining is adopted only when it is smaller than the local estimate.
// Multi-process deployments sharing one credential drift from server truth,
// so this is a best-effort correction, not a guarantee.
func (l *Limiter) UpdateFromHeaders(headers http.Header) {
	if headers == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	l.expireServerState(now)

	reset := l.parseReset(headers.Get(headerReset), now)

	if v := headers.Get(headerLimit); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 && limit < l.limit {
			l.server.active = true
			l.server.limit = limit
			l.server.reset = reset
		}
	}

	v := headers.Get(headerRemaining)
	if v == "" {
		return
	}
	remaining, err := strconv.Atoi(v)
	if err != nil || remaining < 0 {
		return
	}

	local := l.effectiveLimit() - len(l.timestamps)
	if remaining < local {
		l.logger.Debug("tightening rate limit estimate from response headers",
			"local_remaining", local,
			"server_remaining", remaining,
			"reset", reset)
		l.server.active = true
		l.server.hasRemaining = true
		l.server.remaining = remaining
		l.server.reset = reset
	}
}

// Handle429 processes a 429 Too Many Requests response. Local capacity is
// marked exhausted until now+Retry-After. The retry-after duration is
// returned for the caller to sleep.
func (l *Limiter) Handle429(headers http.Header) time.Duration {
	retryAfter := DefaultRetryAfter
	if headers != nil {
		if v := headers.Get(headerRetryAfter); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.server.active = true
	l.server.hasRemaining = true
	l.server.remaining = 0
	l.server.reset = now.Add(retryAfter)

	l.logger.Warn("rate limit exceeded, backing off",
		"retry_after", retryAfter,
		"reset", l.server.reset)

	return retryAfter
}

// parseReset interprets the reset header as either absolute Unix seconds or
// seconds-from-now, disambiguated by magnitude. An absent or malformed value
// falls back to one full window from now.
func (l *Limiter) parseReset(value string, now time.Time) time.Time {
	if value == "" {
		return now.Add(l.window)
	}
	secs, err := strconv.ParseInt(value, 10, 64)
	if err != nil || secs < 0 {
		return now.Add(l.window)
	}
	if float64(secs) > absoluteResetFloor {
		return time.Unix(secs, 0)
	}
	return now.Add(time.Duration(secs) * time.Second)
}
