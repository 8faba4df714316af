package throttle

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

const (
	// DefaultLimit is the Teamleader Focus ceiling of 200 requests per minute.
	DefaultLimit = 200

	// DefaultWindow is the trailing window the ceiling applies to.
	DefaultWindow = time.Minute

	// jitterFraction is applied to every advised delay (±10%) so concurrent
	// callers don't wake up in lockstep.
	jitterFraction = 0.10
)

// delayThreshold maps a usage percentage to the artificial delay advised once
// usage reaches it. Entries are ordered highest first.
type delayThreshold struct {
	usagePercent float64
	delay        time.Duration
}

var defaultThresholds = []delayThreshold{
	{95, 2000 * time.Millisecond},
	{90, 1000 * time.Millisecond},
	{80, 500 * time.Millisecond},
	{70, 200 * time.Millisecond},
}

// serverState holds rate-limit facts reported by the API itself. It only ever
// tightens the local estimate and expires at the server-reported reset, after
// which local tracking is authoritative again.
type serverState struct {
	active       bool
	hasRemaining bool
	remaining    int
	limit        int
	reset        time.Time
}

// Limiter tracks outbound request timestamps over a trailing window and
// advises callers on pacing. It is safe for concurrent use.
type Limiter struct {
	mu         sync.Mutex
	limit      int
	window     time.Duration
	thresholds []delayThreshold
	now        func() time.Time
	randFloat  func() float64
	logger     *slog.Logger

	timestamps []time.Time
	server     serverState

	totalRequests     int64
	throttledRequests int64
	totalDelay        time.Duration
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLimit overrides the request ceiling per window.
func WithLimit(limit int) Option {
	return func(l *Limiter) {
		if limit > 0 {
			l.limit = limit
		}
	}
}

// WithWindow overrides the trailing window duration.
func WithWindow(window time.Duration) Option {
	return func(l *Limiter) {
		if window > 0 {
			l.window = window
		}
	}
}

// WithClock injects the time source, used by tests to drive the window.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the logger used for reconciliation and 429 events.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New creates a Limiter with the Teamleader Focus defaults (200 requests per
// trailing 60 seconds).
func New(opts ...Option) *Limiter {
	l := &Limiter{
		limit:      DefaultLimit,
		window:     DefaultWindow,
		thresholds: defaultThresholds,
		now:        time.Now,
		randFloat:  rand.Float64,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check decides whether the next request should proceed, and with how much
// artificial delay. It never blocks and never fails; the caller is expected
// to sleep the advised Delay (or WaitTime when CanProceed is false) itself.
func (l *Limiter) Check() Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	l.expireServerState(now)

	limit := l.effectiveLimit()
	remaining := l.effectiveRemaining(limit)
	usage := limit - remaining
	usagePercent := float64(usage) / float64(limit) * 100

	if remaining <= 0 {
		return Decision{
			CanProceed:   false,
			Usage:        usage,
			UsagePercent: usagePercent,
			WaitTime:     l.waitTime(now),
			Level:        levelFor(usagePercent),
			Reason:       l.exceededReason(),
		}
	}

	delay := l.delayFor(usagePercent)
	reason := ReasonOK
	if delay > 0 {
		reason = ReasonApproaching
		l.throttledRequests++
		l.totalDelay += delay
	}

	return Decision{
		CanProceed:   true,
		Usage:        usage,
		UsagePercent: usagePercent,
		Delay:        delay,
		Level:        levelFor(usagePercent),
		Reason:       reason,
	}
}

// Record registers that a request was just dispatched. It is called on
// dispatch rather than on completion so the window approximates the remote
// sliding window, which counts requests regardless of their outcome.
func (l *Limiter) Record() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	l.timestamps = append(l.timestamps, now)
	l.totalRequests++
	if l.server.active && l.server.hasRemaining && l.server.remaining > 0 {
		l.server.remaining--
	}
}

// Statistics returns a diagnostic snapshot without side effects beyond
// pruning expired timestamps.
func (l *Limiter) Statistics() Statistics {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	l.expireServerState(now)

	limit := l.effectiveLimit()
	remaining := l.effectiveRemaining(limit)
	usage := limit - remaining
	usagePercent := float64(usage) / float64(limit) * 100

	stats := Statistics{
		Usage:             usage,
		UsagePercent:      usagePercent,
		Remaining:         remaining,
		Limit:             limit,
		Level:             levelFor(usagePercent),
		TotalRequests:     l.totalRequests,
		ThrottledRequests: l.throttledRequests,
		TotalDelay:        l.totalDelay,
		Efficiency:        1.0,
	}
	if l.totalRequests > 0 {
		stats.Efficiency = 1.0 - float64(l.throttledRequests)/float64(l.totalRequests)
	}
	if len(l.timestamps) > 0 {
		stats.OldestAge = now.Sub(l.timestamps[0])
		stats.ResetAt = l.timestamps[0].Add(l.window)
	}
	if l.server.active && l.server.reset.After(stats.ResetAt) {
		stats.ResetAt = l.server.reset
	}
	return stats
}

// Reset discards the tracked window and any server-reported state. Lifetime
// counters are kept; they describe the limiter's whole history, not the
// current window.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.timestamps = nil
	l.server = serverState{}
}

// prune drops timestamps that fell out of the trailing window. Called before
// every read or write of the window.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.timestamps) && !l.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.timestamps = append(l.timestamps[:0], l.timestamps[i:]...)
	}
}

// expireServerState drops the server override once its reset instant passes,
// returning authority to local tracking. A single noisy header reading can
// therefore depress throughput for at most one reset interval.
func (l *Limiter) expireServerState(now time.Time) {
	if l.server.active && !now.Before(l.server.reset) {
		l.server = serverState{}
	}
}

func (l *Limiter) effectiveLimit() int {
	if l.server.active && l.server.limit > 0 && l.server.limit < l.limit {
		return l.server.limit
	}
	return l.limit
}

// effectiveRemaining is the more conservative of the local estimate and the
// last server-reported remaining. Server truth can only tighten the local
// view, never loosen it.
func (l *Limiter) effectiveRemaining(limit int) int {
	remaining := limit - len(l.timestamps)
	if remaining < 0 {
		remaining = 0
	}
	if l.server.active && l.server.hasRemaining && l.server.remaining < remaining {
		remaining = l.server.remaining
	}
	return remaining
}

// waitTime estimates how long until the oldest tracked request leaves the
// window. The full-window fallback covers the defensive case where the
// ceiling is hit with no timestamps tracked (server-reported exhaustion).
func (l *Limiter) waitTime(now time.Time) time.Duration {
	if l.server.active && l.server.hasRemaining && l.server.remaining <= 0 {
		if wait := l.server.reset.Sub(now); wait > 0 {
			return wait
		}
	}
	if len(l.timestamps) == 0 {
		return l.window
	}
	wait := l.window - now.Sub(l.timestamps[0])
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (l *Limiter) exceededReason() string {
	if l.server.active && l.server.hasRemaining && l.server.remaining <= 0 {
		return ReasonServerBackoff
	}
	return ReasonLimitExceeded
}

// delayFor looks up the advisory delay for the given usage percentage and
// applies ±10% jitter.
func (l *Limiter) delayFor(usagePercent float64) time.Duration {
	for _, t := range l.thresholds {
		if usagePercent >= t.usagePercent {
			factor := 1 - jitterFraction + 2*jitterFraction*l.randFloat()
			return time.Duration(float64(t.delay) * factor)
		}
	}
	return 0
}
