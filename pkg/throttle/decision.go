package throttle

import "time"

// Level classifies how aggressively the limiter is currently throttling.
type Level string

// Throttle levels, derived from the usage percentage of the trailing window.
const (
	LevelNone     Level = "none"
	LevelLow      Level = "low"
	LevelModerate Level = "moderate"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// levelFor maps a usage percentage onto a Level. The boundaries line up with
// the delay threshold table so a Decision's Level and Delay always agree.
func levelFor(usagePercent float64) Level {
	switch {
	case usagePercent >= 95:
		return LevelCritical
	case usagePercent >= 90:
		return LevelHigh
	case usagePercent >= 80:
		return LevelModerate
	case usagePercent >= 70:
		return LevelLow
	default:
		return LevelNone
	}
}

// Decision is the outcome of a single pre-request check. It is computed fresh
// on every call to Check and never persisted.
type Decision struct {
	// CanProceed reports whether the request may be dispatched now. When
	// false the caller should wait WaitTime and check again.
	CanProceed bool `json:"can_proceed"`

	// Usage is the effective number of requests counted against the ceiling
	// in the trailing window.
	Usage int `json:"usage"`

	// UsagePercent is Usage expressed as a percentage of the ceiling.
	UsagePercent float64 `json:"usage_percent"`

	// Delay is the recommended artificial delay before dispatching. The
	// limiter does not enforce it; callers are expected to sleep it.
	Delay time.Duration `json:"delay"`

	// WaitTime estimates how long until a slot frees up. Only meaningful
	// when CanProceed is false.
	WaitTime time.Duration `json:"wait_time"`

	// Level is the throttle classification for this check.
	Level Level `json:"level"`

	// Reason is a short machine-readable code explaining the decision.
	Reason string `json:"reason"`
}

// Decision reason codes.
const (
	ReasonOK            = "ok"
	ReasonApproaching   = "approaching_limit"
	ReasonLimitExceeded = "limit_exceeded"
	ReasonServerBackoff = "server_backoff"
)

// Statistics is a diagnostic snapshot of the limiter. Reading it has no side
// effects beyond the usual pruning of expired timestamps.
type Statistics struct {
	Usage             int           `json:"usage"`
	UsagePercent      float64       `json:"usage_percent"`
	Remaining         int           `json:"remaining"`
	Limit             int           `json:"limit"`
	ResetAt           time.Time     `json:"reset_at"`
	Level             Level         `json:"level"`
	TotalRequests     int64         `json:"total_requests"`
	ThrottledRequests int64         `json:"throttled_requests"`
	TotalDelay        time.Duration `json:"total_delay"`
	// Efficiency is 1 - throttled/total; 1.0 when no requests were throttled.
	Efficiency float64 `json:"efficiency"`
	// OldestAge is the age of the oldest tracked request, zero when the
	// window is empty.
	OldestAge time.Duration `json:"oldest_age"`
}
