package focus

import (
	"math/rand"
	"time"
)

// BackoffConfig configures exponential backoff for retried requests.
type BackoffConfig struct {
	BaseDelay   time.Duration // Initial delay for the first retry
	MaxDelay    time.Duration // Maximum delay cap
	Multiplier  float64       // Exponential multiplier (typically 2.0)
	MaxAttempts int           // Maximum number of retry attempts
}

// DefaultBackoffConfig returns sensible defaults for exponential backoff.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
		Multiplier:  2.0,
		MaxAttempts: 3,
	}
}

// backoffDelay returns the delay for a given attempt number, with full
// jitter so concurrent retriers spread out. attempt is 1-indexed.
func backoffDelay(config BackoffConfig, attempt int) time.Duration {
	if attempt <= 0 {
		return config.BaseDelay
	}
	if attempt > 30 { // 1 << 30 would overflow int32
		attempt = 30
	}

	multiplier := float64(int(1)<<uint(attempt-1)) * config.Multiplier
	delay := time.Duration(float64(config.BaseDelay) * multiplier)
	if delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	// Full jitter: anywhere in (0, delay].
	return time.Duration(rand.Float64() * float64(delay))
}
