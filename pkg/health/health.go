// Package health aggregates kit diagnostics: token state, limiter pressure,
// and backend reachability, into a single report suitable for a health
// endpoint or a CLI doctor command.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/focuskit/focuskit/pkg/throttle"
	"github.com/focuskit/focuskit/pkg/tokens"
)

// Status of a single check or the overall report.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Check is the outcome of one diagnostic probe.
type Check struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Report is the aggregated outcome. The overall Status is the worst of the
// individual checks.
type Report struct {
	Status    Status    `json:"status"`
	Checks    []Check   `json:"checks"`
	CheckedAt time.Time `json:"checked_at"`
}

// Pinger is a backend that can report reachability. tokens.SQLStore and
// tokens.RedisStore both satisfy it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker runs the diagnostics. Fields left nil are skipped.
type Checker struct {
	Store            tokens.Store
	Limiter          *throttle.Limiter
	RefreshThreshold time.Duration

	// Backends maps a check name ("database", "redis") to the backend to
	// ping.
	Backends map[string]Pinger

	now func() time.Time
}

// NewChecker creates a Checker over the given store and limiter.
func NewChecker(store tokens.Store, limiter *throttle.Limiter) *Checker {
	return &Checker{
		Store:            store,
		Limiter:          limiter,
		RefreshThreshold: tokens.DefaultRefreshThreshold,
		Backends:         make(map[string]Pinger),
		now:              time.Now,
	}
}

// Check runs every configured probe and aggregates the results.
func (c *Checker) Check(ctx context.Context) Report {
	if c.now == nil {
		c.now = time.Now
	}
	report := Report{Status: StatusOK, CheckedAt: c.now()}

	if c.Store != nil {
		report.add(c.checkToken(ctx))
	}
	if c.Limiter != nil {
		report.add(c.checkLimiter())
	}
	for name, backend := range c.Backends {
		report.add(checkBackend(ctx, name, backend))
	}
	return report
}

func (r *Report) add(check Check) {
	r.Checks = append(r.Checks, check)
	if severity(check.Status) > severity(r.Status) {
		r.Status = check.Status
	}
}

func severity(s Status) int {
	switch s {
	case StatusDown:
		return 2
	case StatusDegraded:
		return 1
	default:
		return 0
	}
}

func (c *Checker) checkToken(ctx context.Context) Check {
	token, err := c.Store.Get(ctx)
	switch {
	case errors.Is(err, tokens.ErrNoToken):
		return Check{
			Name:   "token",
			Status: StatusDegraded,
			Detail: "no token stored, authorization required",
		}
	case err != nil:
		return Check{
			Name:   "token",
			Status: StatusDown,
			Detail: fmt.Sprintf("token store unreachable: %v", err),
		}
	}

	now := c.now()
	if !token.Valid(now) {
		return Check{
			Name:   "token",
			Status: StatusDegraded,
			Detail: "stored token expired, refresh pending",
		}
	}
	if token.NearExpiry(now, c.RefreshThreshold) {
		return Check{
			Name:   "token",
			Status: StatusOK,
			Detail: fmt.Sprintf("token near expiry (expires %s)", token.ExpiresAt.Format(time.RFC3339)),
		}
	}
	return Check{Name: "token", Status: StatusOK}
}

func (c *Checker) checkLimiter() Check {
	stats := c.Limiter.Statistics()
	check := Check{
		Name:   "rate_limit",
		Status: StatusOK,
		Detail: fmt.Sprintf("%d/%d used (%.1f%%), level %s", stats.Usage, stats.Limit, stats.UsagePercent, stats.Level),
	}
	switch stats.Level {
	case throttle.LevelCritical:
		check.Status = StatusDegraded
	case throttle.LevelHigh:
		check.Status = StatusDegraded
	}
	if stats.Remaining == 0 {
		check.Status = StatusDegraded
		check.Detail = fmt.Sprintf("rate limit exhausted, resets at %s", stats.ResetAt.Format(time.RFC3339))
	}
	return check
}

func checkBackend(ctx context.Context, name string, backend Pinger) Check {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := backend.Ping(pingCtx); err != nil {
		return Check{
			Name:   name,
			Status: StatusDown,
			Detail: err.Error(),
		}
	}
	return Check{Name: name, Status: StatusOK}
}
