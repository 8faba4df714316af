package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focuskit/focuskit/pkg/throttle"
	"github.com/focuskit/focuskit/pkg/tokens"
)

// brokenStore stands in for an unreachable durable store.
type brokenStore struct{}

func (brokenStore) Get(context.Context) (*tokens.Token, error) { return nil, errors.New("db down") }
func (brokenStore) Save(context.Context, *tokens.Token) error  { return errors.New("db down") }
func (brokenStore) Clear(context.Context) error                { return errors.New("db down") }

type stubPinger struct {
	err error
}

func (p stubPinger) Ping(context.Context) error { return p.err }

func findCheck(t *testing.T, report Report, name string) Check {
	t.Helper()
	for _, check := range report.Checks {
		if check.Name == name {
			return check
		}
	}
	t.Fatalf("no %q check in report", name)
	return Check{}
}

func TestCheck_HealthyToken(t *testing.T) {
	ctx := context.Background()
	store := tokens.NewMemoryStore()
	require.NoError(t, store.Save(ctx, &tokens.Token{
		AccessToken: "A1",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	report := NewChecker(store, throttle.New()).Check(ctx)

	assert.Equal(t, StatusOK, report.Status)
	assert.Equal(t, StatusOK, findCheck(t, report, "token").Status)
	assert.Equal(t, StatusOK, findCheck(t, report, "rate_limit").Status)
	assert.False(t, report.CheckedAt.IsZero())
}

func TestCheck_NoTokenIsDegraded(t *testing.T) {
	report := NewChecker(tokens.NewMemoryStore(), nil).Check(context.Background())

	assert.Equal(t, StatusDegraded, report.Status)
	check := findCheck(t, report, "token")
	assert.Equal(t, StatusDegraded, check.Status)
	assert.Contains(t, check.Detail, "authorization required")
}

func TestCheck_ExpiredTokenIsDegraded(t *testing.T) {
	ctx := context.Background()
	store := tokens.NewMemoryStore()
	require.NoError(t, store.Save(ctx, &tokens.Token{
		AccessToken: "A1",
		ExpiresAt:   time.Now().Add(-time.Minute),
	}))

	report := NewChecker(store, nil).Check(ctx)
	assert.Equal(t, StatusDegraded, findCheck(t, report, "token").Status)
}

func TestCheck_NearExpiryStaysOKWithDetail(t *testing.T) {
	ctx := context.Background()
	store := tokens.NewMemoryStore()
	require.NoError(t, store.Save(ctx, &tokens.Token{
		AccessToken: "A1",
		ExpiresAt:   time.Now().Add(5 * time.Minute),
	}))

	check := findCheck(t, NewChecker(store, nil).Check(ctx), "token")
	assert.Equal(t, StatusOK, check.Status)
	assert.Contains(t, check.Detail, "near expiry")
}

func TestCheck_UnreachableStoreIsDown(t *testing.T) {
	report := NewChecker(brokenStore{}, nil).Check(context.Background())

	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, StatusDown, findCheck(t, report, "token").Status)
}

func TestCheck_LimiterPressure(t *testing.T) {
	limiter := throttle.New(throttle.WithLimit(10))
	for i := 0; i < 9; i++ { // 90% usage
		limiter.Record()
	}

	checker := &Checker{Limiter: limiter}
	check := findCheck(t, checker.Check(context.Background()), "rate_limit")
	assert.Equal(t, StatusDegraded, check.Status)
}

func TestCheck_BackendPings(t *testing.T) {
	checker := &Checker{
		Backends: map[string]Pinger{
			"redis":    stubPinger{},
			"database": stubPinger{err: errors.New("connection refused")},
		},
	}

	report := checker.Check(context.Background())
	assert.Equal(t, StatusDown, report.Status)
	assert.Equal(t, StatusOK, findCheck(t, report, "redis").Status)

	dbCheck := findCheck(t, report, "database")
	assert.Equal(t, StatusDown, dbCheck.Status)
	assert.Contains(t, dbCheck.Detail, "connection refused")
}
