package throttle

import (
	"testing"
	"time"
)

// testClock is a manually advanced time source.
type testClock struct {
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// fixedJitter pins the jitter factor so delay assertions are exact.
func fixedJitter(l *Limiter, v float64) {
	l.randFloat = func() float64 { return v }
}

func TestCheck_EmptyWindow(t *testing.T) {
	clock := newTestClock()
	l := New(WithClock(clock.Now))

	d := l.Check()
	if !d.CanProceed {
		t.Error("expected empty limiter to allow requests")
	}
	if d.Usage != 0 {
		t.Errorf("expected usage 0, got %d", d.Usage)
	}
	if d.Delay != 0 {
		t.Errorf("expected no delay, got %v", d.Delay)
	}
	if d.Level != LevelNone {
		t.Errorf("expected level none, got %s", d.Level)
	}
	if d.Reason != ReasonOK {
		t.Errorf("expected reason %q, got %q", ReasonOK, d.Reason)
	}
}

func TestCheck_SlidingWindowCountsOnlyTrailingWindow(t *testing.T) {
	clock := newTestClock()
	l := New(WithClock(clock.Now))

	// 50 requests that will age out, then 30 inside the window.
	for i := 0; i < 50; i++ {
		l.Record()
	}
	clock.Advance(61 * time.Second)
	for i := 0; i < 30; i++ {
		l.Record()
	}
	clock.Advance(10 * time.Second)

	d := l.Check()
	if d.Usage != 30 {
		t.Errorf("expected usage 30 (old requests pruned), got %d", d.Usage)
	}
	if !d.CanProceed {
		t.Error("expected to proceed at 15%% usage")
	}
}

func TestCheck_IdempotentPruning(t *testing.T) {
	clock := newTestClock()
	l := New(WithClock(clock.Now))
	fixedJitter(l, 0.5)

	for i := 0; i < 120; i++ {
		l.Record()
	}

	first := l.Check()
	second := l.Check()
	if first.Usage != second.Usage {
		t.Errorf("back-to-back checks disagree on usage: %d vs %d", first.Usage, second.Usage)
	}
}

func TestCheck_CeilingEnforcement(t *testing.T) {
	clock := newTestClock()
	l := New(WithClock(clock.Now))

	for i := 0; i < DefaultLimit; i++ {
		l.Record()
	}

	d := l.Check()
	if d.CanProceed {
		t.Fatal("expected CanProceed=false at the ceiling")
	}
	if d.WaitTime <= 0 {
		t.Errorf("expected positive wait time, got %v", d.WaitTime)
	}
	if d.Reason != ReasonLimitExceeded {
		t.Errorf("expected reason %q, got %q", ReasonLimitExceeded, d.Reason)
	}

	// After waiting the advised time, capacity frees up.
	clock.Advance(d.WaitTime + time.Millisecond)
	d = l.Check()
	if !d.CanProceed {
		t.Error("expected CanProceed=true after waiting out the window")
	}
}

func TestCheck_WaitTimeReflectsOldestRequest(t *testing.T) {
	clock := newTestClock()
	l := New(WithClock(clock.Now))

	// 200 requests all within the last second.
	for i := 0; i < DefaultLimit; i++ {
		l.Record()
	}
	clock.Advance(time.Second)

	d := l.Check()
	if d.CanProceed {
		t.Fatal("expected CanProceed=false")
	}
	want := 59 * time.Second
	if d.WaitTime != want {
		t.Errorf("expected wait %v (window minus age of oldest), got %v", want, d.WaitTime)
	}
}

func TestCheck_DelayThresholds(t *testing.T) {
	tests := []struct {
		name      string
		requests  int
		wantDelay time.Duration
		wantLevel Level
	}{
		{"below 70%", 139, 0, LevelNone},
		{"at 70%", 140, 200 * time.Millisecond, LevelLow},
		{"at 80%", 160, 500 * time.Millisecond, LevelModerate},
		{"at 90%", 180, 1000 * time.Millisecond, LevelHigh},
		{"at 95%", 190, 2000 * time.Millisecond, LevelCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newTestClock()
			l := New(WithClock(clock.Now))
			fixedJitter(l, 0.5) // jitter factor exactly 1.0

			for i := 0; i < tt.requests; i++ {
				l.Record()
			}

			d := l.Check()
			if !d.CanProceed {
				t.Fatal("expected CanProceed=true below the ceiling")
			}
			if d.Delay != tt.wantDelay {
				t.Errorf("expected delay %v, got %v", tt.wantDelay, d.Delay)
			}
			if d.Level != tt.wantLevel {
				t.Errorf("expected level %s, got %s", tt.wantLevel, d.Level)
			}
		})
	}
}

func TestCheck_DelayJitterBounds(t *testing.T) {
	clock := newTestClock()
	l := New(WithClock(clock.Now))

	// 150 requests over 15 seconds: 75% usage, 200ms base delay.
	for i := 0; i < 150; i++ {
		l.Record()
		clock.Advance(100 * time.Millisecond)
	}

	for i := 0; i < 50; i++ {
		d := l.Check()
		if !d.CanProceed {
			t.Fatal("expected CanProceed=true at 75%")
		}
		if d.Usage != 150 {
			t.Fatalf("expected usage 150, got %d", d.Usage)
		}
		if d.UsagePercent != 75.0 {
			t.Fatalf("expected 75%% usage, got %.1f", d.UsagePercent)
		}
		if d.Delay < 180*time.Millisecond || d.Delay > 220*time.Millisecond {
			t.Errorf("delay %v outside ±10%% jitter band of 200ms", d.Delay)
		}
	}
}

func TestStatistics(t *testing.T) {
	clock := newTestClock()
	l := New(WithClock(clock.Now))
	fixedJitter(l, 0.5)

	for i := 0; i < 150; i++ {
		l.Record()
	}
	clock.Advance(5 * time.Second)
	l.Check() // 75% usage: counts as one throttled check

	stats := l.Statistics()
	if stats.Usage != 150 {
		t.Errorf("expected usage 150, got %d", stats.Usage)
	}
	if stats.Remaining != 50 {
		t.Errorf("expected remaining 50, got %d", stats.Remaining)
	}
	if stats.TotalRequests != 150 {
		t.Errorf("expected 150 total requests, got %d", stats.TotalRequests)
	}
	if stats.ThrottledRequests != 1 {
		t.Errorf("expected 1 throttled request, got %d", stats.ThrottledRequests)
	}
	wantEff := 1.0 - 1.0/150.0
	if stats.Efficiency != wantEff {
		t.Errorf("expected efficiency %.4f, got %.4f", wantEff, stats.Efficiency)
	}
	if stats.OldestAge != 5*time.Second {
		t.Errorf("expected oldest age 5s, got %v", stats.OldestAge)
	}
	if stats.ResetAt != clock.Now().Add(55*time.Second) {
		t.Errorf("unexpected reset time %v", stats.ResetAt)
	}
}

func TestStatistics_EmptyLimiter(t *testing.T) {
	l := New()

	stats := l.Statistics()
	if stats.Efficiency != 1.0 {
		t.Errorf("expected efficiency 1.0 with no requests, got %.2f", stats.Efficiency)
	}
	if stats.OldestAge != 0 {
		t.Errorf("expected zero oldest age, got %v", stats.OldestAge)
	}
}

func TestReset(t *testing.T) {
	clock := newTestClock()
	l := New(WithClock(clock.Now))

	for i := 0; i < DefaultLimit; i++ {
		l.Record()
	}
	if l.Check().CanProceed {
		t.Fatal("expected limiter to be exhausted")
	}

	l.Reset()

	d := l.Check()
	if !d.CanProceed || d.Usage != 0 {
		t.Errorf("expected clean slate after Reset, got usage %d", d.Usage)
	}
	// Lifetime counters survive a window reset.
	if l.Statistics().TotalRequests != DefaultLimit {
		t.Error("expected lifetime counters to survive Reset")
	}
}

func TestConcurrentRecordAndCheck(t *testing.T) {
	l := New()

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				l.Record()
				l.Check()
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	if got := l.Statistics().TotalRequests; got != 800 {
		t.Errorf("expected 800 recorded requests, got %d", got)
	}
}
