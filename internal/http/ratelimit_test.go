package http

import (
	"testing"
	"time"
)

func TestRateLimiter_FixedWindow(t *testing.T) {
	rl := newRateLimiter(3)
	defer rl.stop()
	var m securityMetrics
	t0 := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	steps := []struct {
		offset time.Duration
		ip     string
		want   bool
	}{
		{0, "10.0.0.1", true},
		{10 * time.Second, "10.0.0.1", true},
		{20 * time.Second, "10.0.0.1", true},
		{30 * time.Second, "10.0.0.1", false},
		{30 * time.Second, "10.0.0.2", true},
		// Steady traffic does not extend the window.
		{50 * time.Second, "10.0.0.1", false},
		{60 * time.Second, "10.0.0.1", true},
	}
	for i, s := range steps {
		if got := rl.allow(s.ip, t0.Add(s.offset), &m); got != s.want {
			t.Errorf("step %d (%s at +%v): allow = %v, want %v", i, s.ip, s.offset, got, s.want)
		}
	}
	if m.rateLimitHits != 2 {
		t.Errorf("rateLimitHits = %d, want 2", m.rateLimitHits)
	}
}

func TestRateLimiter_DefaultLimit(t *testing.T) {
	rl := newRateLimiter(0)
	defer rl.stop()
	if rl.limit != defaultWritesPerMinute {
		t.Errorf("limit = %d, want %d", rl.limit, defaultWritesPerMinute)
	}
}

func TestRateLimiter_CleanupStaleEntries(t *testing.T) {
	rl := newRateLimiter(5)
	defer rl.stop()
	t0 := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	rl.allow("10.0.0.1", t0, nil)
	rl.allow("10.0.0.2", t0.Add(8*time.Minute), nil)

	if n := rl.cleanupStaleEntries(t0.Add(11 * time.Minute)); n != 1 {
		t.Errorf("removed %d, want 1", n)
	}
	if _, ok := rl.clients["10.0.0.2"]; !ok {
		t.Error("recent client was removed")
	}
}
