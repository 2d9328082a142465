package queue

import (
	"testing"
	"time"
)

func TestBackoffDelayDoubles(t *testing.T) {
	cases := []struct {
		base    time.Duration
		attempt int
		want    time.Duration
	}{
		{5 * time.Second, 1, 5 * time.Second},
		{5 * time.Second, 2, 10 * time.Second},
		{5 * time.Second, 3, 20 * time.Second},
		{10 * time.Second, 1, 10 * time.Second},
		{10 * time.Second, 2, 20 * time.Second},
		{10 * time.Second, 3, 40 * time.Second},
		// Attempts below one get the base delay rather than underflowing
		{5 * time.Second, 0, 5 * time.Second},
	}
	for _, tc := range cases {
		if got := BackoffDelay(tc.base, tc.attempt); got != tc.want {
			t.Errorf("BackoffDelay(%v, %d) = %v, want %v", tc.base, tc.attempt, got, tc.want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	if cfg.RateLimitMax != 100 {
		t.Errorf("RateLimitMax = %d, want 100", cfg.RateLimitMax)
	}
	if cfg.RateLimitWindow != time.Minute {
		t.Errorf("RateLimitWindow = %v, want 1m", cfg.RateLimitWindow)
	}
	if cfg.LockDuration != 30*time.Second {
		t.Errorf("LockDuration = %v, want 30s", cfg.LockDuration)
	}
	if cfg.MaxStalls != 2 {
		t.Errorf("MaxStalls = %d, want 2", cfg.MaxStalls)
	}
	if cfg.KeepFailed != 50 {
		t.Errorf("KeepFailed = %d, want 50", cfg.KeepFailed)
	}
	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
}

func TestConfigDefaultsPreserveExplicit(t *testing.T) {
	cfg := Config{Backoff: 10 * time.Second, MaxAttempts: 5}.withDefaults()

	if cfg.Backoff != 10*time.Second {
		t.Errorf("Backoff = %v, want 10s", cfg.Backoff)
	}
	if cfg.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.MaxAttempts)
	}
	if cfg.RateLimitMax != 100 {
		t.Errorf("RateLimitMax = %d, want 100", cfg.RateLimitMax)
	}
}

func TestQueueKeysAreNamespaced(t *testing.T) {
	q := New("mailer", nil, Config{})

	cases := map[string]string{
		q.waitKey("single"):   "queue:mailer:wait:single",
		q.activeKey("single"): "queue:mailer:active:single",
		q.delayedKey():        "queue:mailer:delayed",
		q.failedKey():         "queue:mailer:failed",
		q.jobKey("abc"):       "queue:mailer:job:abc",
		q.lockKey("abc"):      "queue:mailer:lock:abc",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("key = %q, want %q", got, want)
		}
	}
}

func TestThrottleIntervalStaysBelowLockHorizon(t *testing.T) {
	lock := 30 * time.Second

	cases := []struct {
		wait time.Duration
		want time.Duration
	}{
		{wait: 2 * time.Second, want: 2 * time.Second},
		{wait: 10 * time.Second, want: 10 * time.Second},
		{wait: 45 * time.Second, want: 10 * time.Second},
		{wait: 0, want: 10 * time.Second},
		{wait: -time.Second, want: 10 * time.Second},
	}
	for _, tc := range cases {
		got := throttleInterval(tc.wait, lock)
		if got != tc.want {
			t.Errorf("throttleInterval(%v, %v) = %v, want %v", tc.wait, lock, got, tc.want)
		}
		if got >= lock {
			t.Errorf("throttleInterval(%v, %v) = %v, not below the lock duration", tc.wait, lock, got)
		}
	}
}
