package gateway

import "testing"

func TestRateLimiterDisabledByDefault(t *testing.T) {
	r := NewRateLimiter(0, 5)
	for i := 0; i < 100; i++ {
		if !r.Allow("k") {
			t.Fatalf("disabled limiter must always allow")
		}
	}
}

func TestRateLimiterEnforcesBurst(t *testing.T) {
	r := NewRateLimiter(1, 2)
	if !r.Allow("k") {
		t.Fatalf("expected first request to be allowed")
	}
	if !r.Allow("k") {
		t.Fatalf("expected second request (within burst) to be allowed")
	}
	if r.Allow("k") {
		t.Fatalf("expected third immediate request to be rate limited")
	}
}

func TestRateLimiterTracksKeysIndependently(t *testing.T) {
	r := NewRateLimiter(1, 1)
	if !r.Allow("a") {
		t.Fatalf("expected key a to be allowed")
	}
	if !r.Allow("b") {
		t.Fatalf("expected key b to be independently allowed")
	}
}
