package server

import (
	"testing"
	"time"
)

func TestRateLimiterBlocksOverLimit(t *testing.T) {
	limiter := newRateLimiter(2, time.Minute)

	if !limiter.Allow("user-1") || !limiter.Allow("user-1") {
		t.Fatal("requests under the limit were blocked")
	}
	if limiter.Allow("user-1") {
		t.Error("request over the limit was allowed")
	}
	if !limiter.Allow("user-2") {
		t.Error("unrelated key was blocked")
	}
}

func TestRateLimiterRejectsEmptyKey(t *testing.T) {
	limiter := newRateLimiter(2, time.Minute)
	if limiter.Allow("") {
		t.Error("empty key must not be allowed")
	}
}

func TestRateLimiterResetsAfterWindow(t *testing.T) {
	limiter := newRateLimiter(1, time.Nanosecond)

	if !limiter.Allow("user-1") {
		t.Fatal("first request blocked")
	}
	time.Sleep(2 * time.Millisecond)
	if !limiter.Allow("user-1") {
		t.Error("request after window expiry was blocked")
	}
}
