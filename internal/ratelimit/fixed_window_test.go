package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestFixedWindowLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(mr.Addr(), "", "test:ratelimit", 2, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisFixedWindowLimiter: %v", err)
	}

	if !limiter.Allow("client-a") {
		t.Error("first request denied")
	}
	if !limiter.Allow("client-a") {
		t.Error("second request denied")
	}
	if limiter.Allow("client-a") {
		t.Error("third request allowed over the limit")
	}
	// Other keys have their own quota.
	if !limiter.Allow("client-b") {
		t.Error("unrelated key denied")
	}
}

func TestFixedWindowFailsClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(mr.Addr(), "", "test:ratelimit", 5, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisFixedWindowLimiter: %v", err)
	}
	mr.Close()
	if limiter.Allow("client-a") {
		t.Error("request allowed while redis is unreachable")
	}
}

func TestLimiterRejectsBadConfig(t *testing.T) {
	if _, err := NewRedisFixedWindowLimiter("localhost:6379", "", "p", 0, time.Minute); err == nil {
		t.Error("zero limit accepted")
	}
	if _, err := NewRedisFixedWindowLimiter("", "", "p", 1, time.Minute); err == nil {
		t.Error("empty addr accepted")
	}
}
