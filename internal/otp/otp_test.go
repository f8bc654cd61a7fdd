package otp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"signflow/internal/store"
)

func TestIssueReturnsSixDigits(t *testing.T) {
	c := New(store.NewMemoryStore(), Options{})
	code, err := c.Issue(context.Background(), "signer-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("code = %q, want 6 digits", code)
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			t.Fatalf("code %q contains non-digit", code)
		}
	}
}

func TestVerifyHappyPath(t *testing.T) {
	c := New(store.NewMemoryStore(), Options{})
	code, err := c.Issue(context.Background(), "signer-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := c.Verify(context.Background(), "signer-1", code); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	// A code is single-use.
	if err := c.Verify(context.Background(), "signer-1", code); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Verify = %v, want ErrNotFound", err)
	}
}

func TestVerifyRejectsMalformedAndMissing(t *testing.T) {
	c := New(store.NewMemoryStore(), Options{})
	if err := c.Verify(context.Background(), "signer-1", "12ab56"); !errors.Is(err, ErrMalformedCode) {
		t.Errorf("malformed = %v, want ErrMalformedCode", err)
	}
	if err := c.Verify(context.Background(), "signer-1", "12345"); !errors.Is(err, ErrMalformedCode) {
		t.Errorf("short = %v, want ErrMalformedCode", err)
	}
	if err := c.Verify(context.Background(), "signer-1", "123456"); !errors.Is(err, ErrNotFound) {
		t.Errorf("no record = %v, want ErrNotFound", err)
	}
}

func TestVerifyLocksAfterThreeFailures(t *testing.T) {
	c := New(store.NewMemoryStore(), Options{})
	code, err := c.Issue(context.Background(), "signer-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	for i := 1; i <= 3; i++ {
		err := c.Verify(context.Background(), "signer-1", wrong)
		var invalid *InvalidCodeError
		if !errors.As(err, &invalid) {
			t.Fatalf("attempt %d: err = %v, want InvalidCodeError", i, err)
		}
		if invalid.Remaining != 3-i {
			t.Errorf("attempt %d: remaining = %d, want %d", i, invalid.Remaining, 3-i)
		}
		if invalid.JustLocked != (i == 3) {
			t.Errorf("attempt %d: justLocked = %v", i, invalid.JustLocked)
		}
	}

	// Even the correct code is rejected once locked.
	if err := c.Verify(context.Background(), "signer-1", code); !errors.Is(err, ErrLocked) {
		t.Errorf("after lockout = %v, want ErrLocked", err)
	}
}

func TestReissueInvalidatesOldCode(t *testing.T) {
	c := New(store.NewMemoryStore(), Options{})
	old, err := c.Issue(context.Background(), "signer-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	fresh, err := c.Issue(context.Background(), "signer-1")
	if err != nil {
		t.Fatalf("reissue: %v", err)
	}
	if old != fresh {
		// The old code must no longer verify.
		err := c.Verify(context.Background(), "signer-1", old)
		var invalid *InvalidCodeError
		if !errors.As(err, &invalid) {
			t.Errorf("old code = %v, want InvalidCodeError", err)
		}
	}
	if err := c.Verify(context.Background(), "signer-1", fresh); err != nil {
		t.Errorf("fresh code = %v, want nil", err)
	}
}

func TestLockoutClearsOnReissue(t *testing.T) {
	c := New(store.NewMemoryStore(), Options{})
	if _, err := c.Issue(context.Background(), "signer-1"); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	for i := 0; i < 3; i++ {
		_ = c.Verify(context.Background(), "signer-1", "000000")
	}
	code, err := c.Issue(context.Background(), "signer-1")
	if err != nil {
		t.Fatalf("reissue: %v", err)
	}
	if code == "000000" {
		t.Skip("fresh code collided with the guessed value")
	}
	if err := c.Verify(context.Background(), "signer-1", code); err != nil {
		t.Errorf("fresh code after lockout = %v, want nil", err)
	}
}

func TestVerifyRejectsExpiredCode(t *testing.T) {
	c := New(store.NewMemoryStore(), Options{TTL: time.Nanosecond})
	code, err := c.Issue(context.Background(), "signer-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := c.Verify(context.Background(), "signer-1", code); !errors.Is(err, ErrExpired) {
		t.Errorf("expired = %v, want ErrExpired", err)
	}
}

func TestResendCooldown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := New(store.NewMemoryStore(), Options{
		ResendAfter: time.Minute,
		Cooldown:    client,
	})

	if _, err := c.Issue(context.Background(), "signer-1"); err != nil {
		t.Fatalf("first Issue: %v", err)
	}
	if _, err := c.Issue(context.Background(), "signer-1"); !errors.Is(err, ErrResendLimited) {
		t.Fatalf("second Issue = %v, want ErrResendLimited", err)
	}
	// Another signer is not affected.
	if _, err := c.Issue(context.Background(), "signer-2"); err != nil {
		t.Fatalf("other signer Issue: %v", err)
	}

	mr.FastForward(time.Minute)
	if _, err := c.Issue(context.Background(), "signer-1"); err != nil {
		t.Fatalf("Issue after cooldown: %v", err)
	}
}
