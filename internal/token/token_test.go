package token

import (
	"errors"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()
	svc, err := NewService(testSecret, opts)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestNewServiceRejectsWeakSecret(t *testing.T) {
	if _, err := NewService("", Options{}); err == nil {
		t.Fatal("expected error for empty secret")
	}
	if _, err := NewService("short", Options{}); err == nil {
		t.Fatal("expected error for short secret")
	}
}

func TestIssueAndVerifyMagicLink(t *testing.T) {
	svc := newTestService(t, Options{})
	raw, err := svc.IssueMagicLink("signer-1", "doc-1")
	if err != nil {
		t.Fatalf("IssueMagicLink: %v", err)
	}
	claims, err := svc.Verify(raw, TypeMagicLink)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.SignerID != "signer-1" || claims.DocumentID != "doc-1" {
		t.Errorf("claims = %q/%q, want signer-1/doc-1", claims.SignerID, claims.DocumentID)
	}
}

func TestVerifyRejectsWrongType(t *testing.T) {
	svc := newTestService(t, Options{})
	raw, err := svc.IssueMagicLink("signer-1", "doc-1")
	if err != nil {
		t.Fatalf("IssueMagicLink: %v", err)
	}
	// A magic-link token must never pass as a signing session.
	if _, err := svc.Verify(raw, TypeSigningSession); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify wrong type = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	svc := newTestService(t, Options{})
	raw, err := svc.IssueSession("signer-1", "doc-1")
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	tampered := raw[:len(raw)-2] + "xx"
	if _, err := svc.Verify(tampered, TypeSigningSession); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify tampered = %v, want ErrInvalidToken", err)
	}
	if _, err := svc.Verify("", TypeSigningSession); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify empty = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyRejectsOtherIssuersSecret(t *testing.T) {
	svc := newTestService(t, Options{})
	other, err := NewService("ffffffffffffffffffffffffffffffff", Options{})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	raw, err := other.IssueMagicLink("signer-1", "doc-1")
	if err != nil {
		t.Fatalf("IssueMagicLink: %v", err)
	}
	if _, err := svc.Verify(raw, TypeMagicLink); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Verify foreign token = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyReportsExpiry(t *testing.T) {
	svc := newTestService(t, Options{
		MagicTTL: time.Nanosecond,
		Leeway:   time.Nanosecond,
	})
	raw, err := svc.IssueMagicLink("signer-1", "doc-1")
	if err != nil {
		t.Fatalf("IssueMagicLink: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := svc.Verify(raw, TypeMagicLink); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("Verify expired = %v, want ErrTokenExpired", err)
	}
}

func TestAPIAccessToken(t *testing.T) {
	svc := newTestService(t, Options{})
	raw, err := svc.IssueAPIAccess("sender-1")
	if err != nil {
		t.Fatalf("IssueAPIAccess: %v", err)
	}
	claims, err := svc.Verify(raw, TypeAPIAccess)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "sender-1" {
		t.Errorf("subject = %q, want sender-1", claims.Subject)
	}
}

func TestHashIsStableAndDistinct(t *testing.T) {
	if Hash("a") != Hash("a") {
		t.Error("hash of the same input differs")
	}
	if Hash("a") == Hash("b") {
		t.Error("hash of different inputs collides")
	}
	if len(Hash("a")) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(Hash("a")))
	}
}
