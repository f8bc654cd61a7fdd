package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"signflow/internal/domain"
	"signflow/internal/util"
)

const (
	codeLength         = 6
	defaultTTL         = 10 * time.Minute
	defaultMaxAttempts = 3
	defaultResendAfter = time.Minute
	defaultKeyPrefix   = "signflow:otp"
)

var (
	ErrNotFound      = errors.New("no verification code issued")
	ErrExpired       = errors.New("verification code expired")
	ErrLocked        = errors.New("verification locked after too many attempts")
	ErrMalformedCode = errors.New("verification code must be 6 digits")
	ErrResendLimited = errors.New("verification code already sent recently")
)

// InvalidCodeError reports a failed verification attempt.
type InvalidCodeError struct {
	Remaining int
	// JustLocked is set when this attempt consumed the last one.
	JustLocked bool
}

func (e *InvalidCodeError) Error() string {
	return fmt.Sprintf("incorrect verification code, %d attempts remaining", e.Remaining)
}

// Store is the persistence surface the challenge needs.
type Store interface {
	CreateOTP(rec domain.OTPRecord) error
	LatestUnusedOTP(signerID string) (domain.OTPRecord, bool, error)
	InvalidateOTPs(signerID string) error
	IncrementOTPAttempts(id string) (int, error)
	MarkOTPUsed(id string) error
}

// Options tunes challenge behavior.
type Options struct {
	TTL         time.Duration
	MaxAttempts int
	ResendAfter time.Duration
	KeyPrefix   string
	// Cooldown guards the delivery channel. Nil disables the guard.
	Cooldown *redis.Client
}

// Challenge issues and verifies numeric one-time codes. Codes are
// stored bcrypt-hashed with an expiry and attempt counter; at most one
// unused record exists per signer.
type Challenge struct {
	store       Store
	cooldown    *redis.Client
	ttl         time.Duration
	maxAttempts int
	resendAfter time.Duration
	keyPrefix   string
}

// New builds a challenge over the given store.
func New(store Store, opts Options) *Challenge {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	resendAfter := opts.ResendAfter
	if resendAfter <= 0 {
		resendAfter = defaultResendAfter
	}
	keyPrefix := strings.TrimSpace(opts.KeyPrefix)
	if keyPrefix == "" {
		keyPrefix = defaultKeyPrefix
	}
	return &Challenge{
		store:       store,
		cooldown:    opts.Cooldown,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		resendAfter: resendAfter,
		keyPrefix:   keyPrefix,
	}
}

// MaxAttempts returns the attempt ceiling.
func (c *Challenge) MaxAttempts() int {
	return c.maxAttempts
}

// Issue invalidates any prior unused codes for the signer, stores a
// bcrypt hash of a fresh 6-digit code, and returns the raw code for
// out-of-band delivery. The raw code is never stored.
func (c *Challenge) Issue(ctx context.Context, signerID string) (string, error) {
	signerID = strings.TrimSpace(signerID)
	if signerID == "" {
		return "", errors.New("signer id is required")
	}
	if err := c.checkCooldown(ctx, signerID); err != nil {
		return "", err
	}
	code, err := generateNumericCode(codeLength)
	if err != nil {
		return "", fmt.Errorf("generate otp code: %w", err)
	}
	codeHash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash otp code: %w", err)
	}
	if err := c.store.InvalidateOTPs(signerID); err != nil {
		return "", fmt.Errorf("invalidate prior otps: %w", err)
	}
	now := time.Now().UTC()
	rec := domain.OTPRecord{
		ID:        util.NewID(),
		SignerID:  signerID,
		CodeHash:  string(codeHash),
		ExpiresAt: now.Add(c.ttl),
		Attempts:  0,
		Used:      false,
		CreatedAt: now,
	}
	if err := c.store.CreateOTP(rec); err != nil {
		return "", fmt.Errorf("store otp record: %w", err)
	}
	return code, nil
}

// Verify checks a submitted code against the signer's most recent
// unused record. Lockout is terminal for the record: once the attempt
// ceiling is hit, even the correct code is rejected until re-issue.
func (c *Challenge) Verify(ctx context.Context, signerID, submitted string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	submitted = strings.TrimSpace(submitted)
	if len(submitted) != codeLength || !isDigits(submitted) {
		return ErrMalformedCode
	}
	rec, found, err := c.store.LatestUnusedOTP(signerID)
	if err != nil {
		return fmt.Errorf("load otp record: %w", err)
	}
	if !found {
		return ErrNotFound
	}
	if time.Now().UTC().After(rec.ExpiresAt) {
		return ErrExpired
	}
	if rec.Attempts >= c.maxAttempts {
		return ErrLocked
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.CodeHash), []byte(submitted)) != nil {
		attempts, err := c.store.IncrementOTPAttempts(rec.ID)
		if err != nil {
			return fmt.Errorf("record failed attempt: %w", err)
		}
		remaining := c.maxAttempts - attempts
		if remaining < 0 {
			remaining = 0
		}
		return &InvalidCodeError{
			Remaining:  remaining,
			JustLocked: attempts >= c.maxAttempts,
		}
	}
	if err := c.store.MarkOTPUsed(rec.ID); err != nil {
		return fmt.Errorf("consume otp record: %w", err)
	}
	return nil
}

func (c *Challenge) checkCooldown(ctx context.Context, signerID string) error {
	if c.cooldown == nil {
		return nil
	}
	key := fmt.Sprintf("%s:resend:%s", c.keyPrefix, signerID)
	allowed, err := c.cooldown.SetNX(ctx, key, "1", c.resendAfter).Result()
	if err != nil {
		return fmt.Errorf("otp cooldown check: %w", err)
	}
	if !allowed {
		return ErrResendLimited
	}
	return nil
}

func generateNumericCode(length int) (string, error) {
	var b strings.Builder
	b.Grow(length)
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
