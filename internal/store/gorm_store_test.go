package store

import (
	"errors"
	"fmt"
	"testing"

	"gorm.io/gorm"
)

func TestTranslateConflict(t *testing.T) {
	dup := fmt.Errorf("insert signers: %w", gorm.ErrDuplicatedKey)
	if got := translateConflict(dup); !errors.Is(got, ErrConflict) {
		t.Fatalf("duplicate key should map to ErrConflict, got %v", got)
	}

	plain := errors.New("connection reset by peer")
	got := translateConflict(plain)
	if !errors.Is(got, plain) {
		t.Fatalf("non-conflict error should pass through, got %v", got)
	}
	if errors.Is(got, ErrConflict) {
		t.Fatalf("non-conflict error must not map to ErrConflict")
	}

	if err := translateConflict(nil); err != nil {
		t.Fatalf("nil error should stay nil, got %v", err)
	}
}
