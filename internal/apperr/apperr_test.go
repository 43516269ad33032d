package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf_WrappedError(t *testing.T) {
	base := New(KindInsufficientQuota, "quota: deduct", errors.New("need 2.00, have 1.50"))
	wrapped := fmt.Errorf("pipeline: %w", base)

	if got := KindOf(wrapped); got != KindInsufficientQuota {
		t.Fatalf("expected kind=%s, got %s", KindInsufficientQuota, got)
	}
	if !errors.Is(wrapped, ErrInsufficientQuota) {
		t.Fatalf("expected errors.Is to match the insufficient quota sentinel")
	}
	if errors.Is(wrapped, ErrUserNotFound) {
		t.Fatalf("expected errors.Is not to match a different kind")
	}
}

func TestKindOf_UnclassifiedError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindUnknown {
		t.Fatalf("expected kind=unknown, got %s", got)
	}
	if got := KindOf(nil); got != KindUnknown {
		t.Fatalf("expected kind=unknown for nil, got %s", got)
	}
}

func TestKindCode(t *testing.T) {
	if code := KindUserNotFound.Code(); code != "user_not_found" {
		t.Fatalf("expected user_not_found, got %q", code)
	}
	if code := Kind(99).Code(); code != "internal_error" {
		t.Fatalf("expected internal_error for unknown kind, got %q", code)
	}
}

func TestUnsupportedMediaCause(t *testing.T) {
	err := New(KindUnsupportedMedia, "media: fetch", ErrTooLarge)
	if !errors.Is(err, ErrUnsupportedMedia) || !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected kind and cause to match, got %v", err)
	}
	if errors.Is(err, ErrMissingLink) {
		t.Fatalf("expected a different cause not to match")
	}
}
