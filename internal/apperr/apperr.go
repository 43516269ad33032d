// Package apperr defines the closed set of failure kinds produced by the
// quota ledger, the media pipeline and the notification sender.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can dispatch without inspecting messages.
type Kind int

// Kind constants enumerate every failure the service reports.
const (
	// KindUnknown marks an unexpected fault.
	KindUnknown Kind = iota
	// KindTransientDelivery marks an outbound send that failed after retries.
	KindTransientDelivery
	// KindInsufficientQuota marks a deduction that would exceed the limit.
	KindInsufficientQuota
	// KindSubscriptionExpired marks a subscription user past the end date.
	KindSubscriptionExpired
	// KindEmptyContent marks extracted or transcribed content that is too short.
	KindEmptyContent
	// KindUnsupportedMedia marks a missing link, unknown MIME type or oversized file.
	KindUnsupportedMedia
	// KindExternalService marks an upstream transcription or summarization failure.
	KindExternalService
	// KindUserNotFound marks an operation on an unregistered phone number.
	KindUserNotFound
	// KindPlanMismatch marks a plan-specific operation on a user with another plan.
	KindPlanMismatch
	// KindInvalidInput marks malformed administrative input.
	KindInvalidInput
)

var kindCodes = map[Kind]string{
	KindUnknown:             "internal_error",
	KindTransientDelivery:   "delivery_failed",
	KindInsufficientQuota:   "insufficient_quota",
	KindSubscriptionExpired: "subscription_expired",
	KindEmptyContent:        "empty_content",
	KindUnsupportedMedia:    "unsupported_media",
	KindExternalService:     "external_service_error",
	KindUserNotFound:        "user_not_found",
	KindPlanMismatch:        "plan_mismatch",
	KindInvalidInput:        "invalid_input",
}

// Code returns the stable snake_case code used in JSON error bodies.
func (k Kind) Code() string {
	if code, ok := kindCodes[k]; ok {
		return code
	}
	return kindCodes[KindUnknown]
}

// String implements fmt.Stringer.
func (k Kind) String() string { return k.Code() }

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind.Code(), e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind.Code())
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind.Code(), e.Err)
	default:
		return e.Kind.Code()
	}
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error of the same kind, so the package-level sentinels
// below work with errors.Is.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || other == nil || e == nil {
		return false
	}
	return other.Kind == e.Kind && other.Op == "" && other.Err == nil
}

// Sentinels for errors.Is checks.
var (
	ErrTransientDelivery   = &Error{Kind: KindTransientDelivery}
	ErrInsufficientQuota   = &Error{Kind: KindInsufficientQuota}
	ErrSubscriptionExpired = &Error{Kind: KindSubscriptionExpired}
	ErrEmptyContent        = &Error{Kind: KindEmptyContent}
	ErrUnsupportedMedia    = &Error{Kind: KindUnsupportedMedia}
	ErrExternalService     = &Error{Kind: KindExternalService}
	ErrUserNotFound        = &Error{Kind: KindUserNotFound}
	ErrPlanMismatch        = &Error{Kind: KindPlanMismatch}
	ErrInvalidInput        = &Error{Kind: KindInvalidInput}
)

// New builds a classified error.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds a classified error with a formatted cause.
func Newf(kind Kind, op string, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first classified error in the chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var classified *Error
	if errors.As(err, &classified) && classified != nil {
		return classified.Kind
	}
	return KindUnknown
}

// Causes that refine KindUnsupportedMedia.
var (
	ErrMissingLink     = errors.New("missing media link")
	ErrTooLarge        = errors.New("file too large")
	ErrUnsupportedType = errors.New("unsupported mime type")
)
