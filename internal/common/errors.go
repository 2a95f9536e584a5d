// Package common defines the error model shared by all layers of the reward
// vault service. Errors carry a Kind (how callers should react) and a stable
// machine-readable Code (what the API returns). Match with errors.Is/errors.As.
package common

import (
	"errors"
	"fmt"
)

// Kind classifies an error by the reaction it requires, not by where it
// occurred. Bulk processing records Validation/InvalidTransition failures per
// item and continues; Transient failures are safe to retry.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindInvalidTransition
	KindTransient
	KindUnauthorized
)

// Stable error codes surfaced to API clients.
const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeSegmentNotFound      = "SEGMENT_NOT_FOUND"
	CodeInvalidTargetMode    = "INVALID_TARGET_MODE"
	CodeIdempotencyReuse     = "IDEMPOTENCY_KEY_REUSE"
	CodeAlreadyInProgress    = "REQUEST_IN_PROGRESS"
	CodeNotClaimable         = "NOT_CLAIMABLE"
	CodeAlreadyClaimed       = "ALREADY_CLAIMED"
	CodeCannotModifyClaimed  = "CANNOT_MODIFY_CLAIMED"
	CodeAlreadyAttended      = "ALREADY_ATTENDED"
	CodeCSVUploadRequired    = "CSV_UPLOAD_REQUIRED"
	CodeStoreTimeout         = "STORE_TIMEOUT"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeInternal             = "INTERNAL_ERROR"
)

// Error is the service error type. Wrapped causes stay reachable through
// errors.Is/errors.As.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is makes two *Error values match when their codes match, so sentinel
// instances below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// New builds an Error with the given classification.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches a cause to a classified error.
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

// Validationf builds a client-input rejection.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Sentinel errors. Prefer these to constructing ad hoc copies so errors.Is
// comparisons stay cheap and uniform.
var (
	ErrorNotFound       = New(KindNotFound, CodeNotFound, "not found")
	ErrSegmentNotFound  = New(KindNotFound, CodeSegmentNotFound, "segment not found")
	ErrInvalidTarget    = New(KindValidation, CodeInvalidTargetMode, "invalid target mode")
	ErrIdempotencyReuse = New(KindConflict, CodeIdempotencyReuse, "idempotency key reused with a different payload")
	ErrInProgress       = New(KindConflict, CodeAlreadyInProgress, "identical request already in progress")
	ErrNotClaimable     = New(KindInvalidTransition, CodeNotClaimable, "tier is not claimable")
	ErrAlreadyClaimed   = New(KindInvalidTransition, CodeAlreadyClaimed, "tier already claimed")
	ErrClaimedFrozen    = New(KindInvalidTransition, CodeCannotModifyClaimed, "claimed tier cannot be modified")
	ErrAlreadyAttended  = New(KindConflict, CodeAlreadyAttended, "attendance already recorded today")
	ErrStoreTimeout     = New(KindTransient, CodeStoreTimeout, "store lock or statement timeout")
	ErrorUnauthorized   = New(KindUnauthorized, CodeUnauthorized, "unauthorized")
	ErrorInternal       = New(KindInternal, CodeInternal, "internal error")
	ErrInvalidToken     = New(KindUnauthorized, CodeUnauthorized, "invalid token")
)

// KindOf extracts the Kind from any error chain; unknown errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf extracts the stable code from any error chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
