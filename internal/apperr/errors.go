package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the transport layer.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindForbidden
	KindConflict
	KindInvalidInput
	KindUnavailable
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindConflict:
		return "conflict"
	case KindInvalidInput:
		return "invalid_input"
	case KindUnavailable:
		return "unavailable"
	case KindUnauthorized:
		return "unauthorized"
	}
	return "internal"
}

// Error is a domain error with a stable machine-readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two *Error values by code so wrapped sentinels compare equal.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func newErr(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// NotFound returns a new not-found error.
func NotFound(code, msg string) *Error { return newErr(KindNotFound, code, msg) }

// Forbidden returns a new forbidden error.
func Forbidden(code, msg string) *Error { return newErr(KindForbidden, code, msg) }

// Conflict returns a new conflict error.
func Conflict(code, msg string) *Error { return newErr(KindConflict, code, msg) }

// InvalidInput returns a new validation error.
func InvalidInput(code, msg string) *Error { return newErr(KindInvalidInput, code, msg) }

// Unauthorized returns a new authentication error.
func Unauthorized(code, msg string) *Error { return newErr(KindUnauthorized, code, msg) }

// Unavailable wraps an infrastructure failure.
func Unavailable(op string, err error) *Error {
	return &Error{Kind: KindUnavailable, Code: "unavailable", Message: op, Err: err}
}

// Invalid returns a validation error carrying a custom message.
func Invalid(msg string) *Error { return newErr(KindInvalidInput, "invalid_input", msg) }

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ===== Authentication =====
var (
	ErrInvalidCredentials = Unauthorized("invalid_credentials", "invalid email or password")
	ErrEmailExists        = Conflict("email_exists", "email already registered")
	ErrUserNotFound       = NotFound("user_not_found", "user not found")
	ErrAccountDisabled    = Forbidden("account_disabled", "account is disabled")
	ErrPasswordTooShort   = InvalidInput("password_too_short", "password must be at least 6 characters")
	ErrInvalidEmail       = InvalidInput("invalid_email", "invalid email format")
)

// ===== Events =====
var (
	ErrEventNotFound   = NotFound("event_not_found", "event not found")
	ErrAlreadyEnded    = Conflict("already_ended", "event has ended")
	ErrNameRequired    = InvalidInput("name_required", "name is required")
	ErrInvalidDates    = InvalidInput("invalid_dates", "end date must not be before start date")
	ErrArchiveNotFound = NotFound("archive_not_found", "event archive not available")
)

// ===== Membership =====
var (
	ErrNotMember          = Forbidden("not_member", "not a member of this event")
	ErrForbidden          = Forbidden("forbidden", "not authorized to perform this action")
	ErrMembershipNotFound = NotFound("membership_not_found", "membership not found")
	ErrInviteNotFound     = NotFound("invite_not_found", "invite not found or already accepted")
	ErrAlreadyInvited     = Conflict("already_invited", "user already invited to this event")
	ErrAlreadyProcessed   = Conflict("already_processed", "invite already processed")
	ErrDuplicateOwner     = Conflict("duplicate_owner", "event already has an owner")
	ErrInvalidRole        = InvalidInput("invalid_role", "role must be admin, member or viewer")
	ErrInvalidTarget      = Forbidden("invalid_target", "operation not allowed on this member")
	ErrPasswordRequired   = InvalidInput("password_required", "password is required to create an account")
)

// ===== Items =====
var (
	ErrItemNotFound    = NotFound("item_not_found", "item not found")
	ErrInvalidStatus   = InvalidInput("invalid_status", "status must be not_started, in_progress, packed or delivered")
	ErrInvalidPriority = InvalidInput("invalid_priority", "priority must be low, medium or high")
	ErrInvalidAssignee = InvalidInput("invalid_assignee", "assignee must be an accepted member of the event")
)
