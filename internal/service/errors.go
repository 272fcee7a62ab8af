package service

import (
	"errors"
	"fmt"

	"attendance-service/internal/models"
)

// Kind is the error class; the handler maps it to an HTTP status.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindBusinessRule
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindBusinessRule:
		return "business_rule"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Error is an expected business outcome with a stable machine-readable code.
// Storage and other unexpected failures are plain wrapped errors instead.
type Error struct {
	Kind    Kind                   `json:"-"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches on code so errors.Is(err, ErrAccountLocked) holds for copies
// carrying details.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// With returns a copy of e carrying details.
func (e *Error) With(details map[string]interface{}) *Error {
	c := *e
	c.Details = details
	return &c
}

// Withf returns a copy of e with a formatted message.
func (e *Error) Withf(format string, args ...interface{}) *Error {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Validation
var (
	ErrValidation       = newError(KindValidation, "VALIDATION_ERROR", "Invalid request")
	ErrPasswordTooShort = newError(KindValidation, "PASSWORD_TOO_SHORT", fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	ErrInvalidWorkMode  = newError(KindValidation, "INVALID_WORK_MODE", "Work mode must be office or wfh")
	ErrInvalidLocation  = newError(KindValidation, "INVALID_LOCATION", "Latitude must be within [-90, 90] and longitude within [-180, 180]")
	ErrInvalidRadius    = newError(KindValidation, "INVALID_RADIUS", "Radius is out of range")
)

// Authentication
var (
	ErrInvalidCredentials  = newError(KindAuthentication, "INVALID_CREDENTIALS", "Invalid email or password")
	ErrAccountLocked       = newError(KindAuthentication, "ACCOUNT_LOCKED", "Account is temporarily locked")
	ErrAccountInactive     = newError(KindAuthentication, "ACCOUNT_INACTIVE", "Account is deactivated")
	ErrNoToken             = newError(KindAuthentication, "NO_TOKEN", "Authentication token is required")
	ErrTokenExpired        = newError(KindAuthentication, "TOKEN_EXPIRED", "Session has expired, please log in again")
	ErrInvalidToken        = newError(KindAuthentication, "INVALID_TOKEN", "Invalid authentication token")
	ErrUserNotFound        = newError(KindAuthentication, "USER_NOT_FOUND", "Account no longer exists")
	ErrPasswordChanged     = newError(KindAuthentication, "PASSWORD_CHANGED", "Password was changed, please log in again")
	ErrInvalidResetToken   = newError(KindValidation, "INVALID_OR_EXPIRED_TOKEN", "Reset token is invalid or has expired")
	ErrDeviceLimitReached  = newError(KindBusinessRule, "DEVICE_LIMIT_REACHED", fmt.Sprintf("Maximum of %d devices reached; remove a device before signing in from a new one", models.MaxDevices))
	ErrForbidden           = newError(KindAuthorization, "FORBIDDEN", "Insufficient permissions")
	ErrRateLimited         = newError(KindRateLimited, "RATE_LIMITED", "Too many requests, try again later")
	ErrDeviceNotRegistered = newError(KindNotFound, "DEVICE_NOT_FOUND", "Device is not registered")
)

// Attendance
var (
	ErrAlreadyCheckedIn    = newError(KindConflict, "ALREADY_CHECKED_IN", "Already checked in today")
	ErrNotCheckedIn        = newError(KindBusinessRule, "NOT_CHECKED_IN", "No check-in found for today")
	ErrAlreadyCheckedOut   = newError(KindConflict, "ALREADY_CHECKED_OUT", "Already checked out today")
	ErrOfficeNotConfigured = newError(KindBusinessRule, "OFFICE_NOT_CONFIGURED", "No active office location is configured")
	ErrOutOfOfficeRadius   = newError(KindBusinessRule, "OUT_OF_OFFICE_RADIUS", "You are outside the office radius")
	ErrOutOfWFHRadius      = newError(KindBusinessRule, "OUT_OF_WFH_RADIUS", "You are too far from your check-in location")
)

// Admin
var (
	ErrEmailTaken      = newError(KindConflict, "EMAIL_TAKEN", "Email is already registered")
	ErrEmployeeIDTaken = newError(KindConflict, "EMPLOYEE_ID_TAKEN", "Employee ID is already in use")
	ErrNotFound        = newError(KindNotFound, "NOT_FOUND", "Resource not found")
	ErrInternal        = newError(KindInternal, "INTERNAL_ERROR", "An unexpected error occurred")
)
