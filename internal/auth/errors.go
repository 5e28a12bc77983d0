package auth

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Every failure returned by the Manager matches exactly one of
// these with errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrUserNotFound        = errors.New("user not found")
	ErrEmailInUse          = errors.New("email already in use")
	ErrWeakPassword        = errors.New("weak password")
	ErrInvalidEmail        = errors.New("invalid email")
	ErrDomainNotAuthorized = errors.New("domain not authorized")
	ErrPopupBlocked        = errors.New("popup blocked")
	ErrUserCancelled       = errors.New("user cancelled")
	ErrAccountExists       = errors.New("account exists with different credential")
	ErrNetwork             = errors.New("network error")
	ErrUnknown             = errors.New("unknown auth error")
)

// Provider error codes.
const (
	CodeWrongPassword           = "auth/wrong-password"
	CodeInvalidCredential       = "auth/invalid-credential"
	CodeInvalidLoginCredentials = "auth/invalid-login-credentials"
	CodeUserNotFound            = "auth/user-not-found"
	CodeEmailInUse              = "auth/email-already-in-use"
	CodeWeakPassword            = "auth/weak-password"
	CodeInvalidEmail            = "auth/invalid-email"
	CodeUnauthorizedDomain      = "auth/unauthorized-domain"
	CodePopupBlocked            = "auth/popup-blocked"
	CodePopupClosedByUser       = "auth/popup-closed-by-user"
	CodeCancelledPopupRequest   = "auth/cancelled-popup-request"
	CodeAccountExists           = "auth/account-exists-with-different-credential"
	CodeNetworkRequestFailed    = "auth/network-request-failed"
	CodeOperationNotAllowed     = "auth/operation-not-allowed"
)

var kindByCode = map[string]error{
	CodeWrongPassword:           ErrInvalidCredentials,
	CodeInvalidCredential:       ErrInvalidCredentials,
	CodeInvalidLoginCredentials: ErrInvalidCredentials,
	CodeUserNotFound:            ErrUserNotFound,
	CodeEmailInUse:              ErrEmailInUse,
	CodeWeakPassword:            ErrWeakPassword,
	CodeInvalidEmail:            ErrInvalidEmail,
	CodeUnauthorizedDomain:      ErrDomainNotAuthorized,
	CodePopupBlocked:            ErrPopupBlocked,
	CodePopupClosedByUser:       ErrUserCancelled,
	CodeCancelledPopupRequest:   ErrUserCancelled,
	CodeAccountExists:           ErrAccountExists,
	CodeNetworkRequestFailed:    ErrNetwork,
}

// ProviderError is a failure reported by the identity provider, carrying
// its stable string code.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Code
}

// Error is a classified authentication failure.
type Error struct {
	Kind    error
	Code    string // provider code, empty for local failures
	Message string // provider message, if any
	Notice  string // what the Manager showed the user
	Err     error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%v (%s)", e.Kind, e.Code)
	}
	return e.Kind.Error()
}

// Is matches the error kind.
func (e *Error) Is(target error) bool { return target == e.Kind }

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error { return e.Err }

// Validation reasons.
const (
	ReasonEmpty    = "empty"
	ReasonMismatch = "mismatch"
	ReasonTooShort = "too short"
)

// ValidationError is a local, pre-network input failure.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation failed: " + e.Reason }

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Classify maps any error from a Provider onto the taxonomy.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}

	var pe *ProviderError
	if errors.As(err, &pe) {
		kind, ok := kindByCode[pe.Code]
		if !ok {
			kind = ErrUnknown
		}
		return &Error{Kind: kind, Code: pe.Code, Message: pe.Message, Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrNetwork, Code: CodeNetworkRequestFailed, Message: err.Error(), Err: err}
	}
	return &Error{Kind: ErrUnknown, Message: err.Error(), Err: err}
}

// KindName is a short stable label for an error kind, used in metrics and
// HTTP responses.
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrEmailInUse):
		return "email_in_use"
	case errors.Is(err, ErrWeakPassword):
		return "weak_password"
	case errors.Is(err, ErrInvalidEmail):
		return "invalid_email"
	case errors.Is(err, ErrDomainNotAuthorized):
		return "domain_not_authorized"
	case errors.Is(err, ErrPopupBlocked):
		return "popup_blocked"
	case errors.Is(err, ErrUserCancelled):
		return "user_cancelled"
	case errors.Is(err, ErrAccountExists):
		return "account_exists"
	case errors.Is(err, ErrNetwork):
		return "network"
	default:
		return "unknown"
	}
}
