package gate

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies every rejection the gateway can produce.
type Kind int

const (
	KindUnknown Kind = iota
	KindTokenMissing
	KindMalformedToken
	KindInvalidOrExpiredToken
	KindInvalidTokenPayload
	KindTenantRequired
	KindTenantNotFound
	KindInvalidTenantID
	KindTenantInactive
	KindTenantMismatch
	KindCrossTenantAccessDenied
	KindForbidden
	KindAccessDenied
	KindInvalidID
	KindAuthorizationCheckFailed
	KindRateLimitExceeded
	KindTenantResolutionFailed
)

type kindInfo struct {
	code   string
	status int
}

var kinds = map[Kind]kindInfo{
	KindTokenMissing:             {"TOKEN_MISSING", http.StatusUnauthorized},
	KindMalformedToken:           {"MALFORMED_TOKEN", http.StatusUnauthorized},
	KindInvalidOrExpiredToken:    {"INVALID_OR_EXPIRED_TOKEN", http.StatusUnauthorized},
	KindInvalidTokenPayload:      {"INVALID_TOKEN_PAYLOAD", http.StatusUnauthorized},
	KindTenantRequired:           {"TENANT_REQUIRED", http.StatusBadRequest},
	KindTenantNotFound:           {"TENANT_NOT_FOUND", http.StatusBadRequest},
	KindInvalidTenantID:          {"INVALID_TENANT_ID", http.StatusBadRequest},
	KindTenantInactive:           {"TENANT_INACTIVE", http.StatusForbidden},
	KindTenantMismatch:           {"TENANT_MISMATCH", http.StatusForbidden},
	KindCrossTenantAccessDenied:  {"CROSS_TENANT_ACCESS_DENIED", http.StatusForbidden},
	KindForbidden:                {"FORBIDDEN", http.StatusForbidden},
	KindAccessDenied:             {"ACCESS_DENIED", http.StatusForbidden},
	KindInvalidID:                {"INVALID_ID", http.StatusBadRequest},
	KindAuthorizationCheckFailed: {"AUTHORIZATION_CHECK_FAILED", http.StatusInternalServerError},
	KindRateLimitExceeded:        {"RATE_LIMIT_EXCEEDED", http.StatusTooManyRequests},
	KindTenantResolutionFailed:   {"TENANT_RESOLUTION_FAILED", http.StatusInternalServerError},
}

// Code is the stable taxonomy code written into the error envelope.
func (k Kind) Code() string {
	if info, ok := kinds[k]; ok {
		return info.code
	}
	return "INTERNAL_ERROR"
}

// Status is the HTTP status for the kind.
func (k Kind) Status() int {
	if info, ok := kinds[k]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}

func (k Kind) String() string { return k.Code() }

// Error is a terminal gate rejection. Err and Debug never reach the
// caller in production.
type Error struct {
	Kind    Kind
	Message string
	Err     error
	Debug   map[string]any
	// Headers are response headers the transport should set, e.g. Retry-After.
	Headers map[string]string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func wrapError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func (e *Error) withDebug(key string, val any) *Error {
	if e.Debug == nil {
		e.Debug = make(map[string]any)
	}
	e.Debug[key] = val
	return e
}

// AsError extracts a *Error. Any other error is reported as a failed
// authorization check so that an unexpected failure is never an allow.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return wrapError(KindAuthorizationCheckFailed, "authorization check failed", err)
}

// KindOf returns the kind of err, KindUnknown for nil.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	return AsError(err).Kind
}

// ErrNotFound is returned by lookups when the record does not exist.
var ErrNotFound = errors.New("not found")
