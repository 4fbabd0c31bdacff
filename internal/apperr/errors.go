// Package apperr carries the error taxonomy shared by the service layer and
// the HTTP edge. Every failure a client can observe has a stable Code; the
// Message is for display only.
package apperr

import (
	"errors"
	"net/http"
	"time"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindAuthorization
	KindRateLimited
	KindConflict
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindRateLimited:
		return "rate_limited"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

type Code string

const (
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeTokenExpired        Code = "TOKEN_EXPIRED"
	CodeTokenRevoked        Code = "TOKEN_REVOKED"
	CodeInvalidToken        Code = "INVALID_TOKEN"
	CodeForbidden           Code = "FORBIDDEN"
	CodeRateLimitExceeded   Code = "RATE_LIMIT_EXCEEDED"
	CodeCSRFFailed          Code = "CSRF_VALIDATION_FAILED"
	CodeInvalidCredentials  Code = "INVALID_CREDENTIALS"
	CodeEmailExists         Code = "EMAIL_EXISTS"
	CodeWeakPassword        Code = "WEAK_PASSWORD"
	CodeInvalidRefreshToken Code = "INVALID_REFRESH_TOKEN"
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeNotFound            Code = "NOT_FOUND"
	CodeInternal            Code = "INTERNAL_ERROR"
)

type Error struct {
	Kind    Kind
	Code    Code
	Message string
	// RetryAfter is set for KindRateLimited.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap attaches an internal cause. The cause is never shown to clients.
func Wrap(err error, kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validation(code Code, message string) *Error {
	return New(KindValidation, code, message)
}

func Unauthenticated(code Code, message string) *Error {
	return New(KindAuthentication, code, message)
}

func Forbidden(message string) *Error {
	return New(KindAuthorization, CodeForbidden, message)
}

func NotFound(message string) *Error {
	return New(KindNotFound, CodeNotFound, message)
}

func Conflict(code Code, message string) *Error {
	return New(KindConflict, code, message)
}

func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Code:       CodeRateLimitExceeded,
		Message:    "Too many requests, please try again later",
		RetryAfter: retryAfter,
	}
}

func Internal(err error) *Error {
	return Wrap(err, KindInternal, CodeInternal, "Internal server error")
}

// From extracts the tagged error, treating anything untagged as internal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

func KindOf(err error) Kind {
	return From(err).Kind
}

func CodeOf(err error) Code {
	return From(err).Code
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Response is the JSON body written for every failed request.
type Response struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func ToResponse(err error) Response {
	e := From(err)
	return Response{Code: e.Code, Message: e.Message}
}
