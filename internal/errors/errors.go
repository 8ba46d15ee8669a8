// Package errors provides coded domain errors shared by the client core, the SDK and the
// reference server.
//
// Usage:
//
//	// In the store - return typed errors
//	if len(crew) == party.RequiredCrew {
//	    return errors.PartyFull("party is full")
//	}
//
//	// In callers - check with errors.Is
//	if errors.Is(err, errors.ErrPartyFull) {
//	    // disable the join control
//	}
//
//	// Rate-limit class errors carry the remaining seconds
//	if secs, ok := errors.RetryAfter(err); ok {
//	    gate.StartCooldown(secs)
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
	New    = errors.New
)

// Code is the machine-readable error code. The same value travels in the HTTP error envelope.
type Code string

const (
	CodeNotFound           Code = "not_found"
	CodeValidation         Code = "bad_request"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeConflict           Code = "conflict"
	CodeInternal           Code = "internal_error"
	CodePartyFull          Code = "party_full"
	CodeAlreadyInParty     Code = "already_in_party"
	CodeNotInParty         Code = "not_in_party"
	CodeNotLeader          Code = "not_leader"
	CodeWaitingForCrew     Code = "crew_incomplete"
	CodeRateLimited        Code = "rate_limited"
	CodeRestricted         Code = "restricted"
	CodeInsufficientEnergy Code = "insufficient_energy"
	CodeLevelTooLow        Code = "level_too_low"
	CodeChallengeFailed    Code = "challenge_failed"
	CodeBlocked            Code = "blocked"
	CodeTransport          Code = "transport"
)

// HTTPStatus returns the HTTP status code for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound, CodeNotInParty:
		return http.StatusNotFound
	case CodeConflict, CodePartyFull, CodeAlreadyInParty:
		return http.StatusConflict
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden, CodeNotLeader:
		return http.StatusForbidden
	case CodeValidation:
		return http.StatusBadRequest
	case CodeWaitingForCrew, CodeInsufficientEnergy, CodeLevelTooLow:
		return http.StatusUnprocessableEntity
	case CodeRateLimited, CodeRestricted, CodeBlocked:
		return http.StatusTooManyRequests
	case CodeTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithDetails returns a copy of the error carrying details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{Code: e.Code, Message: e.Message, Details: details, cause: e.cause}
}

// Sentinel errors for errors.Is comparisons.
var (
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
	ErrValidation         = &Error{Code: CodeValidation, Message: "validation failed"}
	ErrUnauthorized       = &Error{Code: CodeUnauthorized, Message: "unauthorized"}
	ErrForbidden          = &Error{Code: CodeForbidden, Message: "forbidden"}
	ErrConflict           = &Error{Code: CodeConflict, Message: "conflict"}
	ErrInternal           = &Error{Code: CodeInternal, Message: "internal error"}
	ErrPartyFull          = &Error{Code: CodePartyFull, Message: "party is full"}
	ErrAlreadyInParty     = &Error{Code: CodeAlreadyInParty, Message: "already in a party"}
	ErrNotInParty         = &Error{Code: CodeNotInParty, Message: "not in a party"}
	ErrNotLeader          = &Error{Code: CodeNotLeader, Message: "only the party leader can do this"}
	ErrWaitingForCrew     = &Error{Code: CodeWaitingForCrew, Message: "waiting for crew"}
	ErrRateLimited        = &Error{Code: CodeRateLimited, Message: "rate limited"}
	ErrRestricted         = &Error{Code: CodeRestricted, Message: "automation restriction active"}
	ErrInsufficientEnergy = &Error{Code: CodeInsufficientEnergy, Message: "not enough energy"}
	ErrLevelTooLow        = &Error{Code: CodeLevelTooLow, Message: "level too low"}
	ErrChallengeFailed    = &Error{Code: CodeChallengeFailed, Message: "challenge failed"}
	ErrBlocked            = &Error{Code: CodeBlocked, Message: "action on cooldown"}
	ErrTransport          = &Error{Code: CodeTransport, Message: "transport error"}
)

// Newf creates an error with the given code.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error with the given code that wraps cause.
func Wrap(cause error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

func NotFound(message string) *Error {
	return &Error{Code: CodeNotFound, Message: message}
}

func Validation(message string) *Error {
	return &Error{Code: CodeValidation, Message: message}
}

// ValidationWithDetails creates a validation error with field-level details.
func ValidationWithDetails(message string, details map[string]string) *Error {
	return &Error{Code: CodeValidation, Message: message, Details: details}
}

func Unauthorized(message string) *Error {
	return &Error{Code: CodeUnauthorized, Message: message}
}

func PartyFull(message string) *Error {
	return &Error{Code: CodePartyFull, Message: message}
}

func NotLeader(message string) *Error {
	return &Error{Code: CodeNotLeader, Message: message}
}

func Internal(message string, cause error) *Error {
	return &Error{Code: CodeInternal, Message: message, cause: cause}
}

// Transport wraps a network or decoding failure so it reaches callers already classified.
func Transport(cause error) *Error {
	return &Error{Code: CodeTransport, Message: "transport error", cause: cause}
}

// RateLimitError is a rate-limit class rejection (rate_limited, restricted or a local
// cooldown block) carrying the seconds left before the action is admitted again.
type RateLimitError struct {
	Code             Code
	RemainingSeconds int
}

func (e *RateLimitError) Error() string {
	switch e.Code {
	case CodeRestricted:
		return fmt.Sprintf("automation restriction active, retry in %ds", e.RemainingSeconds)
	case CodeBlocked:
		return fmt.Sprintf("action on cooldown, retry in %ds", e.RemainingSeconds)
	default:
		return fmt.Sprintf("rate limited, retry in %ds", e.RemainingSeconds)
	}
}

// Is matches the sentinel *Error with the same Code.
func (e *RateLimitError) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

func RateLimited(remaining int) *RateLimitError {
	return &RateLimitError{Code: CodeRateLimited, RemainingSeconds: remaining}
}

func Restricted(remaining int) *RateLimitError {
	return &RateLimitError{Code: CodeRestricted, RemainingSeconds: remaining}
}

func Blocked(remaining int) *RateLimitError {
	return &RateLimitError{Code: CodeBlocked, RemainingSeconds: remaining}
}

// RetryAfter extracts the remaining seconds from a server-issued rate-limit class error.
// Local cooldown blocks are not reported.
func RetryAfter(err error) (int, bool) {
	var rl *RateLimitError
	if !errors.As(err, &rl) || rl.Code == CodeBlocked {
		return 0, false
	}
	return rl.RemainingSeconds, true
}

// CodeOf returns the code of the first coded error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.Code
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
