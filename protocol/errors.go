package protocol

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes carried in the wire error envelope. The code, not the message,
// is the stable contract with clients.
const (
	CodeUnsupportedVersion      = "ERR_UNSUPPORTED_VERSION"
	CodeInvalidPublicKey        = "ERR_INVALID_PUBLIC_KEY"
	CodeNoCommonCipher          = "ERR_NO_COMMON_CIPHER"
	CodeInvalidNonce            = "ERR_INVALID_NONCE"
	CodeInvalidTimestamp        = "ERR_INVALID_TIMESTAMP"
	CodeChannelInvalid          = "ERR_CHANNEL_INVALID"
	CodeDecryptionFailed        = "ERR_DECRYPTION_FAILED"
	CodeValidation              = "ERR_VALIDATION"
	CodeInvalidCertificate      = "ERR_INVALID_CERTIFICATE"
	CodeNodeNotFound            = "ERR_NODE_NOT_FOUND"
	CodeInvalidStateTransition  = "ERR_INVALID_STATE_TRANSITION"
	CodeNodeNotAuthorized       = "ERR_NODE_NOT_AUTHORIZED"
	CodeAuthenticationFailed    = "ERR_AUTHENTICATION_FAILED"
	CodeSessionInvalid          = "ERR_SESSION_INVALID"
	CodeInsufficientPermissions = "ERR_INSUFFICIENT_PERMISSIONS"
	CodeRateLimited             = "ERR_RATE_LIMITED"
	CodeInternal                = "ERR_INTERNAL"
)

// Error is a protocol-level failure with a stable code and an HTTP mapping.
// It is the only error shape that crosses the wire; anything else is
// reported as an opaque internal error.
type Error struct {
	Code       string
	Message    string
	Details    map[string]string
	HTTPStatus int
	Retryable  bool
	RetryAfter int // seconds, 0 means unset
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WithDetail attaches a detail entry and returns the error for chaining.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// ErrorBody is the inner object of the wire error envelope.
type ErrorBody struct {
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
	Retryable  bool              `json:"retryable"`
	RetryAfter int               `json:"retryAfter,omitempty"`
}

// ErrorEnvelope is the wire shape of every error response:
// {"error":{"code":...,"message":...,"retryable":...}}.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// Envelope returns the wire representation of the error.
func (e *Error) Envelope() ErrorEnvelope {
	return ErrorEnvelope{Error: ErrorBody{
		Code:       e.Code,
		Message:    e.Message,
		Details:    e.Details,
		Retryable:  e.Retryable,
		RetryAfter: e.RetryAfter,
	}}
}

// AsProtocolError extracts a *Error from err, or wraps err as an internal
// error. Internal failures are always retryable and never leak the
// underlying message to the caller.
func AsProtocolError(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return &Error{
		Code:       CodeInternal,
		Message:    "internal error",
		HTTPStatus: http.StatusInternalServerError,
		Retryable:  true,
	}
}

// Validation failures and malformed handshake input.
func NewValidationError(format string, args ...any) *Error {
	return &Error{
		Code:       CodeValidation,
		Message:    fmt.Sprintf(format, args...),
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewProtocolError builds a 400 error with the given code. Used for
// handshake negotiation failures where the caller may renegotiate.
func NewProtocolError(code, message string, retryable bool) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Retryable:  retryable,
	}
}

// ErrChannelInvalid covers both unknown and expired channels: the two are
// indistinguishable to the caller and both require a new handshake.
func ErrChannelInvalid() *Error {
	return &Error{
		Code:       CodeChannelInvalid,
		Message:    "channel unknown or expired",
		HTTPStatus: http.StatusBadRequest,
		Retryable:  true,
	}
}

// ErrDecryptionFailed is deliberately low-information: it never reveals
// which integrity check failed.
func ErrDecryptionFailed() *Error {
	return &Error{
		Code:       CodeDecryptionFailed,
		Message:    "payload could not be decrypted",
		HTTPStatus: http.StatusBadRequest,
	}
}

// ErrAuthenticationFailed is the uniform phase-3 failure. The precise reason
// is logged server-side only.
func ErrAuthenticationFailed() *Error {
	return &Error{
		Code:       CodeAuthenticationFailed,
		Message:    "authentication failed",
		HTTPStatus: http.StatusBadRequest,
	}
}

// ErrNodeNotFound maps to 404: the identifier is wrong, not the protocol.
func ErrNodeNotFound(nodeID string) *Error {
	return &Error{
		Code:       CodeNodeNotFound,
		Message:    "node not found",
		Details:    map[string]string{"nodeId": nodeID},
		HTTPStatus: http.StatusNotFound,
	}
}

// ErrStateConflict names an illegal status transition explicitly.
func ErrStateConflict(from, to NodeStatus) *Error {
	return &Error{
		Code:       CodeInvalidStateTransition,
		Message:    fmt.Sprintf("cannot transition node from %s to %s", from, to),
		Details:    map[string]string{"from": string(from), "to": string(to)},
		HTTPStatus: http.StatusBadRequest,
	}
}

// ErrSessionInvalid covers missing, malformed, unknown and expired session
// tokens uniformly.
func ErrSessionInvalid() *Error {
	return &Error{
		Code:       CodeSessionInvalid,
		Message:    "session token missing, invalid or expired",
		HTTPStatus: http.StatusUnauthorized,
	}
}

// ErrInsufficientPermissions is returned when the session's fixed capability
// level does not meet the endpoint's declared minimum.
func ErrInsufficientPermissions(required AccessLevel) *Error {
	return &Error{
		Code:       CodeInsufficientPermissions,
		Message:    "insufficient capability level",
		Details:    map[string]string{"required": string(required)},
		HTTPStatus: http.StatusForbidden,
		Retryable:  true,
	}
}

// ErrRateLimited is returned when a session exceeds its request budget.
// RetryAfter hints when the window rolls over.
func ErrRateLimited(retryAfter int) *Error {
	return &Error{
		Code:       CodeRateLimited,
		Message:    "request rate limit exceeded",
		HTTPStatus: http.StatusTooManyRequests,
		Retryable:  true,
		RetryAfter: retryAfter,
	}
}
