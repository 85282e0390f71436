package settlement

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Error is a settlement failure carrying a machine-readable code
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`

	cause error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause, if any
func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error with the same code, so sentinels work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Error codes
const (
	ErrCodeInvalidAddress     = "invalid_address"
	ErrCodeInvalidAmount      = "invalid_amount"
	ErrCodeMissingField       = "missing_field"
	ErrCodeInvalidMemo        = "invalid_memo"
	ErrCodeTransactionExpired = "transaction_expired"
	ErrCodeInvalidKey         = "invalid_key"
	ErrCodeSignerMismatch     = "signer_mismatch"

	ErrCodeStaleNonce    = "stale_nonce"
	ErrCodeNonceConflict = "nonce_conflict"

	ErrCodeUserRejected       = "user_rejected"
	ErrCodeSigningUnavailable = "signing_unavailable"

	ErrCodeInsufficientFunds  = "insufficient_funds"
	ErrCodeExpired            = "expired"
	ErrCodeNodeRejected       = "node_rejected"
	ErrCodeNetworkUnavailable = "network_unavailable"

	ErrCodeNotFound = "not_found"

	ErrCodePaymentAborted = "payment_aborted"
	ErrCodeInternal       = "internal_error"
)

// Sentinels for errors.Is
var (
	ErrInvalidAddress     = &Error{Code: ErrCodeInvalidAddress}
	ErrInvalidAmount      = &Error{Code: ErrCodeInvalidAmount}
	ErrMissingField       = &Error{Code: ErrCodeMissingField}
	ErrInvalidMemo        = &Error{Code: ErrCodeInvalidMemo}
	ErrTransactionExpired = &Error{Code: ErrCodeTransactionExpired}
	ErrInvalidKey         = &Error{Code: ErrCodeInvalidKey}
	ErrSignerMismatch     = &Error{Code: ErrCodeSignerMismatch}
	ErrStaleNonce         = &Error{Code: ErrCodeStaleNonce}
	ErrNonceConflict      = &Error{Code: ErrCodeNonceConflict}
	ErrUserRejected       = &Error{Code: ErrCodeUserRejected}
	ErrSigningUnavailable = &Error{Code: ErrCodeSigningUnavailable}
	ErrInsufficientFunds  = &Error{Code: ErrCodeInsufficientFunds}
	ErrExpired            = &Error{Code: ErrCodeExpired}
	ErrNodeRejected       = &Error{Code: ErrCodeNodeRejected}
	ErrNetworkUnavailable = &Error{Code: ErrCodeNetworkUnavailable}
	ErrNotFound           = &Error{Code: ErrCodeNotFound}
	ErrPaymentAborted     = &Error{Code: ErrCodePaymentAborted}
)

// ErrorKind is the coarse taxonomy callers branch on
type ErrorKind string

const (
	KindValidation         ErrorKind = "ValidationError"
	KindNonceConflict      ErrorKind = "NonceConflict"
	KindSigningRejected    ErrorKind = "SigningRejected"
	KindSigningUnavailable ErrorKind = "SigningUnavailable"
	KindNodeSubmission     ErrorKind = "NodeSubmissionError"
	KindNotFound           ErrorKind = "NotFound"
	KindInternal           ErrorKind = "InternalError"
)

// NewError creates a new settlement error
func NewError(code, message string, details map[string]interface{}) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// WrapError creates a settlement error that keeps cause for errors.As/Unwrap
func WrapError(code string, cause error, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Kind maps the code to its taxonomy class
func (e *Error) Kind() ErrorKind {
	switch e.Code {
	case ErrCodeInvalidAddress, ErrCodeInvalidAmount, ErrCodeMissingField, ErrCodeInvalidMemo,
		ErrCodeTransactionExpired, ErrCodeInvalidKey, ErrCodeSignerMismatch, ErrCodePaymentAborted:
		return KindValidation
	case ErrCodeStaleNonce, ErrCodeNonceConflict:
		return KindNonceConflict
	case ErrCodeUserRejected:
		return KindSigningRejected
	case ErrCodeSigningUnavailable:
		return KindSigningUnavailable
	case ErrCodeInsufficientFunds, ErrCodeExpired, ErrCodeNodeRejected, ErrCodeNetworkUnavailable:
		return KindNodeSubmission
	case ErrCodeNotFound:
		return KindNotFound
	}
	return KindInternal
}

// Retryable reports whether the caller may retry the same request.
// Nonce conflicts are retryable once after resynchronization; network
// failures are retryable with backoff by the caller.
func (e *Error) Retryable() bool {
	switch e.Code {
	case ErrCodeStaleNonce, ErrCodeNonceConflict, ErrCodeNetworkUnavailable:
		return true
	}
	return false
}

// HTTPStatus returns the status code the relay API answers with
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case ErrCodeInsufficientFunds:
		return http.StatusPaymentRequired
	case ErrCodeExpired:
		return http.StatusGone
	case ErrCodeNodeRejected:
		return http.StatusBadGateway
	case ErrCodeNetworkUnavailable:
		return http.StatusServiceUnavailable
	}

	switch e.Kind() {
	case KindValidation:
		return http.StatusBadRequest
	case KindNonceConflict:
		return http.StatusConflict
	case KindSigningRejected:
		return http.StatusForbidden
	case KindSigningUnavailable:
		return http.StatusFailedDependency
	case KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

// AsError extracts a settlement error from err. Errors from outside the
// taxonomy are reported as internal errors.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: ErrCodeInternal, Message: err.Error(), cause: err}
}

// HasCode reports whether err is a settlement error with the given code
func HasCode(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
