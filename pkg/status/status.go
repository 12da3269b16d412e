// Package status carries the uniform (reason, message) failure returned by
// every signaling operation.
package status

import (
	"errors"
	"fmt"
	"net/http"
)

// Reason classifies a failure. The numeric values are the HTTP status codes
// the transport maps them to.
type Reason int

const (
	NotFound           Reason = http.StatusNotFound
	Conflict           Reason = http.StatusConflict
	BadRequest         Reason = http.StatusBadRequest
	InternalError      Reason = http.StatusInternalServerError
	Unauthorized       Reason = http.StatusUnauthorized
	Forbidden          Reason = http.StatusForbidden
	ServiceUnavailable Reason = http.StatusServiceUnavailable
)

func (r Reason) String() string {
	switch r {
	case NotFound:
		return "NotFound"
	case Conflict:
		return "Conflict"
	case BadRequest:
		return "BadRequest"
	case InternalError:
		return "InternalError"
	case Unauthorized:
		return "Unauthorized"
	case Forbidden:
		return "Forbidden"
	case ServiceUnavailable:
		return "ServiceUnavailable"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// HTTPStatus returns the status code for r.
func (r Reason) HTTPStatus() int {
	if r < 400 || r > 599 {
		return http.StatusInternalServerError
	}
	return int(r)
}

// Retryable reports whether a caller may retry the same request with backoff.
func (r Reason) Retryable() bool {
	return r == Conflict || r == ServiceUnavailable
}

// ReasonFromHTTPStatus maps a response code onto the closest reason.
func ReasonFromHTTPStatus(code int) Reason {
	switch code {
	case http.StatusNotFound, http.StatusConflict, http.StatusBadRequest,
		http.StatusUnauthorized, http.StatusForbidden, http.StatusServiceUnavailable:
		return Reason(code)
	}
	if code >= 400 && code < 500 {
		return BadRequest
	}
	return InternalError
}

// Failure is a domain outcome that stops a signaling operation.
type Failure struct {
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Reason, f.Message)
}

// New creates a failure.
func New(reason Reason, message string) *Failure {
	return &Failure{Reason: reason, Message: message}
}

// Errorf creates a failure with a formatted message.
func Errorf(reason Reason, format string, args ...any) *Failure {
	return &Failure{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func NewNotFound(format string, args ...any) *Failure {
	return Errorf(NotFound, format, args...)
}

func NewConflict(format string, args ...any) *Failure {
	return Errorf(Conflict, format, args...)
}

func NewBadRequest(format string, args ...any) *Failure {
	return Errorf(BadRequest, format, args...)
}

func NewInternal(format string, args ...any) *Failure {
	return Errorf(InternalError, format, args...)
}

// FromError returns the Failure in err's chain unchanged, or wraps any other
// error as an InternalError keeping its text. A nil error yields nil.
func FromError(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return &Failure{Reason: InternalError, Message: err.Error()}
}

// ReasonOf returns the reason of err, InternalError for foreign errors.
func ReasonOf(err error) Reason {
	if f := FromError(err); f != nil {
		return f.Reason
	}
	return 0
}

// Is reports whether err carries the given reason.
func Is(err error, reason Reason) bool {
	return err != nil && ReasonOf(err) == reason
}
