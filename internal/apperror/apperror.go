// Package apperror defines the error taxonomy shared by the broker, the REST
// boundary and the WebSocket transport. Every error carries a stable wire
// code and the HTTP status the REST layer responds with.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error.
type Kind string

const (
	KindUnknownCompany Kind = "unknown_company"
	KindTicketNotFound Kind = "ticket_not_found"
	KindAccessDenied   Kind = "access_denied"
	KindNotInRoom      Kind = "not_in_room"
	KindValidation     Kind = "validation_failed"
	KindRateLimited    Kind = "rate_limited"
	KindInternal       Kind = "internal_error"
)

// Error is the concrete application error. Code is the value sent to
// clients in the "code" field of error payloads.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	HTTPStatus int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an Error of the given kind. The HTTP status is derived
// from the kind.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:       kind,
		Code:       string(kind),
		Message:    message,
		HTTPStatus: statusFor(kind),
	}
}

func UnknownCompany(companyID string) error {
	return New(KindUnknownCompany, fmt.Sprintf("company %q not found", companyID))
}

func TicketNotFound() error {
	return New(KindTicketNotFound, "ticket not found")
}

// AccessDenied never names the resource so that cross-tenant callers cannot
// tell an existing ticket from a missing one beyond the generic denial.
func AccessDenied() error {
	return New(KindAccessDenied, "access denied")
}

func NotInRoom() error {
	return New(KindNotInRoom, "join a ticket before sending to it")
}

func Validation(message string) error {
	return New(KindValidation, message)
}

func RateLimited() error {
	return New(KindRateLimited, "too many requests, slow down")
}

func Internal(err error) error {
	e := New(KindInternal, "internal server error")
	e.Err = err
	return e
}

// Is reports whether err is an application error of the given kind.
func Is(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// From converts any error into an *Error. Unknown errors become internal
// errors wrapping the original.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	e := New(KindInternal, "internal server error")
	e.Err = err
	return e
}

func statusFor(kind Kind) int {
	switch kind {
	case KindUnknownCompany, KindTicketNotFound:
		return http.StatusNotFound
	case KindAccessDenied:
		return http.StatusForbidden
	case KindNotInRoom:
		return http.StatusConflict
	case KindValidation:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
