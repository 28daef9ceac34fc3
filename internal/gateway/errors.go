// Package gateway orchestrates one client request end to end: account
// acquisition, the backend call, stream pumping and outcome reporting.
package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a request failure for the client-facing error body.
type ErrorKind string

const (
	KindInvalidRequest ErrorKind = "invalid_request_error"
	KindNoAccount      ErrorKind = "overloaded_error"
	KindRateLimited    ErrorKind = "rate_limit_error"
	KindAuth           ErrorKind = "authentication_error"
	KindUpstream       ErrorKind = "api_error"
)

// Error is a request failure with an HTTP status and a client-safe message.
// The transport layer renders it in whichever schema the request arrived in.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// AsError extracts a gateway Error, wrapping unknown failures as an
// internal upstream error so no raw error text leaks to clients.
func AsError(err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return &Error{
		Kind:    KindUpstream,
		Status:  http.StatusBadGateway,
		Message: "upstream request failed",
	}
}

func invalidRequest(format string, args ...any) *Error {
	return &Error{
		Kind:    KindInvalidRequest,
		Status:  http.StatusBadRequest,
		Message: fmt.Sprintf(format, args...),
	}
}
