// Package api provides an HTTP client for the timeline REST backend with
// automatic retry, per-call timeouts, and error classification.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Error classes. Every error returned by this package, and by the session,
// cache and mutation packages built on top of it, matches exactly one of
// these with errors.Is.
var (
	ErrNotAuthenticated = errors.New("api: not authenticated")
	ErrAuth             = errors.New("api: authentication rejected")
	ErrNetwork          = errors.New("api: network error")
	ErrServer           = errors.New("api: server error")
	ErrValidation       = errors.New("api: validation error")
)

// Status sentinels. Each one belongs to a class above, so
// errors.Is(err, ErrNotFound) and errors.Is(err, ErrServer) both hold for a 404.
var (
	ErrBadRequest   = errors.New("api: bad request")
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrForbidden    = errors.New("api: forbidden")
	ErrNotFound     = errors.New("api: not found")
	ErrConflict     = errors.New("api: conflict")
	ErrThrottled    = errors.New("api: throttled")
)

// classOf maps a status sentinel to its error class.
func classOf(sentinel error) error {
	switch sentinel {
	case ErrBadRequest, ErrConflict, ErrValidation:
		return ErrValidation
	case ErrUnauthorized, ErrForbidden, ErrAuth:
		return ErrAuth
	case ErrNotFound, ErrThrottled, ErrServer:
		return ErrServer
	default:
		return ErrServer
	}
}

// Error is a non-success response from the backend. It carries the status
// code, the server-provided message (if any) and the raw body for debugging.
type Error struct {
	StatusCode int
	Message    string
	Body       []byte
	Err        error // status sentinel, for errors.Is()
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
	}

	return fmt.Sprintf("api: HTTP %d", e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports class membership so callers can test the broad kind without
// knowing the exact status.
func (e *Error) Is(target error) bool {
	return target == classOf(e.Err)
}

// classifyStatus maps an HTTP status code to a status sentinel.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnprocessableEntity:
		return ErrValidation
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		return ErrServer
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// errorBody is the subset of the backend's error JSON we understand. Spring
// problem details use "detail"; older handlers use "message" or "error".
type errorBody struct {
	Detail  string `json:"detail"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// newError builds an Error from a response status and body. The message
// prefers detail, then message, then error, then the status text.
func newError(code int, body []byte) *Error {
	msg := ""

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		switch {
		case eb.Detail != "":
			msg = eb.Detail
		case eb.Message != "":
			msg = eb.Message
		case eb.Error != "":
			msg = eb.Error
		}
	}

	if msg == "" {
		msg = http.StatusText(code)
	}

	return &Error{
		StatusCode: code,
		Message:    strings.TrimSpace(msg),
		Body:       body,
		Err:        classifyStatus(code),
	}
}

// rejectedAsAuth re-labels a 4xx failure from an authentication endpoint as
// an authentication rejection, keeping status and message. Transport errors
// and 5xx responses pass through unchanged. Validation statuses are kept when
// keepValidation is set (registration payload problems).
func rejectedAsAuth(err error, keepValidation bool) error {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return err
	}

	if apiErr.StatusCode < http.StatusBadRequest || apiErr.StatusCode >= http.StatusInternalServerError {
		return err
	}

	if keepValidation && errors.Is(apiErr, ErrValidation) {
		return err
	}

	if errors.Is(apiErr, ErrAuth) {
		return err
	}

	return &Error{
		StatusCode: apiErr.StatusCode,
		Message:    apiErr.Message,
		Body:       apiErr.Body,
		Err:        ErrUnauthorized,
	}
}

// Generic messages shown when the server did not provide one.
const (
	msgNotAuthenticated = "not logged in; run 'timeline-go login' first"
	msgAuth             = "authentication failed; please log in again"
	msgNetwork          = "could not reach the server"
	msgValidation       = "the server rejected the request"
	msgServer           = "the server returned an error"
)

// UserMessage returns a human-readable message for err: the server-provided
// message when there is one, a generic message per error class otherwise.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}

	switch {
	case errors.Is(err, ErrNotAuthenticated):
		return msgNotAuthenticated
	case errors.Is(err, ErrAuth):
		return msgAuth
	case errors.Is(err, ErrNetwork):
		return msgNetwork
	case errors.Is(err, ErrValidation):
		return msgValidation
	case errors.Is(err, ErrServer):
		return msgServer
	default:
		return err.Error()
	}
}
