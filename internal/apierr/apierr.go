// Package apierr classifies remote-call failures and reduces them to a single
// human-readable message.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// DefaultMessage is surfaced when nothing more specific is available
const DefaultMessage = "An error occurred"

// maxBodyBytes bounds how much of an error body is read
const maxBodyBytes = 64 << 10

// Kind is the error taxonomy of the remote API
type Kind int

const (
	// NetworkFailure means no response was received
	NetworkFailure Kind = iota
	// Unauthorized is a 401 response
	Unauthorized
	// ValidationFailure is any other 4xx response
	ValidationFailure
	// ServerFailure is a 5xx response
	ServerFailure
)

func (k Kind) String() string {
	switch k {
	case NetworkFailure:
		return "network_failure"
	case Unauthorized:
		return "unauthorized"
	case ValidationFailure:
		return "validation_failure"
	case ServerFailure:
		return "server_failure"
	default:
		return "unknown"
	}
}

// Error is a classified remote-call failure
type Error struct {
	Kind       Kind
	StatusCode int
	// Message is the normalized, user-facing message
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// body is the structured error payload the API may return
type body struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// KindForStatus maps an HTTP status code onto the taxonomy
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return Unauthorized
	case status >= 500:
		return ServerFailure
	default:
		return ValidationFailure
	}
}

// FromResponse builds an Error from a non-2xx response. It consumes the body
// but does not close it.
func FromResponse(resp *http.Response) *Error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))

	e := &Error{
		Kind:       KindForStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
	}

	var b body
	if err := json.Unmarshal(raw, &b); err == nil {
		switch {
		case b.Error != "":
			e.Message = b.Error
		case b.Message != "":
			e.Message = b.Message
		}
	}
	if e.Message == "" {
		e.Err = fmt.Errorf("request failed with status %d", resp.StatusCode)
		e.Message = e.Err.Error()
	}
	return e
}

// Network wraps a transport-level failure
func Network(err error) *Error {
	return &Error{
		Kind:    NetworkFailure,
		Message: messageOf(err),
		Err:     err,
	}
}

// Normalize reduces any error to an *Error carrying the normalized message.
// nil stays nil.
func Normalize(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var fieldErrs *FieldErrors
	if errors.As(err, &fieldErrs) {
		return fieldErrs
	}
	return &Error{Kind: NetworkFailure, Message: messageOf(err), Err: err}
}

// Message returns the normalized message for err
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return messageOf(err)
}

// IsKind reports whether err is an *Error of the given kind
func IsKind(err error, kind Kind) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == kind
}

func messageOf(err error) string {
	if err == nil {
		return DefaultMessage
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return DefaultMessage
}

// FieldErrors holds client-side form validation failures keyed by field name.
// They never reach the network layer.
type FieldErrors map[string]string

func (f *FieldErrors) Error() string {
	if f == nil || len(*f) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(*f))
	for name := range *f {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, name := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", name, (*f)[name]))
	}
	return strings.Join(parts, "; ")
}
