// Package classify maps transport outcomes onto a closed error taxonomy.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// Kind is the closed set of error categories surfaced to callers.
type Kind string

const (
	KindAuth       Kind = "auth"
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindServer     Kind = "server"
	KindNetwork    Kind = "network"
	KindUnknown    Kind = "unknown"
)

// FieldError is a per-field validation message suitable for form binding.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a classified request failure.
type Error struct {
	Kind             Kind
	Message          string
	Status           int // 0 when no response was received
	ValidationErrors []FieldError
	Retryable        bool

	Err error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s error (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusError is returned by a transport attempt that received a non-2xx response.
type StatusError struct {
	Status int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, http.StatusText(e.Status))
}

const (
	msgAuth       = "Authentication required. Please sign in again."
	msgForbidden  = "You do not have permission to perform this action."
	msgValidation = "Please check your input and try again."
	msgNotFound   = "The requested resource was not found."
	msgServer     = "Server error. Please try again later."
	msgNetwork    = "Network error. Please check your connection."
	msgCanceled   = "Request was canceled."
	msgUnknown    = "An unexpected error occurred."
)

// Classify maps any request failure to an *Error. It is pure and idempotent:
// an already classified error is returned unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		e := FromStatus(statusErr.Status, statusErr.Body)
		e.Err = err
		return e
	}

	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindUnknown, Message: msgCanceled, Err: err}
	}

	// No response: connection refused, DNS, reset, attempt timeout.
	return &Error{Kind: KindNetwork, Message: msgNetwork, Retryable: true, Err: err}
}

// FromStatus classifies an HTTP response status with its optional
// structured body {"message": "...", "errors": [{"field", "message"}]}.
func FromStatus(status int, body []byte) *Error {
	e := &Error{Status: status}

	switch status {
	case http.StatusBadRequest:
		e.Kind = KindValidation
		e.Message = msgValidation
		e.ValidationErrors = parseFieldErrors(body)
	case http.StatusUnauthorized:
		e.Kind = KindAuth
		e.Message = msgAuth
	case http.StatusForbidden:
		e.Kind = KindAuth
		e.Message = msgForbidden
	case http.StatusNotFound:
		e.Kind = KindNotFound
		e.Message = msgNotFound
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		e.Kind = KindServer
		e.Message = msgServer
		e.Retryable = true
	default:
		e.Kind = KindUnknown
		e.Message = msgUnknown
	}

	if msg := bodyMessage(body); msg != "" {
		e.Message = msg
	}
	return e
}

// IsRetryable reports whether err classifies as retryable.
func IsRetryable(err error) bool {
	c := Classify(err)
	return c != nil && c.Retryable
}

// IsKind reports whether err classifies as the given kind.
func IsKind(err error, kind Kind) bool {
	c := Classify(err)
	return c != nil && c.Kind == kind
}

func bodyMessage(body []byte) string {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return ""
	}
	return gjson.GetBytes(body, "message").String()
}

func parseFieldErrors(body []byte) []FieldError {
	if len(body) == 0 || !gjson.ValidBytes(body) {
		return nil
	}

	var fields []FieldError
	gjson.GetBytes(body, "errors").ForEach(func(_, v gjson.Result) bool {
		fields = append(fields, FieldError{
			Field:   v.Get("field").String(),
			Message: v.Get("message").String(),
		})
		return true
	})
	return fields
}
