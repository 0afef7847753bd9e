// Package apierror renders HTTP error responses for the webhook and admin APIs.
package apierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/openctemio/scangate/pkg/domain/event"
	"github.com/openctemio/scangate/pkg/domain/shared"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeBadRequest        Code = "BAD_REQUEST"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
	CodeValidationFailed  Code = "VALIDATION_FAILED"
	CodeInternalError     Code = "INTERNAL_ERROR"
	CodeRateLimitExceeded Code = "RATE_LIMIT_EXCEEDED"
	CodePayloadTooLarge   Code = "PAYLOAD_TOO_LARGE"
	CodeUnavailable       Code = "SERVICE_UNAVAILABLE"
)

// Error is an API error. Err is logged but never serialized.
type Error struct {
	Status  int    `json:"-"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Response is the JSON body written for an error.
type Response struct {
	Error     string `json:"error"`
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteJSON writes the error with the request id echoed back.
func (e *Error) WriteJSON(w http.ResponseWriter, requestID string) {
	w.Header().Set("Content-Type", "application/json")
	if requestID != "" {
		w.Header().Set("X-Request-ID", requestID)
	}
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(Response{
		Error:     string(e.Code),
		Code:      e.Code,
		Message:   e.Message,
		Details:   e.Details,
		RequestID: requestID,
	})
}

// New creates a new API error.
func New(status int, code Code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

// WithDetails adds details to the error.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, CodeBadRequest, message)
}

func Unauthorized(message string) *Error {
	if message == "" {
		message = "Authentication required"
	}
	return New(http.StatusUnauthorized, CodeUnauthorized, message)
}

func NotFound(resource string) *Error {
	message := "Resource not found"
	if resource != "" {
		message = resource + " not found"
	}
	return New(http.StatusNotFound, CodeNotFound, message)
}

func Conflict(message string) *Error {
	return New(http.StatusConflict, CodeConflict, message)
}

// ValidationFailed creates a 422 with per-field details.
func ValidationFailed(message string, details any) *Error {
	return New(http.StatusUnprocessableEntity, CodeValidationFailed, message).WithDetails(details)
}

// InternalError hides err from the client.
func InternalError(err error) *Error {
	return &Error{
		Status:  http.StatusInternalServerError,
		Code:    CodeInternalError,
		Message: "An internal error occurred",
		Err:     err,
	}
}

func RateLimitExceeded() *Error {
	return New(http.StatusTooManyRequests, CodeRateLimitExceeded, "Rate limit exceeded")
}

func PayloadTooLarge() *Error {
	return New(http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "Request body too large")
}

func ServiceUnavailable(message string) *Error {
	return New(http.StatusServiceUnavailable, CodeUnavailable, message)
}

// FieldError is one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FromError maps domain errors onto API errors.
//   - *event.ValidationError and shared.ErrValidation: 400
//   - event.ErrInvalidSignature and shared.ErrUnauthorized: 401
//   - shared.ErrNotFound: 404
//   - shared.ErrConflict, shared.ErrAlreadyExists and shared.ErrInvalidState: 409
//
// Anything else is a 500.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var vErr *event.ValidationError
	switch {
	case errors.As(err, &vErr):
		e := BadRequest(vErr.Error()).WithDetails([]FieldError{{Field: vErr.Field, Message: vErr.Message}})
		e.Err = err
		return e
	case errors.Is(err, event.ErrInvalidSignature), errors.Is(err, shared.ErrUnauthorized):
		e := Unauthorized("Invalid webhook signature")
		e.Err = err
		return e
	case errors.Is(err, shared.ErrNotFound):
		e := NotFound("")
		e.Message = err.Error()
		return e
	case errors.Is(err, shared.ErrValidation), errors.Is(err, shared.ErrInvalidInput):
		return &Error{Status: http.StatusBadRequest, Code: CodeBadRequest, Message: err.Error(), Err: err}
	case errors.Is(err, shared.ErrConflict), errors.Is(err, shared.ErrAlreadyExists), errors.Is(err, shared.ErrInvalidState):
		return &Error{Status: http.StatusConflict, Code: CodeConflict, Message: err.Error(), Err: err}
	}
	return InternalError(err)
}
