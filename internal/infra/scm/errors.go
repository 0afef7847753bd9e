package scm

import (
	"errors"
	"fmt"

	"github.com/google/go-github/v62/github"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

// Common errors
var (
	ErrUnsupportedProvider = NewSCMError("unsupported SCM provider", "UNSUPPORTED_PROVIDER")
	ErrAuthFailed          = NewSCMError("authentication failed", "AUTH_FAILED")
	ErrRateLimited         = NewSCMError("rate limit exceeded", "RATE_LIMITED")
	ErrNotFound            = NewSCMError("resource not found", "NOT_FOUND")
	ErrProviderAPI         = NewSCMError("provider API call failed", "PROVIDER_API_ERROR")
	ErrMissingTarget       = NewSCMError("publish target incomplete", "MISSING_TARGET")
)

// SCMError represents an error from an SCM provider
type SCMError struct {
	Message string
	Code    string
	Wrapped error
}

// NewSCMError creates a new SCMError
func NewSCMError(message, code string) *SCMError {
	return &SCMError{Message: message, Code: code}
}

// Error implements the error interface
func (e *SCMError) Error() string {
	if e.Wrapped != nil {
		return e.Message + ": " + e.Wrapped.Error()
	}
	return e.Message
}

// Wrap wraps an underlying error
func (e *SCMError) Wrap(err error) *SCMError {
	return &SCMError{
		Message: e.Message,
		Code:    e.Code,
		Wrapped: err,
	}
}

// Unwrap returns the wrapped error
func (e *SCMError) Unwrap() error {
	return e.Wrapped
}

// Is matches SCMErrors by code so errors.Is(err, ErrNotFound) works on wrapped copies.
func (e *SCMError) Is(target error) bool {
	var t *SCMError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// classifyStatus maps an HTTP status code onto an SCMError.
func classifyStatus(code int, err error) error {
	switch {
	case code == 401 || code == 403:
		return ErrAuthFailed.Wrap(err)
	case code == 404:
		return ErrNotFound.Wrap(err)
	case code == 429:
		return ErrRateLimited.Wrap(err)
	}
	return ErrProviderAPI.Wrap(err)
}

func githubError(err error) error {
	var rl *github.RateLimitError
	if errors.As(err, &rl) {
		return ErrRateLimited.Wrap(err)
	}
	var er *github.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		return classifyStatus(er.Response.StatusCode, err)
	}
	return ErrProviderAPI.Wrap(err)
}

func gitlabError(resp *gitlab.Response, err error) error {
	if resp != nil && resp.Response != nil {
		return classifyStatus(resp.StatusCode, err)
	}
	return ErrProviderAPI.Wrap(fmt.Errorf("gitlab: %w", err))
}
