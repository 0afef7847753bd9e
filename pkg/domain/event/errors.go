package event

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openctemio/scangate/pkg/domain/shared"
)

var (
	// ErrUnmappedAction means the raw event is not in the allow-list.
	ErrUnmappedAction = errors.New("unmapped webhook action")
	// ErrActionNotAllowed means the VC's webhook config does not enable the action.
	ErrActionNotAllowed = errors.New("webhook action not allowed")
	// ErrUnsupportedEvent means the payload shape matches no known domain.
	ErrUnsupportedEvent = errors.New("unsupported webhook event")
	// ErrInvalidSignature means the delivery failed signature verification.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// ValidationError reports a malformed or incomplete webhook payload.
type ValidationError struct {
	Provider Provider
	Field    string
	Message  string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(string(e.Provider))
		b.WriteString(": ")
	}
	if e.Field != "" {
		fmt.Fprintf(&b, "missing required key '%s'", e.Field)
		if e.Message != "" {
			b.WriteString(": ")
		}
	}
	b.WriteString(e.Message)
	return b.String()
}

// Unwrap lets callers match with shared.IsValidation.
func (e *ValidationError) Unwrap() error {
	return shared.ErrValidation
}

// MissingKey builds a ValidationError for an absent required key.
func MissingKey(p Provider, key string) *ValidationError {
	return &ValidationError{Provider: p, Field: key}
}

// Malformed builds a ValidationError for an undecodable payload.
func Malformed(p Provider, msg string) *ValidationError {
	return &ValidationError{Provider: p, Message: msg}
}
