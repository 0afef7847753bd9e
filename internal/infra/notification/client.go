// Package notification delivers scan alerts to chat channels.
package notification

import (
	"context"
	"errors"
)

// ErrDisabled is returned by a sender that is not configured.
var ErrDisabled = errors.New("notifications disabled")

// Field is one labelled value in a message. Order is preserved.
type Field struct {
	Label string
	Value string
}

// Message is a channel-agnostic alert.
type Message struct {
	Title    string
	Body     string
	Severity string // highest severity among the findings
	URL      string
	Fields   []Field
	Footer   string
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Nop discards messages.
type Nop struct{}

// Send implements Sender.
func (Nop) Send(context.Context, Message) error { return ErrDisabled }

// Severity values used for colors and emoji.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// SeverityColor returns a hex color for the given severity.
func SeverityColor(severity string) string {
	switch severity {
	case SeverityCritical:
		return "#dc2626"
	case SeverityHigh:
		return "#ea580c"
	case SeverityMedium:
		return "#ca8a04"
	case SeverityLow:
		return "#2563eb"
	default:
		return "#6b7280"
	}
}

// SeverityEmoji returns an emoji for the given severity.
func SeverityEmoji(severity string) string {
	switch severity {
	case SeverityCritical:
		return "\U0001F6A8"
	case SeverityHigh:
		return "\U000026A0\U0000FE0F"
	case SeverityMedium:
		return "\U0001F7E1"
	case SeverityLow:
		return "\U0001F535"
	default:
		return "\U00002139\U0000FE0F"
	}
}
