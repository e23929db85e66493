// Package provider defines the interface for message delivery backends.
package provider

import (
	"context"

	"github.com/shineum/smtp-intake/internal/email"
)

// Provider receives every message the SMTP receiver accepts.
// Implementations forward the parsed message to a downstream system
// (stdout, a webhook, a Redis channel, Amazon SES).
type Provider interface {
	// Send delivers msg. A non-nil error makes the receiver reject the
	// message with a processing error.
	Send(ctx context.Context, msg *email.Message) error

	// Name returns the human-readable name of this provider.
	Name() string
}
