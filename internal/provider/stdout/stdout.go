// Package stdout implements a Provider that prints received messages to
// standard output.
package stdout

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shineum/smtp-intake/internal/email"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

const separator = "========================================\n"

// Provider prints messages either as a readable summary or as one JSON
// record per line.
type Provider struct {
	mu     sync.Mutex
	writer io.Writer
	format string
}

// New creates a stdout Provider writing to os.Stdout in the given format.
// Any format other than FormatJSON selects the text summary.
func New(format string) *Provider {
	return NewWithWriter(os.Stdout, format)
}

// NewWithWriter creates a Provider that writes to w.
func NewWithWriter(w io.Writer, format string) *Provider {
	if format != FormatJSON {
		format = FormatText
	}
	return &Provider{writer: w, format: format}
}

// Send writes msg to the output. Writes from concurrent sessions never
// interleave.
func (p *Provider) Send(_ context.Context, msg *email.Message) error {
	var out []byte
	if p.format == FormatJSON {
		data, err := json.Marshal(email.NewRecord(msg))
		if err != nil {
			return fmt.Errorf("encoding record: %w", err)
		}
		out = append(data, '\n')
	} else {
		out = []byte(summary(msg))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.writer.Write(out); err != nil {
		return fmt.Errorf("writing message %s: %w", msg.ID, err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

func summary(msg *email.Message) string {
	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "ID: %s\n", msg.ID)
	if !msg.Envelope.ReceivedAt.IsZero() {
		fmt.Fprintf(&b, "Received: %s from %s\n",
			msg.Envelope.ReceivedAt.Format(time.RFC3339), msg.Envelope.RemoteAddr)
	}
	if msg.Envelope.MailFrom != "" {
		fmt.Fprintf(&b, "Envelope: %s -> %s\n",
			msg.Envelope.MailFrom, strings.Join(msg.Envelope.Recipients, ", "))
	}
	fmt.Fprintf(&b, "From: %s\n", msg.From.Text())
	fmt.Fprintf(&b, "To: %s\n", msg.To.Text())
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	if msg.Date != nil {
		fmt.Fprintf(&b, "Date: %s\n", msg.Date.Format(time.RFC1123Z))
	}
	b.WriteString("Body:\n")
	b.WriteString(msg.Body() + "\n")

	if len(msg.Attachments) > 0 {
		attachments := make([]string, 0, len(msg.Attachments))
		for _, att := range msg.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s)", att.Filename, formatSize(att.Size)))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	b.WriteString(separator)
	return b.String()
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
