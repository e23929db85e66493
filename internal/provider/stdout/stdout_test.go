package stdout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/smtp-intake/internal/email"
)

func testMessage() *email.Message {
	return &email.Message{
		ID:      "9b2f6c1e-0000-4000-8000-000000000001",
		Subject: "Monthly Report",
		From:    email.Addresses{{Address: "sender@example.com", Text: "sender@example.com"}},
		To: email.Addresses{
			{Address: "alice@example.com", Text: "alice@example.com"},
			{Address: "bob@example.com", Text: "bob@example.com"},
		},
		Text: "Please find the report attached.",
		Envelope: email.Envelope{
			SessionID:  "s-1",
			RemoteAddr: "127.0.0.1",
			RemotePort: 40000,
			MailFrom:   "bounce@example.com",
			Recipients: []string{"alice@example.com"},
			ReceivedAt: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		},
	}
}

func TestSend_Text(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf, FormatText)

	require.NoError(t, p.Send(context.Background(), testMessage()))

	output := buf.String()
	assert.True(t, strings.HasPrefix(output, separator))
	assert.True(t, strings.HasSuffix(output, separator))
	assert.Contains(t, output, "ID: 9b2f6c1e-0000-4000-8000-000000000001\n")
	assert.Contains(t, output, "Received: 2024-01-15T10:30:00Z from 127.0.0.1\n")
	assert.Contains(t, output, "Envelope: bounce@example.com -> alice@example.com\n")
	assert.Contains(t, output, "From: sender@example.com\n")
	assert.Contains(t, output, "To: alice@example.com, bob@example.com\n")
	assert.Contains(t, output, "Subject: Monthly Report\n")
	assert.Contains(t, output, "Please find the report attached.\n")
	assert.NotContains(t, output, "Attachments:")
	assert.NotContains(t, output, "Date:")
}

func TestSend_TextAttachmentsAndDate(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf, "")

	date := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	msg := testMessage()
	msg.Date = &date
	msg.Attachments = []email.Attachment{
		email.NewAttachment("report.pdf", "application/pdf", make([]byte, 46080)),
		email.NewAttachment("logo.png", "image/png", make([]byte, 512)),
	}

	require.NoError(t, p.Send(context.Background(), msg))
	assert.Contains(t, buf.String(), "Date: Mon, 15 Jan 2024 10:30:00 +0000\n")
	assert.Contains(t, buf.String(), "Attachments: report.pdf (45.0 KB), logo.png (512 B)\n")
}

func TestSend_HTMLBodyFallback(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf, FormatText)

	msg := testMessage()
	msg.Text = ""
	msg.HTML = "<p>HTML content</p>"

	require.NoError(t, p.Send(context.Background(), msg))
	assert.Contains(t, buf.String(), "<p>HTML content</p>")
}

func TestSend_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf, FormatJSON)

	require.NoError(t, p.Send(context.Background(), testMessage()))
	require.NoError(t, p.Send(context.Background(), testMessage()))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2, "one record per line")

	var rec email.Record
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "9b2f6c1e-0000-4000-8000-000000000001", rec.ID)
	assert.Equal(t, "Monthly Report", rec.Subject)
	assert.Equal(t, "alice@example.com, bob@example.com", rec.To)
	assert.Equal(t, "Please find the report attached.", rec.Body)
	assert.Equal(t, []string{"alice@example.com"}, rec.Envelope.Recipients)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("closed pipe")
}

func TestSend_WriteError(t *testing.T) {
	t.Parallel()

	p := NewWithWriter(failingWriter{}, FormatText)
	err := p.Send(context.Background(), testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed pipe")
}

func TestSend_ConcurrentWritesDoNotInterleave(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewWithWriter(&buf, FormatJSON)

	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Send(context.Background(), testMessage()))
		}()
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 20)
	for _, line := range lines {
		assert.True(t, json.Valid([]byte(line)))
	}
}

func TestName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "stdout", New(FormatText).Name())
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		bytes int
		want  string
	}{
		{name: "zero bytes", bytes: 0, want: "0 B"},
		{name: "small bytes", bytes: 512, want: "512 B"},
		{name: "kilobytes", bytes: 46080, want: "45.0 KB"},
		{name: "megabytes", bytes: 1258291, want: "1.2 MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, formatSize(tt.bytes))
		})
	}
}
