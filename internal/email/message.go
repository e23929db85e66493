// Package email defines the structured message model produced by the parser
// and consumed by the delivery providers.
package email

import "time"

// Message is a received message reconstructed from its raw payload.
type Message struct {
	// ID uniquely identifies this received message. It is assigned on receipt
	// and is unrelated to the Message-ID header.
	ID string

	Subject     string
	From        Addresses
	To          Addresses
	Text        string
	HTML        string
	Date        *time.Time
	MessageID   string
	Headers     *Header
	Attachments []Attachment

	// Envelope describes the SMTP transaction that carried the message.
	Envelope Envelope

	// Raw is the payload exactly as received during the data phase.
	Raw []byte
}

// Envelope holds the SMTP-level facts about a received message.
type Envelope struct {
	SessionID  string    `json:"sessionId"`
	RemoteAddr string    `json:"remoteAddress"`
	RemotePort int       `json:"remotePort"`
	User       string    `json:"user,omitempty"`
	MailFrom   string    `json:"mailFrom"`
	Recipients []string  `json:"recipients"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// Attachment is a section of a multipart message with an attachment disposition.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int
	Content     []byte
}

// NewAttachment creates an Attachment whose Size matches the content length.
func NewAttachment(filename, contentType string, content []byte) Attachment {
	return Attachment{
		Filename:    filename,
		ContentType: contentType,
		Size:        len(content),
		Content:     content,
	}
}

// Body returns the plain-text body, or the HTML body when there is no text.
func (m *Message) Body() string {
	if m.Text != "" {
		return m.Text
	}
	return m.HTML
}
