package email

import "time"

// Record is the flattened, JSON-friendly form of a Message handed to
// downstream consumers.
type Record struct {
	ID          string           `json:"id"`
	Subject     string           `json:"subject"`
	From        string           `json:"from"`
	To          string           `json:"to"`
	Body        string           `json:"body"`
	HTML        string           `json:"html"`
	Text        string           `json:"text"`
	Date        *time.Time       `json:"date,omitempty"`
	MessageID   string           `json:"messageId"`
	Attachments []AttachmentInfo `json:"attachments"`
	Headers     *Header          `json:"headers"`
	Raw         string           `json:"raw"`
	Envelope    Envelope         `json:"envelope"`
}

// AttachmentInfo describes an attachment without its content.
type AttachmentInfo struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
}

// NewRecord flattens msg into a Record.
func NewRecord(msg *Message) *Record {
	attachments := make([]AttachmentInfo, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		attachments = append(attachments, AttachmentInfo{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			Size:        att.Size,
		})
	}

	headers := msg.Headers
	if headers == nil {
		headers = NewHeader()
	}

	recipients := msg.Envelope.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	envelope := msg.Envelope
	envelope.Recipients = recipients

	return &Record{
		ID:          msg.ID,
		Subject:     msg.Subject,
		From:        msg.From.Text(),
		To:          msg.To.Text(),
		Body:        msg.Body(),
		HTML:        msg.HTML,
		Text:        msg.Text,
		Date:        msg.Date,
		MessageID:   msg.MessageID,
		Attachments: attachments,
		Headers:     headers,
		Raw:         string(msg.Raw),
		Envelope:    envelope,
	}
}
