// Package parser reconstructs received mail payloads into email.Message
// values.
//
// The parser is deliberately lenient: it never fails on malformed input.
// A missing boundary means single-part, an unparsable address is kept as
// raw text, and an unparsable date is left nil. Transfer encodings and
// charsets are not decoded.
package parser

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/shineum/smtp-intake/internal/email"
)

// maxDepth bounds recursion into nested multipart sections.
const maxDepth = 8

// Parse parses a raw message payload.
func Parse(raw []byte) *email.Message {
	header, bodyLines, _ := readHeaderBlock(splitLines(string(raw)))
	body := strings.Join(bodyLines, "\r\n")

	msg := &email.Message{
		Subject:     header.Get("subject"),
		From:        ParseAddressList(header.Get("from")),
		To:          ParseAddressList(header.Get("to")),
		Date:        parseDate(header.Get("date")),
		MessageID:   header.Get("message-id"),
		Headers:     header,
		Attachments: []email.Attachment{},
		Raw:         raw,
	}

	contentType := header.Get("content-type")
	if boundary := boundaryParam(contentType); boundary != "" {
		classify(msg, SplitMultipart(body, boundary), 0)
	} else if mediaType(contentType) == "text/html" {
		msg.HTML = body
	} else {
		msg.Text = body
	}

	if msg.Text == "" && msg.HTML != "" {
		msg.Text = HTMLToText(msg.HTML)
	}

	return msg
}

// ParseReader reads a whole payload from r and parses it.
func ParseReader(r io.Reader) (*email.Message, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read message: %w", err)
	}
	return Parse(raw), nil
}

// classify assigns each section to the message body fields or attachment
// list. The first matching rule wins: text/plain, text/html, attachment
// disposition, inline disposition (dropped), nested multipart.
func classify(msg *email.Message, sections []Section, depth int) {
	for _, s := range sections {
		contentType := s.Header.Get("content-type")
		disposition := s.Header.Get("content-disposition")
		media := mediaType(contentType)

		switch {
		case media == "text/plain":
			msg.Text = strings.TrimRight(s.Content, " \t\r\n")
		case media == "text/html":
			msg.HTML = strings.TrimRight(s.Content, " \t\r\n")
		case dispositionType(disposition) == "attachment":
			msg.Attachments = append(msg.Attachments, email.NewAttachment(
				filenameParam(disposition),
				headValue(contentType),
				[]byte(strings.TrimSpace(stripLineBreaks(s.Content))),
			))
		case dispositionType(disposition) == "inline":
			// referenced from the HTML body, not reported as an attachment
		case strings.HasPrefix(media, "multipart/") && boundaryParam(contentType) != "":
			if depth+1 >= maxDepth {
				slog.Debug("nested multipart too deep, skipping section",
					"content_type", media,
					"depth", depth+1,
				)
				continue
			}
			classify(msg, SplitMultipart(s.Content, boundaryParam(contentType)), depth+1)
		default:
			slog.Debug("unclassified MIME section, skipping",
				"content_type", media,
				"disposition", disposition,
			)
		}
	}
}

func stripLineBreaks(s string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(s)
}
