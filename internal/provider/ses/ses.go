// Package ses implements a Provider that relays received messages through
// AWS SES v2.
package ses

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	gomail "github.com/emersion/go-message/mail"

	"github.com/shineum/smtp-intake/internal/email"
)

// maxRetries is the maximum number of retry attempts for failed calls.
const maxRetries = 3

const defaultRetryDelay = 1 * time.Second

// ErrNoRecipients is returned when a message has neither envelope nor
// header recipients.
var ErrNoRecipients = errors.New("message has no recipients")

// Config holds the settings for creating an SES Provider. Empty keys fall
// back to the default AWS credential chain.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          string
}

// SendEmailAPI is the SES v2 operation used by the provider.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Provider relays messages through SES. The configured sender becomes the
// From address and the original author is kept as Reply-To.
// @MX:ANCHOR: [AUTO] External system integration point for AWS SES
// @MX:REASON: All relayed delivery flows through this provider when SES is configured
type Provider struct {
	sender     string
	client     SendEmailAPI
	retryDelay time.Duration
}

// New creates an SES Provider from cfg.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return NewWithClient(cfg.Sender, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a Provider around an existing SES client.
func NewWithClient(sender string, client SendEmailAPI) *Provider {
	return &Provider{
		sender:     sender,
		client:     client,
		retryDelay: defaultRetryDelay,
	}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "ses"
}

// Send relays msg. Messages with attachments are rebuilt as raw MIME; the
// rest use the SES simple content form.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	input, err := p.buildInput(msg)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying SES request",
				"message_id", msg.ID,
				"attempt", attempt,
				"max_retries", maxRetries,
			)
			if err := sleepWithContext(ctx, p.backoffDelay(attempt)); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		out, err := p.client.SendEmail(ctx, input)
		if err == nil {
			slog.Debug("relayed through SES",
				"message_id", msg.ID,
				"ses_message_id", aws.ToString(out.MessageId),
			)
			return nil
		}

		lastErr = err
		slog.Warn("SES request failed",
			"message_id", msg.ID,
			"attempt", attempt,
			"error", err,
		)
	}

	return fmt.Errorf("SES request failed after %d retries: %w", maxRetries, lastErr)
}

func (p *Provider) buildInput(msg *email.Message) (*sesv2.SendEmailInput, error) {
	recipients := destinations(msg)
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(p.sender),
		Destination:      &types.Destination{ToAddresses: recipients},
		ReplyToAddresses: msg.From.Emails(),
	}

	if len(msg.Attachments) > 0 {
		raw, err := buildRawMessage(p.sender, msg)
		if err != nil {
			return nil, fmt.Errorf("building raw message: %w", err)
		}
		input.Content = &types.EmailContent{Raw: &types.RawMessage{Data: raw}}
		return input, nil
	}

	input.Content = &types.EmailContent{Simple: buildSimpleMessage(msg)}
	return input, nil
}

// destinations prefers the envelope recipients, which include Bcc, over
// the To header.
func destinations(msg *email.Message) []string {
	if len(msg.Envelope.Recipients) > 0 {
		return append([]string(nil), msg.Envelope.Recipients...)
	}
	return msg.To.Emails()
}

func buildSimpleMessage(msg *email.Message) *types.Message {
	body := &types.Body{}
	if msg.HTML != "" {
		body.Html = utf8Content(msg.HTML)
	}
	if msg.Text != "" || msg.HTML == "" {
		body.Text = utf8Content(msg.Text)
	}

	return &types.Message{
		Subject: utf8Content(msg.Subject),
		Body:    body,
	}
}

func utf8Content(s string) *types.Content {
	return &types.Content{
		Data:    aws.String(s),
		Charset: aws.String("UTF-8"),
	}
}

// buildRawMessage writes msg as a multipart/mixed MIME message: the text and
// HTML bodies as inline parts followed by one part per attachment.
func buildRawMessage(sender string, msg *email.Message) ([]byte, error) {
	var h gomail.Header
	h.SetAddressList("From", []*gomail.Address{{Address: sender}})
	h.SetAddressList("To", mailAddresses(msg.To))
	if from := mailAddresses(msg.From); len(from) > 0 {
		h.SetAddressList("Reply-To", from)
	}
	h.SetSubject(msg.Subject)
	if msg.Date != nil {
		h.SetDate(*msg.Date)
	} else {
		h.SetDate(time.Now())
	}
	if id := strings.Trim(msg.MessageID, "<> "); id != "" {
		h.SetMessageID(id)
	}

	var buf bytes.Buffer
	mw, err := gomail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating writer: %w", err)
	}

	if msg.Text != "" || msg.HTML != "" {
		iw, err := mw.CreateInline()
		if err != nil {
			return nil, fmt.Errorf("creating inline part: %w", err)
		}
		if msg.Text != "" {
			if err := writeInline(iw, "text/plain", msg.Text); err != nil {
				return nil, err
			}
		}
		if msg.HTML != "" {
			if err := writeInline(iw, "text/html", msg.HTML); err != nil {
				return nil, err
			}
		}
		if err := iw.Close(); err != nil {
			return nil, fmt.Errorf("closing inline part: %w", err)
		}
	}

	for _, att := range msg.Attachments {
		var ah gomail.AttachmentHeader
		contentType := att.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		ah.SetContentType(contentType, nil)
		ah.SetFilename(att.Filename)

		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return nil, fmt.Errorf("creating attachment %q: %w", att.Filename, err)
		}
		if _, err := w.Write(att.Content); err != nil {
			return nil, fmt.Errorf("writing attachment %q: %w", att.Filename, err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("closing attachment %q: %w", att.Filename, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing message: %w", err)
	}
	return buf.Bytes(), nil
}

func writeInline(iw *gomail.InlineWriter, contentType, body string) error {
	var ih gomail.InlineHeader
	ih.SetContentType(contentType, map[string]string{"charset": "utf-8"})

	w, err := iw.CreatePart(ih)
	if err != nil {
		return fmt.Errorf("creating %s part: %w", contentType, err)
	}
	if _, err := io.WriteString(w, body); err != nil {
		return fmt.Errorf("writing %s part: %w", contentType, err)
	}
	return w.Close()
}

func mailAddresses(addrs email.Addresses) []*gomail.Address {
	out := make([]*gomail.Address, 0, len(addrs))
	for _, a := range addrs {
		if a.Address == "" {
			continue
		}
		out = append(out, &gomail.Address{Name: a.Name, Address: a.Address})
	}
	return out
}

// backoffDelay doubles the base delay per attempt: 1s, 2s, 4s.
func (p *Provider) backoffDelay(attempt int) time.Duration {
	delay := p.retryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
