// Package webhook implements a Provider that POSTs each received message as a
// JSON record to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/smtp-intake/internal/email"
)

// Config holds the settings for a webhook Provider. When TokenURL is empty
// requests are sent without an Authorization header.
type Config struct {
	URL          string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
	Timeout      time.Duration
}

// maxRetries is the number of retries after the first attempt.
const maxRetries = 3

const defaultRetryDelay = 1 * time.Second

// Provider delivers records to a webhook endpoint with retries for transient
// failures.
// @MX:ANCHOR: [AUTO] External system integration point for downstream workflows
// @MX:REASON: Every message flows through this provider when the webhook is configured
type Provider struct {
	url        string
	httpClient *http.Client
	token      *tokenCache
	retryDelay time.Duration
}

// New creates a webhook Provider.
func New(cfg Config) *Provider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return newWithClient(cfg, &http.Client{Timeout: timeout})
}

func newWithClient(cfg Config, client *http.Client) *Provider {
	p := &Provider{
		url:        cfg.URL,
		httpClient: client,
		retryDelay: defaultRetryDelay,
	}
	if cfg.TokenURL != "" {
		p.token = newTokenCache(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, cfg.Scope, client)
	}
	return p
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "webhook"
}

// Send POSTs the JSON record of msg. Transient failures are retried with
// exponential backoff, HTTP 429 honours Retry-After, and a 401 triggers a
// single token refresh when token auth is configured.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	body, err := json.Marshal(email.NewRecord(msg))
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	var lastErr error
	tokenRefreshed := false

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying webhook request",
				"message_id", msg.ID,
				"attempt", attempt,
				"max_retries", maxRetries,
			)
		}

		err := p.post(ctx, msg.ID, body)
		if err == nil {
			return nil
		}
		lastErr = err

		var sendErr *sendError
		if !errors.As(err, &sendErr) {
			return err
		}
		if !sendErr.permanent && attempt == maxRetries {
			break
		}

		switch {
		case sendErr.permanent:
			return sendErr
		case sendErr.statusCode == http.StatusUnauthorized:
			if p.token == nil || tokenRefreshed {
				return sendErr
			}
			slog.Info("refreshing webhook token after 401", "message_id", msg.ID)
			if _, refreshErr := p.token.ForceRefresh(ctx); refreshErr != nil {
				return fmt.Errorf("token refresh failed: %w", refreshErr)
			}
			tokenRefreshed = true
			continue
		case sendErr.statusCode == http.StatusTooManyRequests:
			delay := p.retryAfterDelay(sendErr.retryAfter, attempt)
			slog.Info("rate limited by webhook", "message_id", msg.ID, "retry_after", delay)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		default:
			delay := p.backoffDelay(attempt)
			slog.Info("transient webhook error, retrying",
				"message_id", msg.ID,
				"status", sendErr.statusCode,
				"delay", delay,
			)
			if err := sleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}
	}

	return fmt.Errorf("webhook request failed after %d retries: %w", maxRetries, lastErr)
}

// post performs a single delivery attempt.
func (p *Provider) post(ctx context.Context, id string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", id)

	if p.token != nil {
		token, err := p.token.Token(ctx)
		if err != nil {
			return fmt.Errorf("acquiring access token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &sendError{
			message:   err.Error(),
			transient: true,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return classifyError(resp.StatusCode, strings.TrimSpace(string(respBody)), resp.Header.Get("Retry-After"))
}

// sendError is a failed delivery attempt classified for retry decisions.
type sendError struct {
	message    string
	statusCode int
	permanent  bool
	transient  bool
	retryAfter string
}

func (e *sendError) Error() string {
	if e.statusCode == 0 {
		return "webhook request failed: " + e.message
	}
	return fmt.Sprintf("webhook error (HTTP %d): %s", e.statusCode, e.message)
}

func classifyError(statusCode int, message, retryAfter string) *sendError {
	err := &sendError{
		message:    message,
		statusCode: statusCode,
		retryAfter: retryAfter,
	}

	switch {
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusRequestTimeout,
		statusCode == http.StatusTooManyRequests,
		statusCode >= 500:
		err.transient = true
	default:
		err.permanent = true
	}
	return err
}

// retryAfterDelay honours a Retry-After value in seconds, falling back to
// exponential backoff.
func (p *Provider) retryAfterDelay(retryAfter string, attempt int) time.Duration {
	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return p.backoffDelay(attempt)
}

// backoffDelay doubles the base delay for each attempt: 1s, 2s, 4s.
func (p *Provider) backoffDelay(attempt int) time.Duration {
	delay := p.retryDelay
	for i := 0; i < attempt; i++ {
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
