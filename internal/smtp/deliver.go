package smtp

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/smtp-intake/internal/email"
	"github.com/shineum/smtp-intake/internal/metrics"
	"github.com/shineum/smtp-intake/internal/parser"
	"github.com/shineum/smtp-intake/internal/provider"
)

// DeliveryHandler parses each completed payload and sends the result
// through a Provider.
type DeliveryHandler struct {
	provider provider.Provider
	now      func() time.Time
}

// NewDeliveryHandler creates a DeliveryHandler for prov.
func NewDeliveryHandler(prov provider.Provider) *DeliveryHandler {
	return &DeliveryHandler{
		provider: prov,
		now:      time.Now,
	}
}

// HandleMessage implements MessageHandler.
func (h *DeliveryHandler) HandleMessage(ctx context.Context, raw []byte, info SessionInfo) error {
	msg := parser.Parse(raw)
	msg.ID = uuid.NewString()
	msg.Envelope = email.Envelope{
		SessionID:  info.ID,
		RemoteAddr: info.RemoteAddr,
		RemotePort: info.RemotePort,
		User:       info.User,
		MailFrom:   info.MailFrom,
		Recipients: info.Recipients,
		ReceivedAt: h.now().UTC(),
	}

	name := h.provider.Name()
	start := time.Now()
	err := h.provider.Send(ctx, msg)
	metrics.DeliveryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.DeliveriesTotal.WithLabelValues(name, metrics.ResultFailure).Inc()
		return fmt.Errorf("provider %s: %w", name, err)
	}

	metrics.DeliveriesTotal.WithLabelValues(name, metrics.ResultSuccess).Inc()
	slog.Info("message delivered",
		"session_id", info.ID,
		"message_id", msg.ID,
		"provider", name,
		"subject", msg.Subject,
		"recipients", len(info.Recipients),
		"attachments", len(msg.Attachments),
	)
	return nil
}
