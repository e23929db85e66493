// Package redis implements a Provider that publishes each received message as
// a JSON record on a Redis pub/sub channel.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/shineum/smtp-intake/internal/email"
)

// Config holds the connection settings for a Redis provider.
type Config struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// Client is the subset of the go-redis client used by the provider.
type Client interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
	Ping(ctx context.Context) *goredis.StatusCmd
	Close() error
}

// Provider publishes records to a channel. Pub/sub does not persist
// messages, so a record published while nobody is subscribed is lost.
type Provider struct {
	client  Client
	channel string
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	p := NewWithClient(client, cfg.Channel)
	if err := p.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return p, nil
}

// NewWithClient creates a Provider around an existing client.
func NewWithClient(client Client, channel string) *Provider {
	return &Provider{client: client, channel: channel}
}

// Ping checks that the server is reachable.
func (p *Provider) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Send publishes the JSON record of msg.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	data, err := json.Marshal(email.NewRecord(msg))
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	receivers, err := p.client.Publish(ctx, p.channel, data).Result()
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", p.channel, err)
	}

	if receivers == 0 {
		slog.Warn("record published with no subscribers",
			"channel", p.channel,
			"message_id", msg.ID,
		)
		return nil
	}
	slog.Debug("record published",
		"channel", p.channel,
		"message_id", msg.ID,
		"receivers", receivers,
	)
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "redis"
}

// Close releases the underlying connection pool.
func (p *Provider) Close() error {
	return p.client.Close()
}
