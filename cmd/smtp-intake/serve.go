package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shineum/smtp-intake/internal/config"
	"github.com/shineum/smtp-intake/internal/metrics"
	"github.com/shineum/smtp-intake/internal/provider"
	"github.com/shineum/smtp-intake/internal/provider/redis"
	"github.com/shineum/smtp-intake/internal/provider/ses"
	"github.com/shineum/smtp-intake/internal/provider/stdout"
	"github.com/shineum/smtp-intake/internal/provider/webhook"
	"github.com/shineum/smtp-intake/internal/smtp"
	intaketls "github.com/shineum/smtp-intake/internal/tls"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the SMTP receiver",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(parent context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	slog.SetDefault(newLogger(os.Stdout, cfg.Logging))

	policy, err := smtp.ParseCommandPolicy(cfg.SMTP.UnknownCommands)
	if err != nil {
		return err
	}

	tlsConfig, tlsMode, err := setupTLS(cfg)
	if err != nil {
		return err
	}

	// Setup graceful shutdown
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received signal, initiating shutdown", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	prov, closeProvider, err := selectProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeProvider()

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen); err != nil {
				slog.Error("metrics server stopped", "error", err)
			}
		}()
	}

	server := smtp.New(smtp.ServerConfig{
		ListenAddr:      cfg.ListenAddr(),
		TLSConfig:       tlsConfig,
		ReadTimeout:     cfg.SMTP.ReadTimeout,
		ShutdownTimeout: cfg.SMTP.ShutdownTimeout,
		Session: smtp.SessionConfig{
			Hostname:        cfg.SMTP.Hostname,
			AuthRequired:    cfg.SMTP.AuthRequired,
			Authenticator:   smtp.NewStaticAuthenticator(cfg.SMTP.Username, cfg.SMTP.Password),
			Handler:         smtp.NewDeliveryHandler(prov),
			MaxMessageSize:  cfg.SMTP.MaxMessageSize,
			UnknownCommands: policy,
		},
	})

	slog.Info("starting smtp-intake",
		"listen", cfg.ListenAddr(),
		"hostname", cfg.SMTP.Hostname,
		"provider", prov.Name(),
		"auth_required", cfg.SMTP.AuthRequired,
		"tls_mode", tlsMode,
		"max_message_size", cfg.SMTP.MaxMessageSize,
		"unknown_commands", policy.String(),
	)

	// Blocks until the context is cancelled.
	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("smtp server: %w", err)
	}

	slog.Info("smtp-intake stopped")
	return nil
}

// setupTLS returns the implicit-TLS listener config, or nil when TLS is off.
func setupTLS(cfg *config.Config) (*tls.Config, string, error) {
	if !cfg.TLS.Enabled {
		return nil, "off", nil
	}

	tlsConfig, err := intaketls.LoadOrGenerate(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.SMTP.Hostname)
	if err != nil {
		return nil, "", fmt.Errorf("setting up TLS: %w", err)
	}
	if cfg.TLS.CertFile != "" {
		return tlsConfig, "file", nil
	}
	return tlsConfig, "self-signed", nil
}

// selectProvider builds the delivery backend named by cfg.Provider. The
// returned func releases its resources.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, func(), error) {
	noop := func() {}

	switch cfg.Provider {
	case config.ProviderWebhook:
		slog.Info("using webhook provider",
			"url", cfg.Webhook.URL,
			"token_auth", cfg.WebhookTokenConfigured(),
		)
		return webhook.New(webhook.Config{
			URL:          cfg.Webhook.URL,
			TokenURL:     cfg.Webhook.TokenURL,
			ClientID:     cfg.Webhook.ClientID,
			ClientSecret: cfg.Webhook.ClientSecret,
			Scope:        cfg.Webhook.Scope,
			Timeout:      cfg.Webhook.Timeout,
		}), noop, nil

	case config.ProviderRedis:
		slog.Info("using redis provider",
			"addr", cfg.Redis.Addr,
			"channel", cfg.Redis.Channel,
		)
		p, err := redis.New(ctx, redis.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Channel:  cfg.Redis.Channel,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating redis provider: %w", err)
		}
		return p, func() {
			if err := p.Close(); err != nil {
				slog.Warn("closing redis client", "error", err)
			}
		}, nil

	case config.ProviderSES:
		slog.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		p, err := ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating SES provider: %w", err)
		}
		return p, noop, nil

	case config.ProviderStdout:
		slog.Info("using stdout provider", "format", cfg.Stdout.Format)
		return stdout.New(cfg.Stdout.Format), noop, nil

	default:
		return nil, nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}
