// Package config handles loading and validating the smtp-intake configuration.
//
// Values come from an optional YAML file, then environment variables, which
// take precedence over the file. Defaults are applied first so that both
// layers only need to name what they change.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Provider names accepted by the provider setting.
const (
	ProviderStdout  = "stdout"
	ProviderWebhook = "webhook"
	ProviderRedis   = "redis"
	ProviderSES     = "ses"
)

// Config holds all application configuration.
type Config struct {
	SMTP     SMTPConfig    `yaml:"smtp"`
	TLS      TLSConfig     `yaml:"tls"`
	Provider string        `yaml:"provider"`
	Stdout   StdoutConfig  `yaml:"stdout"`
	Webhook  WebhookConfig `yaml:"webhook"`
	Redis    RedisConfig   `yaml:"redis"`
	SES      SESConfig     `yaml:"ses"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Logging  LoggingConfig `yaml:"logging"`
}

// SMTPConfig holds the SMTP listener and session settings.
type SMTPConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Hostname        string        `yaml:"hostname"`
	AuthRequired    bool          `yaml:"auth_required"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	AllowInsecure   bool          `yaml:"allow_insecure"`
	MaxMessageSize  int64         `yaml:"max_message_size"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	UnknownCommands string        `yaml:"unknown_commands"`
}

// TLSConfig controls the implicit TLS listener. When enabled without files,
// a self-signed certificate is generated at startup.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// StdoutConfig holds settings for the stdout provider.
type StdoutConfig struct {
	Format string `yaml:"format"`
}

// WebhookConfig holds settings for the webhook provider. The token fields are
// optional; when set, requests carry an OAuth2 client-credentials bearer token.
type WebhookConfig struct {
	URL          string        `yaml:"url"`
	TokenURL     string        `yaml:"token_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Scope        string        `yaml:"scope"`
	Timeout      time.Duration `yaml:"timeout"`
}

// RedisConfig holds settings for the redis provider.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// SESConfig holds AWS SES credentials and settings.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// MetricsConfig holds the Prometheus endpoint settings. An empty Listen
// disables the endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load creates a Config from defaults and environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	applyEnvVars(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile reads a YAML configuration file and then applies environment
// variable overrides.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	applyDefaults(cfg)

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvVars(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ListenAddr returns the host:port the SMTP server binds to.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.SMTP.Host, strconv.Itoa(c.SMTP.Port))
}

// WebhookTokenConfigured reports whether the webhook should authenticate with
// a client-credentials token.
func (c *Config) WebhookTokenConfigured() bool {
	return c.Webhook.TokenURL != "" || c.Webhook.ClientID != "" || c.Webhook.ClientSecret != ""
}

// Validate checks the configuration and returns every problem found, each
// wrapping ErrInvalid.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.SMTP.Port < 1 || c.SMTP.Port > 65535 {
		invalid("smtp.port %d out of range 1-65535", c.SMTP.Port)
	}
	if c.SMTP.AuthRequired && (c.SMTP.Username == "" || c.SMTP.Password == "") {
		invalid("smtp.auth_required needs smtp.username and smtp.password")
	}
	if !c.SMTP.AllowInsecure && !c.TLS.Enabled {
		invalid("smtp.allow_insecure is false but tls.enabled is not set")
	}
	if c.SMTP.MaxMessageSize < 0 {
		invalid("smtp.max_message_size must not be negative")
	}
	if c.SMTP.ReadTimeout < 0 || c.SMTP.ShutdownTimeout < 0 {
		invalid("smtp timeouts must not be negative")
	}
	switch strings.ToLower(c.SMTP.UnknownCommands) {
	case "ignore", "reject":
	default:
		invalid("smtp.unknown_commands %q must be ignore or reject", c.SMTP.UnknownCommands)
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		invalid("tls.cert_file and tls.key_file must be set together")
	}

	switch c.Provider {
	case ProviderStdout:
		switch c.Stdout.Format {
		case "text", "json":
		default:
			invalid("stdout.format %q must be text or json", c.Stdout.Format)
		}
	case ProviderWebhook:
		if c.Webhook.URL == "" {
			invalid("webhook provider requires webhook.url")
		}
		if c.WebhookTokenConfigured() &&
			(c.Webhook.TokenURL == "" || c.Webhook.ClientID == "" || c.Webhook.ClientSecret == "") {
			invalid("webhook token auth requires token_url, client_id and client_secret")
		}
		if c.Webhook.Timeout < 0 {
			invalid("webhook.timeout must not be negative")
		}
	case ProviderRedis:
		if c.Redis.Addr == "" || c.Redis.Channel == "" {
			invalid("redis provider requires redis.addr and redis.channel")
		}
	case ProviderSES:
		if c.SES.Region == "" || c.SES.Sender == "" {
			invalid("ses provider requires ses.region and ses.sender")
		}
		if (c.SES.AccessKeyID == "") != (c.SES.SecretAccessKey == "") {
			invalid("ses.access_key_id and ses.secret_access_key must be set together")
		}
	default:
		invalid("unknown provider %q", c.Provider)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		invalid("logging.level %q must be debug, info, warn or error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		invalid("logging.format %q must be json or text", c.Logging.Format)
	}

	return errors.Join(errs...)
}

// applyDefaults sets default values for all configuration fields.
func applyDefaults(cfg *Config) {
	cfg.SMTP.Host = "0.0.0.0"
	cfg.SMTP.Port = 2525
	cfg.SMTP.Hostname = "localhost"
	cfg.SMTP.AllowInsecure = true
	cfg.SMTP.MaxMessageSize = 26214400 // 25MB
	cfg.SMTP.ReadTimeout = 60 * time.Second
	cfg.SMTP.ShutdownTimeout = 30 * time.Second
	cfg.SMTP.UnknownCommands = "ignore"
	cfg.Provider = ProviderStdout
	cfg.Stdout.Format = "text"
	cfg.Webhook.Timeout = 30 * time.Second
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
}

// applyEnvVars overrides configuration values with environment variables.
// Empty variables are ignored, as are values that fail to parse.
func applyEnvVars(cfg *Config) {
	envString("SMTP_HOST", &cfg.SMTP.Host)
	envInt("SMTP_PORT", &cfg.SMTP.Port)
	envString("SMTP_HOSTNAME", &cfg.SMTP.Hostname)
	envBool("SMTP_AUTH_REQUIRED", &cfg.SMTP.AuthRequired)
	envString("SMTP_USERNAME", &cfg.SMTP.Username)
	envString("SMTP_PASSWORD", &cfg.SMTP.Password)
	envBool("SMTP_ALLOW_INSECURE", &cfg.SMTP.AllowInsecure)
	envInt64("SMTP_MAX_MESSAGE_SIZE", &cfg.SMTP.MaxMessageSize)
	envDuration("SMTP_READ_TIMEOUT", &cfg.SMTP.ReadTimeout)
	envDuration("SMTP_SHUTDOWN_TIMEOUT", &cfg.SMTP.ShutdownTimeout)
	envString("SMTP_UNKNOWN_COMMANDS", &cfg.SMTP.UnknownCommands)

	envBool("TLS_ENABLED", &cfg.TLS.Enabled)
	envString("TLS_CERT_FILE", &cfg.TLS.CertFile)
	envString("TLS_KEY_FILE", &cfg.TLS.KeyFile)

	envString("PROVIDER", &cfg.Provider)
	envString("STDOUT_FORMAT", &cfg.Stdout.Format)

	envString("WEBHOOK_URL", &cfg.Webhook.URL)
	envString("WEBHOOK_TOKEN_URL", &cfg.Webhook.TokenURL)
	envString("WEBHOOK_CLIENT_ID", &cfg.Webhook.ClientID)
	envString("WEBHOOK_CLIENT_SECRET", &cfg.Webhook.ClientSecret)
	envString("WEBHOOK_SCOPE", &cfg.Webhook.Scope)
	envDuration("WEBHOOK_TIMEOUT", &cfg.Webhook.Timeout)

	envString("REDIS_ADDR", &cfg.Redis.Addr)
	envString("REDIS_PASSWORD", &cfg.Redis.Password)
	envInt("REDIS_DB", &cfg.Redis.DB)
	envString("REDIS_CHANNEL", &cfg.Redis.Channel)

	envString("SES_REGION", &cfg.SES.Region)
	envString("SES_ACCESS_KEY_ID", &cfg.SES.AccessKeyID)
	envString("SES_SECRET_ACCESS_KEY", &cfg.SES.SecretAccessKey)
	envString("SES_SENDER", &cfg.SES.Sender)

	envString("METRICS_LISTEN", &cfg.Metrics.Listen)

	envString("LOG_LEVEL", &cfg.Logging.Level)
	envString("LOG_FORMAT", &cfg.Logging.Format)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(key string, dst *int64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
