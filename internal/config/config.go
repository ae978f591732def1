package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Batch size bounds for the dispatch engine. The cap bounds worst-case
// invocation latency under the host platform's timeout.
const (
	DefaultBatchSize = 120
	MinBatchSize     = 1
	MaxBatchSize     = 400
)

// Config holds all configuration for the newsletter service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Newsletter NewsletterConfig `yaml:"newsletter"`
	Mailer     MailerConfig     `yaml:"mailer"`
	Updates    UpdatesConfig    `yaml:"updates"`
	Redis      RedisConfig      `yaml:"redis"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the subscriber store connection settings.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// NewsletterConfig holds the subscription flow settings.
type NewsletterConfig struct {
	// EncryptionKey is the 32-byte AES key for email ciphertext,
	// given as 64-char hex or base64.
	EncryptionKey string `yaml:"encryption_key"`
	// HashSecret keys the HMAC pseudonyms. Falls back to EncryptionKey.
	HashSecret     string   `yaml:"hash_secret"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	SiteBaseURL    string   `yaml:"site_base_url"`
	CronSecret     string   `yaml:"cron_secret"`
	FromEmail      string   `yaml:"from_email"`
	BatchSize      int      `yaml:"batch_size"`
}

// EffectiveHashSecret returns the hash secret, falling back to the
// encryption key so a single-secret deployment still works.
func (c NewsletterConfig) EffectiveHashSecret() string {
	if c.HashSecret != "" {
		return c.HashSecret
	}
	return c.EncryptionKey
}

// ClampedBatchSize returns the dispatch batch size bounded to [1, 400].
func (c NewsletterConfig) ClampedBatchSize() int {
	size := c.BatchSize
	if size == 0 {
		size = DefaultBatchSize
	}
	if size < MinBatchSize {
		size = MinBatchSize
	}
	if size > MaxBatchSize {
		size = MaxBatchSize
	}
	return size
}

// MailerConfig holds outbound transactional mail settings.
type MailerConfig struct {
	// Provider selects the sending backend: "resend" or "ses".
	Provider       string    `yaml:"provider"`
	ResendAPIKey   string    `yaml:"resend_api_key"`
	ResendBaseURL  string    `yaml:"resend_base_url"`
	TimeoutSeconds int       `yaml:"timeout_seconds"`
	SES            SESConfig `yaml:"ses"`
}

// Timeout returns the configured timeout as a duration.
func (c MailerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SESConfig holds AWS SES credentials for the "ses" provider.
type SESConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// UpdatesConfig selects the publishable-item source for dispatch.
type UpdatesConfig struct {
	// Source is "file" (local JSON index) or "feed" (RSS/Atom URL).
	Source  string `yaml:"source"`
	Path    string `yaml:"path"`
	FeedURL string `yaml:"feed_url"`
}

// RedisConfig holds the optional Redis connection for the dispatch lock.
// When Addr is empty the lock falls back to PostgreSQL advisory locks.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
}

// Load reads and parses the configuration file. A missing file is not an
// error; deployments may configure everything through the environment.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Newsletter.BatchSize == 0 {
		cfg.Newsletter.BatchSize = DefaultBatchSize
	}
	if cfg.Mailer.Provider == "" {
		cfg.Mailer.Provider = "resend"
	}
	if cfg.Mailer.ResendBaseURL == "" {
		cfg.Mailer.ResendBaseURL = "https://api.resend.com"
	}
	if cfg.Mailer.TimeoutSeconds == 0 {
		cfg.Mailer.TimeoutSeconds = 30
	}
	if cfg.Mailer.SES.Region == "" {
		cfg.Mailer.SES.Region = "us-east-1"
	}
	if cfg.Updates.Source == "" {
		cfg.Updates.Source = "file"
	}
	if cfg.Updates.Path == "" {
		cfg.Updates.Path = "updates/index.json"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Database.URL = dbURL
	}
	if v := os.Getenv("NEWSLETTER_ENCRYPTION_KEY"); v != "" {
		cfg.Newsletter.EncryptionKey = v
	}
	if v := os.Getenv("NEWSLETTER_HASH_SECRET"); v != "" {
		cfg.Newsletter.HashSecret = v
	}
	if v := os.Getenv("NEWSLETTER_ALLOWED_ORIGINS"); v != "" {
		cfg.Newsletter.AllowedOrigins = splitList(v)
	}
	if v := os.Getenv("SITE_BASE_URL"); v != "" {
		cfg.Newsletter.SiteBaseURL = v
	}
	if v := os.Getenv("CRON_SECRET"); v != "" {
		cfg.Newsletter.CronSecret = v
	}
	if v := os.Getenv("NEWSLETTER_CRON_SECRET"); v != "" {
		cfg.Newsletter.CronSecret = v
	}
	if v := os.Getenv("NEWSLETTER_FROM_EMAIL"); v != "" {
		cfg.Newsletter.FromEmail = v
	}
	if v := os.Getenv("NEWSLETTER_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Newsletter.BatchSize = n
		}
	}
	if v := os.Getenv("MAILER_PROVIDER"); v != "" {
		cfg.Mailer.Provider = v
	}
	if v := os.Getenv("RESEND_API_KEY"); v != "" {
		cfg.Mailer.ResendAPIKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Mailer.SES.Region = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Mailer.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Mailer.SES.SecretKey = v
	}
	if v := os.Getenv("UPDATES_PATH"); v != "" {
		cfg.Updates.Source = "file"
		cfg.Updates.Path = v
	}
	if v := os.Getenv("UPDATES_FEED_URL"); v != "" {
		cfg.Updates.Source = "feed"
		cfg.Updates.FeedURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}

	return cfg, nil
}

// Validate checks that every required value is present. Callers treat a
// failure as fatal at startup.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("config: database url is required (DATABASE_URL)")
	}
	if c.Newsletter.EncryptionKey == "" {
		return errors.New("config: encryption key is required (NEWSLETTER_ENCRYPTION_KEY)")
	}
	if c.Newsletter.SiteBaseURL == "" {
		return errors.New("config: site base url is required (SITE_BASE_URL)")
	}
	if c.Newsletter.CronSecret == "" {
		return errors.New("config: cron secret is required (CRON_SECRET)")
	}
	if c.Newsletter.FromEmail == "" {
		return errors.New("config: from address is required (NEWSLETTER_FROM_EMAIL)")
	}
	switch c.Mailer.Provider {
	case "resend":
		if c.Mailer.ResendAPIKey == "" {
			return errors.New("config: resend api key is required (RESEND_API_KEY)")
		}
	case "ses":
		if c.Mailer.SES.Region == "" {
			return errors.New("config: ses region is required (AWS_SES_REGION)")
		}
	default:
		return errors.New("config: mailer provider must be \"resend\" or \"ses\"")
	}
	if c.Updates.Source == "feed" && c.Updates.FeedURL == "" {
		return errors.New("config: updates feed url is required (UPDATES_FEED_URL)")
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
