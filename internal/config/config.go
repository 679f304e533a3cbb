package config

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the service reads
const EnvPrefix = "EMAIL_ASSISTANT_"

// Config holds the application configuration
type Config struct {
	DatabasePath string `mapstructure:"database_path" env:"DATABASE_PATH"`
	DataDir      string `mapstructure:"data_dir" env:"DATA_DIR"`
	APIPort      string `mapstructure:"api_port" env:"API_PORT"`
	LogLevel     string `mapstructure:"log_level" env:"LOG_LEVEL"`
	LogFormat    string `mapstructure:"log_format" env:"LOG_FORMAT"` // text or json

	JWTSecret     string `mapstructure:"jwt_secret" env:"JWT_SECRET"`
	EncryptionKey string `mapstructure:"encryption_key" env:"ENCRYPTION_KEY"` // empty means derived from JWTSecret
	CORSOrigins   string `mapstructure:"cors_origins" env:"CORS_ORIGINS"`     // comma separated, * for all

	// Credential storage for provider secrets: database or keyring
	CredentialBackend string `mapstructure:"credential_backend" env:"CREDENTIAL_BACKEND"`
	KeyringService    string `mapstructure:"keyring_service" env:"KEYRING_SERVICE"`

	// Fetch scheduling
	FetchInterval          time.Duration `mapstructure:"fetch_interval" env:"FETCH_INTERVAL"`
	FetchTimeout           time.Duration `mapstructure:"fetch_timeout" env:"FETCH_TIMEOUT"`
	MaxFetchAttempts       int           `mapstructure:"max_fetch_attempts" env:"MAX_FETCH_ATTEMPTS"`
	RetryBaseDelay         time.Duration `mapstructure:"retry_base_delay" env:"RETRY_BASE_DELAY"`
	EmailAgeLimit          time.Duration `mapstructure:"email_age_limit" env:"EMAIL_AGE_LIMIT"`
	BatchSize              int           `mapstructure:"batch_size" env:"BATCH_SIZE"`
	MarkAsRead             bool          `mapstructure:"mark_as_read" env:"MARK_AS_READ"`
	MaxConcurrentProviders int           `mapstructure:"max_concurrent_providers" env:"MAX_CONCURRENT_PROVIDERS"`
	AutoFetch              bool          `mapstructure:"auto_fetch" env:"AUTO_FETCH"` // run the background scheduler in server mode

	// Model and send calls
	ModelTimeout time.Duration `mapstructure:"model_timeout" env:"MODEL_TIMEOUT"`
	SendTimeout  time.Duration `mapstructure:"send_timeout" env:"SEND_TIMEOUT"`
	RedactPII    bool          `mapstructure:"redact_pii" env:"REDACT_PII"`

	// Attachment storage: none, file or s3
	AttachmentStore string `mapstructure:"attachment_store" env:"ATTACHMENT_STORE"`
	AttachmentsDir  string `mapstructure:"attachments_dir" env:"ATTACHMENTS_DIR"` // empty means DataDir/attachments
	S3Bucket        string `mapstructure:"s3_bucket" env:"S3_BUCKET"`
	S3Region        string `mapstructure:"s3_region" env:"S3_REGION"`
}

// Default configuration values
const (
	DefaultDatabasePath           = "data/email_assistant.db"
	DefaultDataDir                = "data"
	DefaultAPIPort                = "8080"
	DefaultLogLevel               = "info"
	DefaultLogFormat              = "text"
	DefaultJWTSecret              = "email-assistant-default-secret-change-in-production"
	DefaultCORSOrigins            = "*"
	DefaultCredentialBackend      = "database"
	DefaultKeyringService         = "email-assistant"
	DefaultFetchInterval          = 300 * time.Second
	DefaultFetchTimeout           = 60 * time.Second
	DefaultMaxFetchAttempts       = 3
	DefaultRetryBaseDelay         = 2 * time.Second
	DefaultEmailAgeLimit          = 24 * time.Hour
	DefaultBatchSize              = 10
	DefaultMaxConcurrentProviders = 4
	DefaultModelTimeout           = 30 * time.Second
	DefaultSendTimeout            = 30 * time.Second
	DefaultAttachmentStore        = "file"
)

// Default returns a configuration populated with default values only
func Default() *Config {
	return &Config{
		DatabasePath:           DefaultDatabasePath,
		DataDir:                DefaultDataDir,
		APIPort:                DefaultAPIPort,
		LogLevel:               DefaultLogLevel,
		LogFormat:              DefaultLogFormat,
		JWTSecret:              DefaultJWTSecret,
		CORSOrigins:            DefaultCORSOrigins,
		CredentialBackend:      DefaultCredentialBackend,
		KeyringService:         DefaultKeyringService,
		FetchInterval:          DefaultFetchInterval,
		FetchTimeout:           DefaultFetchTimeout,
		MaxFetchAttempts:       DefaultMaxFetchAttempts,
		RetryBaseDelay:         DefaultRetryBaseDelay,
		EmailAgeLimit:          DefaultEmailAgeLimit,
		BatchSize:              DefaultBatchSize,
		MarkAsRead:             true,
		MaxConcurrentProviders: DefaultMaxConcurrentProviders,
		AutoFetch:              true,
		ModelTimeout:           DefaultModelTimeout,
		SendTimeout:            DefaultSendTimeout,
		RedactPII:              true,
		AttachmentStore:        DefaultAttachmentStore,
	}
}

// Load loads configuration from the default locations.
// Priority: Environment variables > Config file > Default values
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom loads configuration using an explicit config file path.
// An empty path searches for config.{yaml,json,toml} in the working directory
// and the data directory.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	// .env is optional
	_ = godotenv.Load()

	if err := cfg.loadFromFile(path); err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile merges a config file over the current values
func (c *Config) loadFromFile(path string) error {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath(c.DataDir)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}

	return v.Unmarshal(c)
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database_path must not be empty")
	}
	durations := map[string]time.Duration{
		"fetch_interval": c.FetchInterval,
		"fetch_timeout":  c.FetchTimeout,
		"model_timeout":  c.ModelTimeout,
		"send_timeout":   c.SendTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	if c.RetryBaseDelay < 0 {
		return fmt.Errorf("retry_base_delay must not be negative, got %v", c.RetryBaseDelay)
	}
	if c.MaxFetchAttempts < 1 {
		return fmt.Errorf("max_fetch_attempts must be at least 1, got %d", c.MaxFetchAttempts)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1, got %d", c.BatchSize)
	}
	if c.MaxConcurrentProviders < 1 {
		return fmt.Errorf("max_concurrent_providers must be at least 1, got %d", c.MaxConcurrentProviders)
	}

	switch strings.ToLower(c.CredentialBackend) {
	case "database", "keyring":
	default:
		return fmt.Errorf("unknown credential_backend %q", c.CredentialBackend)
	}

	switch strings.ToLower(c.AttachmentStore) {
	case "none", "file":
	case "s3":
		if c.S3Bucket == "" {
			return errors.New("s3_bucket is required when attachment_store is s3")
		}
	default:
		return fmt.Errorf("unknown attachment_store %q", c.AttachmentStore)
	}

	return nil
}

// GetAttachmentsDir returns the directory used by the file attachment store
func (c *Config) GetAttachmentsDir() string {
	if c.AttachmentsDir != "" {
		return c.AttachmentsDir
	}
	return filepath.Join(c.DataDir, "attachments")
}

// GetEncryptionKey returns the key used to encrypt provider secrets.
// If EncryptionKey is set, use it; otherwise derive from JWTSecret
func (c *Config) GetEncryptionKey() []byte {
	if c.EncryptionKey != "" {
		hash := sha256.Sum256([]byte(c.EncryptionKey))
		return hash[:]
	}
	hash := sha256.Sum256([]byte(c.JWTSecret + "-encryption"))
	return hash[:]
}

// GetCORSOrigins splits CORSOrigins into the list gin-contrib/cors expects
func (c *Config) GetCORSOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
