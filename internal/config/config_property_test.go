package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Feature: email-ai-assistant, Property: configuration priority
// Environment variables override the config file, which overrides defaults.

func writeConfigFile(t *testing.T, content string) string {
	dir, err := os.MkdirTemp("", "config_test_*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		// viper reports an explicit missing file as a read error, not ConfigFileNotFoundError
		t.Fatalf("expected error for explicit missing config file, got %+v", cfg)
	}

	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.FetchInterval != DefaultFetchInterval {
		t.Errorf("FetchInterval = %v, want %v", cfg.FetchInterval, DefaultFetchInterval)
	}
	if cfg.BatchSize != DefaultBatchSize || !cfg.MarkAsRead {
		t.Errorf("unexpected fetch defaults: batch=%d mark=%v", cfg.BatchSize, cfg.MarkAsRead)
	}
	if cfg.EmailAgeLimit != 24*time.Hour {
		t.Errorf("EmailAgeLimit = %v, want 24h", cfg.EmailAgeLimit)
	}
}

func TestProperty_ConfigPriority(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("file_overrides_defaults", prop.ForAll(
		func(batch int, attempts int) bool {
			path := writeConfigFile(t, fmt.Sprintf("batch_size: %d\nmax_fetch_attempts: %d\nfetch_interval: 90s\n", batch, attempts))

			cfg, err := LoadFrom(path)
			if err != nil {
				return false
			}
			return cfg.BatchSize == batch &&
				cfg.MaxFetchAttempts == attempts &&
				cfg.FetchInterval == 90*time.Second &&
				cfg.ModelTimeout == DefaultModelTimeout
		},
		gen.IntRange(1, 500),
		gen.IntRange(1, 10),
	))

	properties.Property("env_overrides_file", prop.ForAll(
		func(fileBatch int, envBatch int) bool {
			path := writeConfigFile(t, fmt.Sprintf("batch_size: %d\n", fileBatch))

			os.Setenv(EnvPrefix+"BATCH_SIZE", strconv.Itoa(envBatch))
			defer os.Unsetenv(EnvPrefix + "BATCH_SIZE")

			cfg, err := LoadFrom(path)
			if err != nil {
				return false
			}
			return cfg.BatchSize == envBatch
		},
		gen.IntRange(1, 500),
		gen.IntRange(1, 500),
	))

	properties.TestingRun(t)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"zero fetch interval", func(c *Config) { c.FetchInterval = 0 }, true},
		{"negative send timeout", func(c *Config) { c.SendTimeout = -time.Second }, true},
		{"zero attempts", func(c *Config) { c.MaxFetchAttempts = 0 }, true},
		{"unknown credential backend", func(c *Config) { c.CredentialBackend = "vault" }, true},
		{"keyring backend", func(c *Config) { c.CredentialBackend = "keyring" }, false},
		{"s3 without bucket", func(c *Config) { c.AttachmentStore = "s3" }, true},
		{"s3 with bucket", func(c *Config) { c.AttachmentStore = "s3"; c.S3Bucket = "mail" }, false},
		{"unknown attachment store", func(c *Config) { c.AttachmentStore = "ftp" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetEncryptionKey(t *testing.T) {
	cfg := Default()
	derived := cfg.GetEncryptionKey()
	if len(derived) != 32 {
		t.Fatalf("key length = %d, want 32", len(derived))
	}

	cfg.EncryptionKey = "explicit"
	if string(cfg.GetEncryptionKey()) == string(derived) {
		t.Error("explicit key should differ from derived key")
	}
}
