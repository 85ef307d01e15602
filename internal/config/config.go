// Package config loads service configuration from the environment.
//
// A .env file is honored when present; defined environment variables always
// win. Command-line flags in cmd/smmleads may override individual values.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the full environment surface of the service.
type Config struct {
	BotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`

	DatabaseURL string `envconfig:"DATABASE_URL"`
	TableName   string `envconfig:"TABLE_NAME" default:"facebook_leads"`
	StateDir    string `envconfig:"SMMLEADS_STATE_DIR" default:"/var/lib/smmleads"`

	StorageURL  string `envconfig:"STORAGE_URL"`
	StorageKey  string `envconfig:"STORAGE_KEY"`
	LeadsBucket string `envconfig:"LEADS_BUCKET" default:"leads"`

	PINCode string `envconfig:"PIN_CODE"`

	EnableLeadPhotos bool `envconfig:"ENABLE_LEAD_PHOTOS" default:"true"`
	FacebookFlow     bool `envconfig:"FACEBOOK_FLOW" default:"true"`
	MinimalAddMode   bool `envconfig:"MINIMAL_ADD_MODE" default:"false"`

	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"10m"`
	SessionTTL        time.Duration `envconfig:"SESSION_TTL" default:"1h"`
	SessionCapacity   int           `envconfig:"SESSION_CAPACITY" default:"1000"`
	RateLimitEnabled  bool          `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	RateLimitRequests int           `envconfig:"RATE_LIMIT_REQUESTS" default:"30"`
	RateLimitWindow   time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"60s"`

	APIAddr string `envconfig:"API_ADDR" default:":8000"`
	Debug   bool   `envconfig:"DEBUG" default:"false"`
}

// Load reads .env (best effort) and the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("Config: no .env file loaded", "error", err)
	} else {
		slog.Debug("Config: .env file loaded")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process environment: %w", err)
	}

	slog.Debug("Config loaded",
		"bot_token_set", cfg.BotToken != "",
		"database_url_set", cfg.DatabaseURL != "",
		"table_name", cfg.TableName,
		"storage_url_set", cfg.StorageURL != "",
		"pin_code_set", cfg.PINCode != "",
		"facebook_flow", cfg.FacebookFlow,
		"minimal_add_mode", cfg.MinimalAddMode,
		"cleanup_interval", cfg.CleanupInterval,
		"session_ttl", cfg.SessionTTL,
		"session_capacity", cfg.SessionCapacity,
		"rate_limit_enabled", cfg.RateLimitEnabled,
		"api_addr", cfg.APIAddr)
	return cfg, nil
}

// Validate checks the values required for serving traffic.
func (c Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if c.PINCode == "" {
		return fmt.Errorf("PIN_CODE is required")
	}
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be positive")
	}
	if c.SessionCapacity <= 0 {
		return fmt.Errorf("SESSION_CAPACITY must be positive")
	}
	return nil
}
