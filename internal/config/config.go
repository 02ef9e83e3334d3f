// Package config provides application configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ashureev/designhaus/internal/store"
	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	FrontendURL string `env:"FRONTEND_URL"`

	// Persistence
	DatabaseURL             string        `env:"DATABASE_URL"`
	LocalDBPath             string        `env:"LOCAL_DB_PATH" envDefault:"./data/designhaus.db"`
	LocalCapacityBytes      int           `env:"LOCAL_CAPACITY_BYTES" envDefault:"5242880"`
	LocalPollInterval       time.Duration `env:"LOCAL_POLL_INTERVAL" envDefault:"1s"`
	SessionListPollInterval time.Duration `env:"SESSION_LIST_POLL_INTERVAL" envDefault:"2s"`
	RemoteInlineLimitBytes  int           `env:"REMOTE_INLINE_LIMIT_BYTES" envDefault:"921600"`

	// Admin
	AdminPassphrase string `env:"ADMIN_PASSPHRASE"`

	// Image generation
	OpenAIAPIKey      string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL     string        `env:"OPENAI_BASE_URL"`
	GenerationTimeout time.Duration `env:"GENERATION_TIMEOUT" envDefault:"90s"`

	// Durable asset storage
	SupabaseURL    string `env:"SUPABASE_URL"`
	SupabaseAPIKey string `env:"SUPABASE_API_KEY"`
	SupabaseBucket string `env:"SUPABASE_BUCKET" envDefault:"designs"`

	// Admin notifications
	TelegramBotToken    string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramAdminChatID int64  `env:"TELEGRAM_ADMIN_CHAT_ID"`

	// Customer message rate limiting
	MessageRateLimit  int           `env:"MESSAGE_RATE_LIMIT" envDefault:"20"`
	MessageRateWindow time.Duration `env:"MESSAGE_RATE_WINDOW" envDefault:"1m"`

	ProposalPrice decimal.Decimal `env:"PROPOSAL_PRICE" envDefault:"25"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.LocalCapacityBytes <= 0 {
		return fmt.Errorf("LOCAL_CAPACITY_BYTES must be > 0")
	}
	if c.LocalPollInterval <= 0 {
		return fmt.Errorf("LOCAL_POLL_INTERVAL must be > 0")
	}
	if c.SessionListPollInterval <= 0 {
		return fmt.Errorf("SESSION_LIST_POLL_INTERVAL must be > 0")
	}
	if c.RemoteInlineLimitBytes <= 0 {
		return fmt.Errorf("REMOTE_INLINE_LIMIT_BYTES must be > 0")
	}
	if c.GenerationTimeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be > 0")
	}
	if c.MessageRateLimit <= 0 || c.MessageRateWindow <= 0 {
		return fmt.Errorf("MESSAGE_RATE_LIMIT and MESSAGE_RATE_WINDOW must be > 0")
	}
	if !c.ProposalPrice.IsPositive() {
		return fmt.Errorf("PROPOSAL_PRICE must be > 0")
	}
	if c.TelegramBotToken != "" && c.TelegramAdminChatID == 0 {
		return fmt.Errorf("TELEGRAM_ADMIN_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// IsPlaceholder reports whether a credential is unset or a template value.
func IsPlaceholder(value string) bool {
	v := strings.TrimSpace(value)
	switch {
	case v == "":
		return true
	case strings.HasPrefix(v, "mock_"):
		return true
	case strings.EqualFold(v, "placeholder"), strings.EqualFold(v, "changeme"):
		return true
	}
	return false
}

// BackendMode reports whether the remote backend is configured. The
// selector may still fall back at runtime.
func (c *Config) BackendMode() store.Mode {
	if IsPlaceholder(c.DatabaseURL) {
		return store.ModeLocal
	}
	return store.ModeRemote
}

// HasSupabase reports whether durable asset storage is configured.
func (c *Config) HasSupabase() bool {
	return !IsPlaceholder(c.SupabaseURL) && !IsPlaceholder(c.SupabaseAPIKey)
}

// HasOpenAI reports whether the OpenAI image provider is configured.
func (c *Config) HasOpenAI() bool {
	return !IsPlaceholder(c.OpenAIAPIKey)
}

// AdminEnabled reports whether the admin dashboard can be unlocked.
func (c *Config) AdminEnabled() bool {
	return !IsPlaceholder(c.AdminPassphrase)
}

// LocalOptions returns the local store settings.
func (c *Config) LocalOptions() store.LocalOptions {
	return store.LocalOptions{
		CapacityBytes:    c.LocalCapacityBytes,
		PollInterval:     c.LocalPollInterval,
		ListPollInterval: c.SessionListPollInterval,
	}
}
