package config

import (
	"testing"
	"time"

	"github.com/ashureev/designhaus/internal/store"
	"github.com/shopspring/decimal"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected default port, got %q", cfg.Port)
	}
	if cfg.LocalPollInterval != time.Second || cfg.SessionListPollInterval != 2*time.Second {
		t.Errorf("Unexpected poll intervals %v / %v", cfg.LocalPollInterval, cfg.SessionListPollInterval)
	}
	if cfg.LocalCapacityBytes != 5<<20 {
		t.Errorf("Expected 5 MiB capacity, got %d", cfg.LocalCapacityBytes)
	}
	if !cfg.ProposalPrice.Equal(decimal.NewFromInt(25)) {
		t.Errorf("Expected default price 25, got %s", cfg.ProposalPrice)
	}
	if cfg.BackendMode() != store.ModeLocal {
		t.Errorf("Expected local mode without DATABASE_URL, got %s", cfg.BackendMode())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://designhaus@db:5432/designhaus")
	t.Setenv("LOCAL_POLL_INTERVAL", "250ms")
	t.Setenv("PROPOSAL_PRICE", "49.90")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BackendMode() != store.ModeRemote {
		t.Errorf("Expected remote mode, got %s", cfg.BackendMode())
	}
	if cfg.LocalPollInterval != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %v", cfg.LocalPollInterval)
	}
	if cfg.ProposalPrice.String() != "49.9" {
		t.Errorf("Expected 49.9, got %s", cfg.ProposalPrice)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	base := func() Config {
		return Config{
			Port:                    "8080",
			LocalCapacityBytes:      1,
			LocalPollInterval:       time.Second,
			SessionListPollInterval: time.Second,
			RemoteInlineLimitBytes:  1,
			GenerationTimeout:       time.Second,
			MessageRateLimit:        1,
			MessageRateWindow:       time.Second,
			ProposalPrice:           decimal.NewFromInt(1),
		}
	}

	ok := base()
	if err := ok.Validate(); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}

	tests := map[string]func(*Config){
		"empty port":         func(c *Config) { c.Port = "" },
		"zero capacity":      func(c *Config) { c.LocalCapacityBytes = 0 },
		"zero price":         func(c *Config) { c.ProposalPrice = decimal.Zero },
		"telegram sans chat": func(c *Config) { c.TelegramBotToken = "123:abc" },
	}
	for name, mutate := range tests {
		c := base()
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestIsPlaceholder(t *testing.T) {
	for _, v := range []string{"", "  ", "mock_key", "placeholder", "CHANGEME"} {
		if !IsPlaceholder(v) {
			t.Errorf("Expected %q to be a placeholder", v)
		}
	}
	for _, v := range []string{"postgres://x", "sk-live-123"} {
		if IsPlaceholder(v) {
			t.Errorf("Expected %q to be a real value", v)
		}
	}
}
