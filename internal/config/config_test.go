package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("BUSINESS_NAME", "")
	t.Setenv("EMAIL_PROVIDER", "")
	t.Setenv("OUTBOX_SEND_RATE", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.BusinessName != "HaulOps" {
		t.Fatalf("expected default business name, got %s", cfg.BusinessName)
	}
	if cfg.EmailProvider != "stub" {
		t.Fatalf("expected stub email provider by default, got %s", cfg.EmailProvider)
	}
	if cfg.CalendarTimeout != 10*time.Second {
		t.Fatalf("expected default calendar timeout, got %s", cfg.CalendarTimeout)
	}
	if cfg.OutboxSendRate != 5 {
		t.Fatalf("expected default send rate, got %v", cfg.OutboxSendRate)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("BUSINESS_TIMEZONE", "America/Chicago")
	t.Setenv("CALENDAR_TIMEOUT", "3s")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("OUTBOX_SEND_RATE", "2.5")
	t.Setenv("USE_MEMORY_QUEUE", "true")
	t.Setenv("EMAIL_PROVIDER", " SES ")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected lowercased log level, got %s", cfg.LogLevel)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if cfg.CalendarTimeout != 3*time.Second {
		t.Fatalf("expected calendar timeout override, got %s", cfg.CalendarTimeout)
	}
	if cfg.WorkerCount != 8 || cfg.OutboxSendRate != 2.5 || !cfg.UseMemoryQueue {
		t.Fatalf("unexpected worker overrides: %+v", cfg)
	}
	if cfg.EmailProvider != "ses" {
		t.Fatalf("expected normalized email provider, got %q", cfg.EmailProvider)
	}
	if cfg.Location().String() != "America/Chicago" {
		t.Fatalf("expected Chicago location, got %s", cfg.Location())
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("WORKER_COUNT", "many")
	t.Setenv("CALENDAR_TIMEOUT", "soon")
	t.Setenv("REDIS_TLS", "maybe")
	cfg := Load()
	assert.Equal(t, 2, cfg.WorkerCount)
	assert.Equal(t, 10*time.Second, cfg.CalendarTimeout)
	assert.False(t, cfg.RedisTLS)
}

func validConfig() *Config {
	return &Config{
		Env:              "development",
		LogLevel:         "info",
		DatabaseURL:      "postgres://localhost/haulops",
		BusinessName:     "Acme Hauling",
		BusinessTimezone: "UTC",
		RedisAddr:        "localhost:6379",
		WorkerCount:      2,
		EmailProvider:    "stub",
		OutboxBatchSize:  25,
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing database", func(c *Config) { c.DatabaseURL = "" }, "DatabaseURL"},
		{"bad timezone", func(c *Config) { c.BusinessTimezone = "Mars/Olympus" }, "BusinessTimezone"},
		{"sendgrid without key", func(c *Config) { c.EmailProvider = "sendgrid"; c.SendGridFromEmail = "ops@acme.test" }, "SendGridAPIKey"},
		{"ses without sender", func(c *Config) { c.EmailProvider = "ses" }, "SendGridFromEmail"},
		{"unknown email provider", func(c *Config) { c.EmailProvider = "pigeon" }, "EmailProvider"},
		{"twilio without token", func(c *Config) { c.TwilioAccountSID = "AC123"; c.TwilioFromNumber = "+12015550123" }, "TwilioAuthToken"},
		{"production without internal token", func(c *Config) { c.Env = "production" }, "InternalToken"},
		{"bad site url", func(c *Config) { c.PublicSiteBaseURL = "not a url" }, "PublicSiteBaseURL"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.field)
		})
	}
}

func TestRequireQueue(t *testing.T) {
	cfg := validConfig()
	assert.Error(t, cfg.RequireQueue())
	cfg.UseMemoryQueue = true
	assert.NoError(t, cfg.RequireQueue())
	cfg.UseMemoryQueue = false
	cfg.InboundEventsQueueURL = "https://sqs.us-east-1.amazonaws.com/123/inbound"
	assert.NoError(t, cfg.RequireQueue())
}
