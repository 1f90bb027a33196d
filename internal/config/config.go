package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string `validate:"oneof=development test staging production"`
	LogLevel      string `validate:"oneof=debug info warn error"`
	DatabaseURL   string `validate:"required"`
	InternalToken string `validate:"required_if=Env production"`

	// Business identity used when composing replies
	BusinessName      string `validate:"required"`
	BusinessTimezone  string `validate:"timezone"`
	PublicSiteBaseURL string `validate:"omitempty,url"`

	RedisAddr       string `validate:"required"`
	RedisPassword   string
	RedisTLS        bool
	PolicyKeyPrefix string

	AWSRegion             string
	AWSAccessKeyID        string
	AWSSecretAccessKey    string
	AWSEndpointOverride   string
	InboundEventsQueueURL string
	UseMemoryQueue        bool
	WorkerCount           int `validate:"gte=1,lte=64"`

	GoogleCalendarID      string
	GoogleCredentialsJSON string `validate:"required_with=GoogleCalendarID"`
	CalendarTimeout       time.Duration

	TwilioAccountSID string
	TwilioAuthToken  string `validate:"required_with=TwilioAccountSID"`
	TwilioFromNumber string `validate:"required_with=TwilioAccountSID"`

	MetaPageAccessToken string

	EmailProvider     string `validate:"oneof=sendgrid ses stub"`
	EmailReplyTo      string `validate:"omitempty,email"`
	SendGridAPIKey    string `validate:"required_if=EmailProvider sendgrid"`
	SendGridFromEmail string `validate:"required_unless=EmailProvider stub"`
	SendGridFromName  string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int     `validate:"gte=1,lte=500"`
	OutboxSendRate     float64 `validate:"gte=0"`

	QuietHoursStart    string
	QuietHoursEnd      string
	QuietHoursTimezone string

	InternalRateLimit float64 `validate:"gte=0"`
	InternalBurst     int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		LogLevel:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		InternalToken: getEnv("INTERNAL_API_TOKEN", ""),

		BusinessName:      getEnv("BUSINESS_NAME", "HaulOps"),
		BusinessTimezone:  getEnv("BUSINESS_TIMEZONE", "UTC"),
		PublicSiteBaseURL: getEnv("PUBLIC_SITE_BASE_URL", ""),

		RedisAddr:       getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:   getEnv("REDIS_PASSWORD", ""),
		RedisTLS:        getEnvAsBool("REDIS_TLS", false),
		PolicyKeyPrefix: getEnv("POLICY_KEY_PREFIX", "policy"),

		AWSRegion:             getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:        getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:    getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:   getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		InboundEventsQueueURL: getEnv("INBOUND_EVENTS_QUEUE_URL", ""),
		UseMemoryQueue:        getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:           getEnvAsInt("WORKER_COUNT", 2),

		GoogleCalendarID:      getEnv("GOOGLE_CALENDAR_ID", ""),
		GoogleCredentialsJSON: getEnv("GOOGLE_CREDENTIALS_JSON", ""),
		CalendarTimeout:       getEnvAsDuration("CALENDAR_TIMEOUT", 10*time.Second),

		TwilioAccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber: getEnv("TWILIO_FROM_NUMBER", ""),

		MetaPageAccessToken: getEnv("META_PAGE_ACCESS_TOKEN", ""),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "stub"))),
		EmailReplyTo:      getEnv("EMAIL_REPLY_TO", ""),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "HaulOps"),

		OutboxPollInterval: getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxBatchSize:    getEnvAsInt("OUTBOX_BATCH_SIZE", 25),
		OutboxSendRate:     getEnvAsFloat("OUTBOX_SEND_RATE", 5),

		QuietHoursStart:    getEnv("QUIET_HOURS_START", ""),
		QuietHoursEnd:      getEnv("QUIET_HOURS_END", ""),
		QuietHoursTimezone: getEnv("QUIET_HOURS_TZ", "UTC"),

		InternalRateLimit: getEnvAsFloat("INTERNAL_RATE_LIMIT", 10),
		InternalBurst:     getEnvAsInt("INTERNAL_RATE_BURST", 20),
	}
}

// Validate checks required combinations. The returned error lists every
// offending field.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: validate: %w", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("config: invalid fields: %s", strings.Join(fields, ", "))
}

// RequireQueue reports whether the inbound event queue is configured for a
// consumer. Only the worker needs it.
func (c *Config) RequireQueue() error {
	if c.UseMemoryQueue || strings.TrimSpace(c.InboundEventsQueueURL) != "" {
		return nil
	}
	return errors.New("config: INBOUND_EVENTS_QUEUE_URL is required unless USE_MEMORY_QUEUE=true")
}

// Location returns the business timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if loc, err := time.LoadLocation(c.BusinessTimezone); err == nil {
		return loc
	}
	return time.UTC
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
