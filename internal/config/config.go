package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds gateway configuration loaded from the environment.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string `validate:"required"`
	RedisURL    string `validate:"required"`

	// Grateful processor credentials. The API key may legitimately be
	// empty; payment creation then fails with a configuration error
	// instead of blocking startup, so the store operator can finish
	// setup while the service is already running.
	GratefulBaseURL   string `validate:"required,url"`
	GratefulAPIKey    string
	GratefulSecretKey string
	GatewayEnabled    bool

	// Host-store surface: where the processor sends the shopper back,
	// and where we bounce the browser after reconciliation.
	StoreBaseURL       string `validate:"required,url"`
	CheckoutURL        string `validate:"required,url"`
	ReceiptURLTemplate string `validate:"required,contains={order_id}"`
	CurrencyCode       string `validate:"required,len=3"`

	CreateTimeout       time.Duration
	StatusTimeout       time.Duration
	WebhookReplayTTL    time.Duration
	WebhookMaxBodyBytes int64

	CORSAllowedOrigins []string
	MigrateOnStart     bool
	MigrationsDir      string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:              valueOrDefault(k.String("APP_ENV"), "development"),
		Port:                valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:         k.String("DATABASE_URL"),
		RedisURL:            k.String("REDIS_URL"),
		GratefulBaseURL:     valueOrDefault(k.String("GRATEFUL_BASE_URL"), "http://localhost:3000"),
		GratefulAPIKey:      strings.TrimSpace(k.String("GRATEFUL_API_KEY")),
		GratefulSecretKey:   strings.TrimSpace(k.String("GRATEFUL_SECRET_KEY")),
		GatewayEnabled:      parseBoolDefault(k.String("GATEWAY_ENABLED"), true),
		StoreBaseURL:        strings.TrimRight(k.String("STORE_BASE_URL"), "/"),
		CheckoutURL:         k.String("STORE_CHECKOUT_URL"),
		ReceiptURLTemplate:  k.String("STORE_RECEIPT_URL_TEMPLATE"),
		CurrencyCode:        strings.ToUpper(valueOrDefault(k.String("STORE_CURRENCY"), "USD")),
		CreateTimeout:       parseDuration(k.String("GRATEFUL_CREATE_TIMEOUT"), "30s"),
		StatusTimeout:       parseDuration(k.String("GRATEFUL_STATUS_TIMEOUT"), "15s"),
		WebhookReplayTTL:    parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "10m"),
		WebhookMaxBodyBytes: int64(k.Int("WEBHOOK_MAX_BODY_BYTES")),
		CORSAllowedOrigins:  splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		MigrateOnStart:      parseBoolDefault(k.String("DB_MIGRATE_ON_START"), false),
		MigrationsDir:       valueOrDefault(k.String("DB_MIGRATIONS_DIR"), "db/migrations"),
	}
	if cfg.WebhookMaxBodyBytes <= 0 {
		cfg.WebhookMaxBodyBytes = 1 << 20
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBoolDefault(value string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
