package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gratefulhq/store-gateway/internal/config"
)

func baseEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":               "postgres://localhost/gateway",
		"REDIS_URL":                  "redis://localhost:6379/0",
		"GRATEFUL_BASE_URL":          "https://api.grateful.example",
		"STORE_BASE_URL":             "https://shop.example",
		"STORE_CHECKOUT_URL":         "https://shop.example/checkout",
		"STORE_RECEIPT_URL_TEMPLATE": "https://shop.example/checkout/order-received/{order_id}",
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.LoadForTests(baseEnv())
	require.NoError(t, err)

	require.Equal(t, "development", cfg.AppEnv)
	require.Equal(t, ":8080", cfg.HTTPAddr())
	require.Equal(t, "USD", cfg.CurrencyCode)
	require.True(t, cfg.GatewayEnabled)
	require.Equal(t, 30*time.Second, cfg.CreateTimeout)
	require.Equal(t, 15*time.Second, cfg.StatusTimeout)
	require.Equal(t, int64(1<<20), cfg.WebhookMaxBodyBytes)
}

func TestLoadMissingDatabaseURL(t *testing.T) {
	env := baseEnv()
	env["DATABASE_URL"] = ""
	_, err := config.LoadForTests(env)
	require.Error(t, err)
	require.Contains(t, err.Error(), "validate config")
}

func TestLoadReceiptTemplateMustContainPlaceholder(t *testing.T) {
	env := baseEnv()
	env["STORE_RECEIPT_URL_TEMPLATE"] = "https://shop.example/thanks"
	_, err := config.LoadForTests(env)
	require.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	env := baseEnv()
	env["GRATEFUL_API_KEY"] = "  key-123  "
	env["GRATEFUL_STATUS_TIMEOUT"] = "5s"
	env["GATEWAY_ENABLED"] = "off"
	env["STORE_CURRENCY"] = "eur"

	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, "key-123", cfg.GratefulAPIKey)
	require.Equal(t, 5*time.Second, cfg.StatusTimeout)
	require.False(t, cfg.GatewayEnabled)
	require.Equal(t, "EUR", cfg.CurrencyCode)
}

func TestLoadBadDurationFallsBack(t *testing.T) {
	env := baseEnv()
	env["GRATEFUL_CREATE_TIMEOUT"] = "not-a-duration"
	cfg, err := config.LoadForTests(env)
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.CreateTimeout)
}
