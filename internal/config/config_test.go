package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestFromEnvRequiresToken(t *testing.T) {
	_, err := FromEnv(env(nil))
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestFromEnvDevelopmentDefaults(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{"TELEGRAM_TOKEN": "123:abc"}))
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, "http://localhost:8000", cfg.APIBaseURL)
	assert.Equal(t, 15*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, ":8080", cfg.WebhookAddr)
	assert.Empty(t, cfg.DatabaseURL)
}

func TestFromEnvProductionUsesAPIPath(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"TELEGRAM_TOKEN": "123:abc",
		"APP_ENV":        "Production",
		"PUBLIC_URL":     "https://repday.example/",
	}))
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "https://repday.example/api", cfg.APIBaseURL)
}

func TestFromEnvExplicitAPIURL(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{
		"TELEGRAM_TOKEN":       "123:abc",
		"REPDAY_API_URL":       "http://backend:8000/",
		"HTTP_TIMEOUT_SECONDS": "3",
		"BOT_DEBUG":            "true",
	}))
	require.NoError(t, err)

	assert.Equal(t, "http://backend:8000", cfg.APIBaseURL)
	assert.Equal(t, 3*time.Second, cfg.HTTPTimeout)
	assert.True(t, cfg.BotDebug)
}

func TestFromEnvIgnoresBadTimeout(t *testing.T) {
	cfg, err := FromEnv(env(map[string]string{"TELEGRAM_TOKEN": "t", "HTTP_TIMEOUT_SECONDS": "-4"}))
	require.NoError(t, err)
	assert.Equal(t, defaultTimeout, cfg.HTTPTimeout)
}

func TestFromEnvProductionNeedsAbsoluteURL(t *testing.T) {
	_, err := FromEnv(env(map[string]string{"TELEGRAM_TOKEN": "t", "APP_ENV": "production"}))
	assert.ErrorIs(t, err, ErrNoAPIURL)
}

func TestFromEnvWebhookNeedsSecret(t *testing.T) {
	_, err := FromEnv(env(map[string]string{
		"TELEGRAM_TOKEN": "123:abc",
		"WEBHOOK_URL":    "https://bot.example/telegram/webhook",
	}))
	assert.ErrorIs(t, err, ErrNoWebhookSecret)

	_, err = FromEnv(env(map[string]string{
		"TELEGRAM_TOKEN": "123:abc",
		"WEBHOOK_URL":    "https://bot.example/telegram/webhook",
		"WEBHOOK_SECRET": "not allowed!",
	}))
	assert.ErrorIs(t, err, ErrBadWebhookSecret)

	cfg, err := FromEnv(env(map[string]string{
		"TELEGRAM_TOKEN": "123:abc",
		"WEBHOOK_URL":    "https://bot.example/telegram/webhook",
		"WEBHOOK_SECRET": "s3cret_Token-1",
	}))
	require.NoError(t, err)
	assert.Equal(t, "s3cret_Token-1", cfg.WebhookSecret)
}
