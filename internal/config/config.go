package config

import (
	"errors"
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	devAPIURL      = "http://localhost:8000"
	prodAPIPath    = "/api"
	defaultTimeout = 15 * time.Second
)

var (
	ErrNoToken          = errors.New("TELEGRAM_TOKEN not set")
	ErrNoAPIURL         = errors.New("REPDAY_API_URL or PUBLIC_URL must be an absolute URL in production")
	ErrNoWebhookSecret  = errors.New("WEBHOOK_SECRET must be set when WEBHOOK_URL is")
	ErrBadWebhookSecret = errors.New("WEBHOOK_SECRET must be 1-256 characters of A-Z, a-z, 0-9, _ and -")
)

// Telegram's allowed alphabet for setWebhook secret_token.
var webhookSecretRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)

type Config struct {
	Env              string
	TelegramToken    string
	APIBaseURL       string
	HTTPTimeout      time.Duration
	DatabaseURL      string // empty keeps sessions in memory
	WebhookURL       string // empty selects long polling
	WebhookAddr      string
	WebhookSecret    string // sent back by Telegram in X-Telegram-Bot-Api-Secret-Token
	MiniAppShortName string
	BotDebug         bool
	LogVerbose       bool
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using system environment variables")
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		Env:              strings.ToLower(orDefault(getenv("APP_ENV"), EnvDevelopment)),
		TelegramToken:    strings.TrimSpace(getenv("TELEGRAM_TOKEN")),
		DatabaseURL:      getenv("DATABASE_URL"),
		WebhookURL:       strings.TrimSpace(getenv("WEBHOOK_URL")),
		WebhookAddr:      orDefault(getenv("WEBHOOK_LISTEN_ADDR"), ":8080"),
		WebhookSecret:    strings.TrimSpace(getenv("WEBHOOK_SECRET")),
		MiniAppShortName: strings.TrimSpace(getenv("MINI_APP_SHORT_NAME")),
		BotDebug:         parseBool(getenv("BOT_DEBUG")),
		LogVerbose:       parseBool(getenv("LOG_VERBOSE")),
		HTTPTimeout:      defaultTimeout,
	}
	if cfg.TelegramToken == "" {
		return Config{}, ErrNoToken
	}

	if cfg.WebhookURL != "" {
		if cfg.WebhookSecret == "" {
			return Config{}, ErrNoWebhookSecret
		}
		if !webhookSecretRe.MatchString(cfg.WebhookSecret) {
			return Config{}, ErrBadWebhookSecret
		}
	}

	if secs, err := strconv.Atoi(getenv("HTTP_TIMEOUT_SECONDS")); err == nil && secs > 0 {
		cfg.HTTPTimeout = time.Duration(secs) * time.Second
	}

	cfg.APIBaseURL = apiBaseURL(cfg.Env, getenv("REPDAY_API_URL"), getenv("PUBLIC_URL"))
	if !strings.HasPrefix(cfg.APIBaseURL, "http://") && !strings.HasPrefix(cfg.APIBaseURL, "https://") {
		return Config{}, ErrNoAPIURL
	}
	return cfg, nil
}

// IsProduction reports whether the production API base is in use.
func (c Config) IsProduction() bool {
	return c.Env == EnvProduction
}

func apiBaseURL(env, explicit, publicURL string) string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		if strings.HasPrefix(explicit, "/") && publicURL != "" {
			return strings.TrimRight(publicURL, "/") + explicit
		}
		return strings.TrimRight(explicit, "/")
	}
	if env == EnvProduction {
		return strings.TrimRight(publicURL, "/") + prodAPIPath
	}
	return devAPIURL
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func parseBool(value string) bool {
	b, err := strconv.ParseBool(value)
	return err == nil && b
}
