package main

import (
	"context"
	"log"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"repday/internal/config"
	"repday/internal/handlers"
	"repday/internal/logger"
	"repday/internal/repository"
	"repday/internal/service"
	"repday/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	lg := logger.New(logger.Config{Verbose: cfg.LogVerbose})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Sessions and nudge timestamps
	var store repository.Store
	if cfg.DatabaseURL != "" {
		db, err := repository.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			lg.Fatalf("❌ Database connection error: %v", err)
		}
		defer db.Close()

		repo := repository.NewRepository(db)
		if err := repo.Migrate(ctx); err != nil {
			lg.Fatalf("❌ Migration error: %v", err)
		}
		store = repo
		lg.Println("✅ Connected to database")
	} else {
		store = repository.NewMemory()
		lg.Println("⚠️  DATABASE_URL not set, sessions are kept in memory")
	}

	// Initialize bot
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		lg.Fatalf("❌ Bot initialization error: %v", err)
	}
	bot.Debug = cfg.BotDebug
	lg.Printf("✅ Bot authorized as @%s", bot.Self.UserName)

	svc := service.NewService(store, service.Options{
		APIBaseURL:  cfg.APIBaseURL,
		BotToken:    cfg.TelegramToken,
		HTTPTimeout: cfg.HTTPTimeout,
		Logger:      lg,
	})
	handler := handlers.NewBotHandler(bot, svc, handlers.Options{
		BotUsername:      bot.Self.UserName,
		MiniAppShortName: cfg.MiniAppShortName,
		Logger:           lg,
	})
	lg.Printf("🔗 RepDay API: %s (%s)", cfg.APIBaseURL, cfg.Env)

	go handler.RunTicker(ctx, handlers.TickInterval)

	updates, err := receive(ctx, bot, cfg, lg)
	if err != nil {
		lg.Fatalf("❌ %v", err)
	}

	lg.Println("🚀 Bot is running...")

	// Handle updates
	for {
		select {
		case <-ctx.Done():
			lg.Println("👋 Shutting down")
			return
		case update := <-updates:
			handler.HandleUpdate(update)
		}
	}
}

// receive starts long polling, or the webhook server when WEBHOOK_URL is set.
func receive(ctx context.Context, bot *tgbotapi.BotAPI, cfg config.Config, lg *log.Logger) (<-chan tgbotapi.Update, error) {
	if cfg.WebhookURL == "" {
		if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			lg.Printf("⚠️ delete webhook: %v", err)
		}
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		u.AllowedUpdates = []string{"message", "callback_query"}
		return bot.GetUpdatesChan(u), nil
	}

	link, err := url.Parse(cfg.WebhookURL)
	if err != nil {
		return nil, err
	}
	if err := setWebhook(bot, cfg.WebhookURL, cfg.WebhookSecret); err != nil {
		return nil, err
	}

	updates := make(chan tgbotapi.Update, bot.Buffer)
	srv := webhook.New(cfg.WebhookAddr, link.Path, cfg.WebhookSecret, bot, updates, lg)
	go func() {
		if err := srv.Run(ctx); err != nil {
			lg.Fatalf("❌ webhook server: %v", err)
		}
	}()
	return updates, nil
}

// setWebhook registers the webhook with a secret_token, which WebhookConfig cannot carry.
func setWebhook(bot *tgbotapi.BotAPI, link, secret string) error {
	params := tgbotapi.Params{}
	params.AddNonEmpty("url", link)
	params.AddNonEmpty("secret_token", secret)
	if err := params.AddInterface("allowed_updates", []string{"message", "callback_query"}); err != nil {
		return err
	}
	_, err := bot.MakeRequest("setWebhook", params)
	return err
}
