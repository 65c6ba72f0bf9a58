package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"safety-proxy/api/internal/bootstrap"
	"safety-proxy/api/internal/config"
	"safety-proxy/api/internal/httpserver"
	"safety-proxy/api/internal/logging"
	"safety-proxy/api/internal/telegram"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "bot:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.RequireTelegram(); err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()
	go app.RunJanitor(ctx)

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	bot.Debug = false
	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	router := telegram.New(bot, app.Service, cfg.RequestTimeout, logger)
	dispatch := func(upd tgbotapi.Update) { go router.HandleUpdate(ctx, upd) }

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", app.Healthz())
	mux.Handle("GET /metrics", app.Metrics.Handler())

	addr := "0.0.0.0:" + cfg.Port

	// --- Webhook vs Polling ---
	if webhookURL := strings.TrimSpace(cfg.WebhookURL); webhookURL != "" {
		path := "/webhook/" + shortHash(cfg.TelegramBotToken)
		wh, err := tgbotapi.NewWebhook(strings.TrimRight(webhookURL, "/") + path)
		if err != nil {
			return fmt.Errorf("webhook: %w", err)
		}
		wh.DropPendingUpdates = true
		if _, err := bot.Request(wh); err != nil {
			return fmt.Errorf("set webhook: %w", err)
		}
		mux.HandleFunc("POST "+path, webhookHandler(dispatch, logger))
		logger.Info("webhook mode", "path", path)
		return httpserver.Serve(ctx, addr, mux, logger)
	}

	// polling: webhook must be removed or getUpdates is rejected
	if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		logger.Warn("delete webhook failed", "err", err)
	}
	go func() {
		if err := httpserver.Serve(ctx, addr, mux, logger); err != nil {
			logger.Error("health server failed", "err", err)
		}
	}()
	logger.Info("polling mode")
	runPolling(ctx, bot, dispatch, logger)
	return nil
}
