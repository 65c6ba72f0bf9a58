package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"safety-proxy/api/internal/bootstrap"
	"safety-proxy/api/internal/config"
	"safety-proxy/api/internal/handle"
	"safety-proxy/api/internal/httpserver"
	"safety-proxy/api/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "safety-proxy:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
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

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", app.Healthz())
	mux.Handle("GET /metrics", app.Metrics.Handler())
	handle.New(app.Service, cfg.RequestTimeout, logger).Register(mux)

	return httpserver.Serve(ctx, ":"+cfg.Port, mux, logger)
}
