// Package bootstrap wires the shared application from config: engines,
// reducer, pipeline, optional Postgres store and the safety service.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"safety-proxy/api/internal/ai"
	"safety-proxy/api/internal/ai/gemini"
	"safety-proxy/api/internal/ai/openai"
	"safety-proxy/api/internal/config"
	"safety-proxy/api/internal/httpserver"
	"safety-proxy/api/internal/media"
	"safety-proxy/api/internal/metrics"
	"safety-proxy/api/internal/pipeline"
	"safety-proxy/api/internal/safety"
	"safety-proxy/api/internal/store"
)

const (
	retryBase     = 500 * time.Millisecond
	dbPingTimeout = 5 * time.Second
	purgeInterval = time.Hour
)

type App struct {
	Config  *config.Config
	Log     *slog.Logger
	Metrics *metrics.Metrics
	Service *safety.Service

	pool     *pgxpool.Pool
	analyses *store.AnalysisRepo
	closers  []func() error
}

// New builds the App. Engine clients are created once here and shared by
// every request.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	a := &App{Config: cfg, Log: logger, Metrics: metrics.New()}

	engines, err := a.buildEngines(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	reducer := media.NewReducer(limitsFrom(cfg), logger).WithRecorder(a.Metrics)
	pipe := pipeline.New(reducer, logger, pipeline.WithRecorder(a.Metrics))

	var opts []safety.Option
	if cfg.DatabaseURL != "" {
		pool, err := store.Open(ctx, cfg.DatabaseURL, dbPingTimeout)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("db: %w", err)
		}
		a.pool = pool
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := store.EnsureSchema(ctx, pool); err != nil {
			a.Close()
			return nil, err
		}
		a.analyses = store.NewAnalysisRepo(pool)
		opts = append(opts,
			safety.WithAnalysisCache(a.analyses, safety.DefaultCacheTTL),
			safety.WithAssessments(store.NewAssessmentRepo(pool)),
		)
		logger.Info("db connected", "db", store.Summary(cfg.DatabaseURL))
	} else {
		logger.Warn("DATABASE_URL is empty: analysis cache and assessment history are disabled")
	}

	a.Service = safety.New(pipe, engines, logger, opts...)
	logger.Info("engines ready", "engines", a.Service.EngineNames(), "default", engines.Default().Name())
	return a, nil
}

func (a *App) buildEngines(ctx context.Context) (*ai.Engines, error) {
	cfg := a.Config
	var gem, oai ai.Engine

	if cfg.GeminiAPIKey != "" {
		g, err := gemini.New(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, a.Log)
		if err != nil {
			return nil, fmt.Errorf("gemini: %w", err)
		}
		a.closers = append(a.closers, g.Close)
		gem = ai.WithRetry(g, cfg.AIRetryAttempts, retryBase, a.Log)
	}
	if cfg.OpenAIAPIKey != "" {
		var opts []openai.Option
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		o, err := openai.New(cfg.OpenAIAPIKey, cfg.OpenAIModel, a.Log, opts...)
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		oai = ai.WithRetry(o, cfg.AIRetryAttempts, retryBase, a.Log)
	}

	def, other := gem, oai
	wantOpenAI := cfg.DefaultEngine == "openai" || cfg.DefaultEngine == "gpt"
	if gem == nil || (wantOpenAI && oai != nil) {
		def, other = oai, gem
	}
	if def == nil {
		return nil, fmt.Errorf("%w: no engine has credentials", ai.ErrUnknownEngine)
	}
	return ai.NewEngines(def, other), nil
}

func limitsFrom(cfg *config.Config) media.Limits {
	l := media.DefaultLimits()
	l.CeilingBytes = cfg.MediaCeilingBytes
	l.MinWidth = cfg.MediaMinWidth
	l.MinHeight = cfg.MediaMinHeight
	return l
}

// Healthz pings the database when one is configured.
func (a *App) Healthz() http.HandlerFunc {
	if a.pool == nil {
		return httpserver.Healthz(nil)
	}
	return httpserver.Healthz(a.pool)
}

// RunJanitor purges cached photo analyses older than the cache TTL until ctx is done.
func (a *App) RunJanitor(ctx context.Context) {
	if a.analyses == nil {
		return
	}
	t := time.NewTicker(purgeInterval)
	defer t.Stop()
	for {
		n, err := a.analyses.PurgeOlderThan(ctx, safety.DefaultCacheTTL)
		switch {
		case err != nil && ctx.Err() == nil:
			a.Log.Warn("purge photo analyses failed", "err", err)
		case n > 0:
			a.Log.Info("purged photo analyses", "rows", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
}
