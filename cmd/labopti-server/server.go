package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/labopti/labopti/internal/config"
	"github.com/labopti/labopti/internal/domain/guideline"
	"github.com/labopti/labopti/internal/domain/patient"
	"github.com/labopti/labopti/internal/domain/recommendation"
	"github.com/labopti/labopti/internal/platform/auth"
	"github.com/labopti/labopti/internal/platform/cache"
	"github.com/labopti/labopti/internal/platform/db"
	"github.com/labopti/labopti/internal/platform/llm"
	"github.com/labopti/labopti/internal/platform/middleware"
	"github.com/labopti/labopti/internal/platform/telemetry"
)

const shutdownTimeout = 10 * time.Second

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newLogger(cfg *config.Config) zerolog.Logger {
	zerolog.SetGlobalLevel(cfg.Level())
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// buildExplainer returns the LLM-backed explainer when LLM_URL is set and the
// deterministic template otherwise. The returned func releases the cache.
func buildExplainer(ctx context.Context, cfg *config.Config, store *guideline.Store, logger zerolog.Logger) (recommendation.Explainer, func(), error) {
	if cfg.LLMURL == "" {
		logger.Info().Msg("LLM_URL not set, using template narratives")
		return llm.NewTemplate(store), func() {}, nil
	}

	var (
		narrativeCache cache.Store
		closeCache     = func() {}
	)
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect narrative cache: %w", err)
		}
		narrativeCache = rc
		closeCache = func() { _ = rc.Close() }
		logger.Info().Msg("narrative cache: redis")
	} else {
		mem := cache.NewMemory()
		mem.StartCleanup(ctx, time.Minute)
		narrativeCache = mem
		logger.Info().Msg("narrative cache: in-memory")
	}

	client, err := llm.NewClient(llm.Config{
		URL:         cfg.LLMURL,
		Model:       cfg.LLMModel,
		APIKey:      cfg.LLMAPIKey,
		Temperature: cfg.LLMTemperature,
		Cache:       narrativeCache,
		CacheTTL:    cfg.NarrativeCacheTTL,
		Logger:      logger.With().Str("component", "llm").Logger(),
	}, store)
	if err != nil {
		closeCache()
		return nil, nil, err
	}
	return client, closeCache, nil
}

type serverDeps struct {
	Logger     zerolog.Logger
	Guidelines *guideline.Store
	Patients   *patient.Service
	Pool       *pgxpool.Pool
	Registry   *prometheus.Registry
	Telemetry  *telemetry.Provider
}

// newEcho assembles the middleware chain and routes. ctx bounds background
// work started by middleware.
func newEcho(ctx context.Context, cfg *config.Config, deps serverDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(deps.Logger))
	e.Use(middleware.RequestID())
	if deps.Telemetry != nil {
		e.Use(deps.Telemetry.Middleware())
	}
	e.Use(middleware.Logger(deps.Logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit("1M", "10M"))

	if cfg.AuthSigningKey != "" {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
			Skipper:    auth.AuthSkipper,
		}))
	} else {
		deps.Logger.Warn().Msg("AUTH_SIGNING_KEY not set, using development auth")
		e.Use(auth.DevAuthMiddleware())
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Pool != nil {
		e.GET("/health/db", db.HealthHandler(deps.Pool))
	}
	if deps.Registry != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	api := e.Group("/api/v1", middleware.RateLimit(ctx, rl), middleware.RequestTimeout(cfg.RequestTimeout))

	guideline.NewHandler(deps.Guidelines).RegisterRoutes(api.Group("", middleware.ETagMiddleware(middleware.DefaultCacheConfig())))
	if deps.Patients != nil {
		patient.NewHandler(deps.Patients).RegisterRoutes(api)
	}

	return e
}

func runServer(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return err
	}

	logger := newLogger(cfg)
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := guideline.Load(cfg.GuidelinesPath)
	if err != nil {
		return fmt.Errorf("load guidelines: %w", err)
	}
	logger.Info().
		Str("path", cfg.GuidelinesPath).
		Int("tests", len(store.TestNames())).
		Int("symptoms", len(store.Symptoms())).
		Msg("guidelines loaded")

	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if cfg.IsDev() {
		applied, err := db.NewEmbeddedMigrator(pool).Up(ctx)
		if err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
		if applied > 0 {
			logger.Info().Int("applied", applied).Msg("migrations applied")
		}
	}

	explainer, closeExplainer, err := buildExplainer(ctx, cfg, store, logger)
	if err != nil {
		return err
	}
	defer closeExplainer()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	tel := telemetry.NewProvider(reg, telemetry.Config{ServiceVersion: version, Environment: cfg.Env})
	tel.RegisterPoolStats(func() *db.PoolStats { return db.GetPoolStats(pool) })
	opts := recommendation.Options{
		NarrativeTimeout: cfg.NarrativeTimeout,
		Concurrency:      cfg.NarrativeConcurrency,
		Metrics:          recommendation.NewMetrics(reg),
		Logger:           logger.With().Str("component", "recommendation").Logger(),
	}

	repo := patient.NewRepo(pool)
	engine := recommendation.NewEngine(store, patient.NewHistory(repo), explainer, opts)
	classifier := recommendation.NewClassifier(explainer, opts)
	svc := patient.NewService(repo, pool, engine, classifier, logger.With().Str("component", "patient").Logger())

	e := newEcho(ctx, cfg, serverDeps{
		Logger:     logger,
		Guidelines: store,
		Patients:   svc,
		Pool:       pool,
		Registry:   reg,
		Telemetry:  tel,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
