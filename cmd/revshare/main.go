package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/radiusdt/revshare/internal/config"
	"github.com/radiusdt/revshare/internal/database"
	"github.com/radiusdt/revshare/internal/events"
	"github.com/radiusdt/revshare/internal/httpserver"
	"github.com/radiusdt/revshare/internal/metrics"
	"github.com/radiusdt/revshare/internal/middleware"
	"go.uber.org/zap"
)

func main() {
	issueToken := flag.String("issue-token", "", "print a bearer token for the given owner and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of an issued token")
	flag.Parse()

	// A missing .env file is fine; the environment wins either way.
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use logger yet
		panic("failed to load config: " + err.Error())
	}

	if *issueToken != "" {
		token, err := middleware.NewOwnerToken(cfg.Auth.JWTSecret, *issueToken, *tokenTTL)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	// Initialize logger
	logger, err := middleware.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("starting revshare",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	if cfg.IsProduction() && !cfg.Auth.Enabled {
		logger.Warn("auth is disabled; X-Owner-ID is trusted as sent")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL
	db, err := database.NewPostgresDB(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to connect to PostgreSQL", zap.Error(err))
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("failed to migrate schema", zap.Error(err))
	}

	deps := &httpserver.Dependencies{
		DB:      db,
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.NewMetrics(cfg.Metrics.Namespace),
	}

	// Redis backs the report cache; without it reports are cached in process.
	if cfg.Redis.Enabled {
		redis, err := database.NewRedisDB(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn("redis unavailable, using in-process cache", zap.Error(err))
		} else {
			defer redis.Close()
			deps.Redis = redis
		}
	}

	// ClickHouse serves pool click statistics when reachable.
	if cfg.ClickHouse.Enabled {
		ch, err := database.NewClickHouseDB(ctx, cfg.ClickHouse, logger)
		if err != nil {
			logger.Warn("clickhouse unavailable, reading pool stats from PostgreSQL", zap.Error(err))
		} else {
			defer ch.Close()
			deps.ClickHouse = ch
		}
	}

	server := httpserver.NewServer(deps)

	// Ledger updates from the ingestion pipeline invalidate cached reports.
	var consumer *events.Consumer
	if cfg.Kafka.Enabled {
		consumer, err = events.NewConsumer(cfg.Kafka, server.Service(), logger, deps.Metrics)
		if err != nil {
			logger.Fatal("failed to create ledger consumer", zap.Error(err))
		}
		if err := consumer.Start(ctx); err != nil {
			logger.Fatal("failed to start ledger consumer", zap.Error(err))
		}
	}

	// Apply middleware chain (order matters: outermost first)
	// Recovery -> Logging -> Auth -> RateLimit -> Handler
	recoveryMW := middleware.NewRecoveryMiddleware(logger)
	loggingMW := middleware.NewLoggingMiddleware(logger)
	authMW := middleware.NewAuthMiddleware(cfg.Auth, logger)
	rateLimitMW := middleware.NewRateLimitMiddleware(cfg.RateLimit, logger, deps.Metrics)

	finalHandler := recoveryMW.Handler(
		loggingMW.Handler(
			authMW.Handler(
				rateLimitMW.Handler(server),
			),
		),
	)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           finalHandler,
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       5 * time.Second,
		// reports over a full year can take a while on a cold cache
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// Start server in goroutine
	go func() {
		logger.Info("HTTP server starting", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Rate limiter cleanup and pool stats
	go func() {
		cleanup := time.NewTicker(1 * time.Hour)
		defer cleanup.Stop()
		stats := time.NewTicker(15 * time.Second)
		defer stats.Stop()
		for {
			select {
			case <-cleanup.C:
				rateLimitMW.CleanupClientLimiters()
			case <-stats.C:
				s := db.Stats()
				deps.Metrics.UpdateDBStats(int(s.IdleConns()), int(s.AcquiredConns()), int(s.TotalConns()))
			case <-ctx.Done():
				return
			}
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			logger.Error("failed to stop ledger consumer", zap.Error(err))
		}
	}

	// Cancel main context to stop background goroutines
	cancel()

	logger.Info("server stopped")
}
