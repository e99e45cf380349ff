// Command api serves the escrow and wallet HTTP API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/solven/escrow/internal/config"
	"github.com/solven/escrow/internal/infra"
	"github.com/solven/escrow/internal/logging"
	"github.com/solven/escrow/internal/server"
)

// Build info, set by ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting", "app", cfg.AppName, "env", cfg.AppEnv, "version", Version, "commit", Commit)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	// Without DATABASE_URL / REDIS_URL (dev only) the server runs on the
	// in-memory stores.
	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL, infra.PoolOptions{
			MaxConns:        cfg.DBMaxConns,
			MaxConnLifetime: 30 * time.Minute,
		})
		if err != nil {
			return err
		}
		defer pool.Close()
		db = pool

		if cfg.RunMigrations {
			if err := infra.MigrateUp(ctx, db, logger); err != nil {
				return err
			}
		}
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		client, err := infra.NewRedisClient(ctx, cfg.RedisURL, infra.RedisOptions{ReadTimeout: 2 * time.Second})
		if err != nil {
			return err
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
		cache = client
	}

	srv, err := server.New(cfg, db, cache, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}
	return srv.Run(ctx)
}
