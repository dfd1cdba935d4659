package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/maldo/backend/internal/agents"
	"github.com/maldo/backend/internal/api"
	"github.com/maldo/backend/internal/config"
	"github.com/maldo/backend/internal/criteria"
	"github.com/maldo/backend/internal/database"
	"github.com/maldo/backend/internal/deals"
	"github.com/maldo/backend/internal/discovery"
	"github.com/maldo/backend/internal/infra"
	"github.com/maldo/backend/internal/metrics"
	"github.com/maldo/backend/internal/rating"
	"github.com/maldo/backend/internal/reputation"
	"github.com/maldo/backend/internal/vouching"
	"github.com/maldo/backend/internal/x402"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found")
	}

	cfg := config.Default()
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			slog.Error("failed to load config", "path", path, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.ApplyEnv()

	logger := newLogger(cfg.Server.Env)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := database.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		logger.Error("failed to open database", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	checks := map[string]api.HealthCheck{"database": store.Ping}

	// Redis is optional; without it reputation is computed on every read.
	var cache reputation.RedisClient
	if cfg.Redis.Addr != "" {
		redisAdapter, err := infra.NewGoRedisAdapter(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("redis unavailable, reputation cache disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			defer redisAdapter.Close()
			cache = redisAdapter
			checks["redis"] = redisAdapter.Ping
		}
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	src, inv := reputation.NewSource(reputation.SourceConfig{
		RemoteURL:             cfg.Reputation.RemoteURL,
		RemoteTimeout:         cfg.Reputation.RemoteTimeout,
		BreakerTimeout:        cfg.Reputation.BreakerTimeout,
		CacheTTL:              cfg.Redis.CacheTTL,
		ZeroDisputeMinReviews: cfg.Reputation.ZeroDisputeMinReviews,
	}, store, cache, m, logger)

	domain := vouching.Domain{
		Name:    cfg.Vouching.DomainName,
		Version: cfg.Vouching.DomainVersion,
		ChainID: cfg.Vouching.ChainID,
	}
	crit := criteria.NewService(store, src, m, logger)
	ranker := discovery.NewRanker(store, src, discovery.Options{
		Concurrency:  cfg.Discovery.Concurrency,
		DefaultLimit: cfg.Discovery.DefaultLimit,
	}, m, logger)
	dealSvc := deals.NewService(store, crit, m, logger)

	server := api.NewAPIServer(api.Services{
		Agents:     agents.NewService(store, logger),
		Ranker:     ranker,
		Reputation: src,
		Vouches:    vouching.NewLedger(store, store, src, vouching.NewEIP712Verifier(domain), m, logger),
		Ratings:    rating.NewService(store, inv, m, logger),
		Criteria:   crit,
		Deals:      dealSvc,
		X402: x402.NewService(ranker, store, dealSvc, store, x402.Options{
			Network: cfg.X402.Network,
			Asset:   cfg.X402.Asset,
		}, m, logger),
	}, api.Options{
		AllowedOrigins: allowedOrigins(),
		Checks:         checks,
		Logger:         logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(":" + cfg.Server.Port)
	}()

	logger.Info("Maldo API starting",
		"port", cfg.Server.Port,
		"env", cfg.Server.Env,
		"database", cfg.Database.Driver,
		"remote_reputation", cfg.Reputation.RemoteURL != "",
		"chain_id", domain.ChainID,
	)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logger.Info("received shutdown signal, shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}

	logger.Info("server stopped")
}

// newLogger emits JSON in deployed environments and text locally.
func newLogger(env string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if env == "development" {
		opts.Level = slog.LevelDebug
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// allowedOrigins reads CORS_ORIGINS as a comma separated list.
func allowedOrigins() []string {
	raw := os.Getenv("CORS_ORIGINS")
	if raw == "" {
		return nil
	}
	var out []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
