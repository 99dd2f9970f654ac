package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sentinel-automod/internal/analytics"
	"sentinel-automod/internal/bot"
	"sentinel-automod/internal/config"
	"sentinel-automod/internal/modules/audit"
	"sentinel-automod/internal/modules/punish"
	"sentinel-automod/internal/ratelimit"
	"sentinel-automod/internal/storage"

	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const retentionInterval = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, level, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	limiter, limiterCloser, err := openLimiter(cfg, logger)
	if err != nil {
		logger.Fatal("rate limiter init failed", zap.String("backend", cfg.RateLimit.Backend), zap.Error(err))
	}
	logger.Info("rate limiter ready", zap.String("backend", cfg.RateLimit.Backend))

	auditLogger := audit.NewLogger(store, logger.Named("audit"))
	analyticsEngine := analytics.New(store)

	botSvc, err := bot.New(cfg, logger, store, limiter, auditLogger, analyticsEngine)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	go config.Watch(ctx, config.Path(), logger, 0, func(next config.Config) {
		level.SetLevel(config.ParseLevel(next.LogLevel))
		botSvc.ApplyConfig(next)
	})
	go cleanupAuditLogs(ctx, store, cfg.RetentionDays, logger)

	var server *http.Server
	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := botSvc.Ping(pingCtx); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		server = &http.Server{Addr: cfg.Health.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var closeErr error
	if server != nil {
		closeErr = multierr.Append(closeErr, server.Shutdown(shutdownCtx))
	}
	closeErr = multierr.Append(closeErr, botSvc.Close(shutdownCtx))
	if limiterCloser != nil {
		closeErr = multierr.Append(closeErr, limiterCloser.Close())
	}
	if closeErr != nil {
		logger.Warn("shutdown finished with errors", zap.Error(closeErr))
	}
}

// openLimiter builds the configured counter backend. The closer is nil for the
// in-process backend.
func openLimiter(cfg config.Config, logger *zap.Logger) (ratelimit.Limiter, io.Closer, error) {
	switch cfg.RateLimit.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr, Password: cfg.RateLimit.RedisPassword, DB: cfg.RateLimit.RedisDB})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return ratelimit.NewRedis(client), client, nil
	case "badger":
		limiter, err := ratelimit.OpenBadger(cfg.RateLimit.BadgerPath, logger.Named("badger"))
		if err != nil {
			return nil, nil, err
		}
		return limiter, limiter, nil
	default:
		return ratelimit.NewMemory(cfg.RateLimit.CacheSize, limiterTTL(cfg.Automod)), nil, nil
	}
}

// limiterTTL is the longest window any counter uses. The timeout cooldown
// lives as long as the guild's timeout, which can reach the platform cap.
func limiterTTL(cfg config.AutomodConfig) time.Duration {
	ttl := punish.MaxTimeout
	for _, d := range []time.Duration{
		time.Duration(cfg.SlowmodeRevertMinutes) * time.Minute,
		time.Duration(cfg.DefaultTimeoutSeconds) * time.Second,
		time.Duration(cfg.SpamTimeoutSeconds) * time.Second,
		time.Duration(cfg.SpamWindowSeconds) * time.Second,
		time.Duration(cfg.ImageWindowSeconds) * time.Second,
		time.Duration(cfg.GuildBurstWindowSeconds) * time.Second,
	} {
		if d > ttl {
			ttl = d
		}
	}
	return ttl
}

func cleanupAuditLogs(ctx context.Context, store *storage.Store, retentionDays int, logger *zap.Logger) {
	if retentionDays <= 0 {
		return
	}
	ticker := time.NewTicker(retentionInterval)
	defer ticker.Stop()
	for {
		n, err := store.CleanupAuditLogs(ctx, retentionDays)
		if err != nil {
			logger.Warn("audit log cleanup failed", zap.Error(err))
		} else if n > 0 {
			logger.Info("audit logs cleaned", zap.Int64("deleted", n), zap.Int("retention_days", retentionDays))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
