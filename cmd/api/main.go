package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callbridge-backend/internal/callreq"
	"callbridge-backend/internal/config"
	"callbridge-backend/internal/feed"
	"callbridge-backend/internal/httpserver"
	"callbridge-backend/internal/logging"
	"callbridge-backend/internal/notify"
	"callbridge-backend/internal/storage"
	"callbridge-backend/internal/ws"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString("log init error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Info("starting", "httpAddr", cfg.HTTPAddr, "database", storage.RedactedDatabaseURL(cfg.DatabaseURL))

	store, err := storage.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}

	hub := feed.NewHub(logger)
	var coordinatorFeed callreq.Feed = hub
	if cfg.RedisAddr != "" {
		rdb, err := feed.OpenRedis(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Error("failed to connect redis", "error", err)
			os.Exit(1)
		}
		defer func() { _ = rdb.Close() }()

		fanout := feed.NewRedisFanout(logger, hub, rdb)
		go func() {
			if err := fanout.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("redis fanout stopped", "error", err)
			}
		}()
		coordinatorFeed = fanout
	}

	notifier := notify.New(logger, store, true)
	coordinator := callreq.NewCoordinator(logger, store, coordinatorFeed, notifier, cfg.CallRequestTimeoutSeconds)

	sweeper := callreq.NewSweeper(logger, coordinator, time.Duration(cfg.SweepIntervalSeconds)*time.Second)
	go sweeper.Run(ctx)

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := store.CleanExpiredTokens(ctx, time.Now().UnixMilli()); err != nil {
					logger.Warn("token cleanup failed", "error", err)
				} else if n > 0 {
					logger.Info("cleaned expired tokens", "count", n)
				}
			}
		}
	}()

	tokenValidator := &storeTokenValidator{store: store}
	wsManager := ws.NewManager(logger, tokenValidator)

	feedSub := hub.SubscribeAll()
	defer feedSub.Close()
	go wsManager.PumpEvents(ctx, feedSub.C)

	handler := httpserver.NewHandler(logger, store, coordinator, wsManager)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          logging.StdLogger(logger),
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("listening", "httpAddr", cfg.HTTPAddr)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			os.Exit(1)
		}
	}

	wsManager.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}

	if err := store.Close(); err != nil {
		logger.Error("db close error", "error", err)
	}

	logger.Info("stopped")
}

type storeTokenValidator struct {
	store *storage.Store
}

func (v *storeTokenValidator) ValidateToken(ctx context.Context, token string) (string, error) {
	nowMs := time.Now().UnixMilli()
	authToken, err := v.store.ValidateToken(ctx, token, nowMs)
	if err != nil {
		return "", err
	}
	return authToken.UserID, nil
}
