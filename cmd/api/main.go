// Package main implements the Thrifter API server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/WessleyAI/thrifter/pkg/config"
	"github.com/WessleyAI/thrifter/pkg/metrics"
	"github.com/WessleyAI/thrifter/pkg/mid"
	"github.com/WessleyAI/thrifter/pkg/resilience"
)

func main() {
	path := os.Getenv("THRIFTER_CONFIG")
	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()
	stopRuntime := reg.CollectRuntime("thrifter", 15*time.Second)
	defer stopRuntime()

	a, err := build(ctx, cfg, reg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	handler := mid.Chain(newServer(a, cfg.Server.MaxUploadBytes, logger).routes(),
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.CORS(cfg.Server.CORSOrigin),
		mid.RateLimit(resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.Server.RateLimit, Burst: cfg.Server.RateBurst})),
		mid.OTel("thrifter-api"),
	)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
