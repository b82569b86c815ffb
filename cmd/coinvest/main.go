package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"coinvest/internal/backend"
	"coinvest/internal/cli"
	apphttp "coinvest/internal/http"
	applog "coinvest/internal/log"
	"coinvest/internal/services"
)

func main() {
	cfg, logger := cli.LoadAndValidateConfig(applog.ComponentApp)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	be, err := backend.NewFactory(logger).Create(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer func() {
		if err := be.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", applog.FieldError, err)
		}
	}()

	svc := services.NewSpendingService(be.Deps(), services.Options{
		NotifyTimeout:   cfg.NotifyTimeout,
		BulkConcurrency: cfg.BulkConcurrency,
		AnalyticsWindow: cfg.AnalyticsWindow(),
		Logger:          logger,
	})

	srv := apphttp.NewServer(":"+cfg.Port, svc, apphttp.Options{
		Logger:          logger,
		WritesPerMinute: cfg.WritesPerMinute,
		Ready:           be.Ready,
	})
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting coinvest server", "port", cfg.Port, "backend", cfg.DataBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", applog.FieldError, err)
	}
	st := be.Directory.Stats()
	logger.Info("Server stopped gracefully",
		"directory_cache_hits", st.Hits,
		"directory_cache_misses", st.Misses)
}
