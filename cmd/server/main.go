package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/grachmannico95/dues-ledger/internal/app"
	"github.com/grachmannico95/dues-ledger/internal/config"
	"github.com/grachmannico95/dues-ledger/pkg/logger"
)

func main() {
	cfg := config.Load()

	log := logger.New(cfg.Logging.Level)
	defer log.Sync()

	ctx := context.Background()
	log.Info(ctx, "Starting application")

	if err := cfg.Validate(); err != nil {
		log.Fatal(ctx, "Invalid configuration",
			"error", err.Error(),
		)
	}

	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatal(ctx, "Failed to initialize application",
			"error", err.Error(),
		)
	}
	log.Info(ctx, "Components initialized",
		"storage", cfg.Storage.Driver,
		"redis", cfg.Redis.Enabled(),
		"erp_export", cfg.Ledger.ERPExportDir != "",
	)

	if err := a.Start(ctx); err != nil {
		log.Fatal(ctx, "Failed to start background workers",
			"error", err.Error(),
		)
	}

	srv := a.Server()

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal(ctx, "Failed to start HTTP server",
				"error", err.Error(),
			)
		}
	}()

	log.Info(ctx, "Application started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info(ctx, "Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop taking requests before the scheduler and event bus drain.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "HTTP server shutdown error",
			"error", err.Error(),
		)
	}

	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "Application shutdown error",
			"error", err.Error(),
		)
	}

	log.Info(ctx, "Application stopped gracefully")
}
