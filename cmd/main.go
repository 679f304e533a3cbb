package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Brownster/email-ai-assistant/internal/api"
	"github.com/Brownster/email-ai-assistant/internal/app"
	"github.com/Brownster/email-ai-assistant/internal/cli"
	"github.com/Brownster/email-ai-assistant/internal/config"
	"github.com/Brownster/email-ai-assistant/internal/database"
	"github.com/Brownster/email-ai-assistant/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Error("failed to create data directory", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	db, err := database.Initialize(cfg.DatabasePath, logger)
	if err != nil {
		logger.Error("failed to initialize database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, db, logger)
	if err != nil {
		logger.Error("failed to initialize services", "error", err)
		os.Exit(1)
	}

	if len(os.Args) > 1 {
		stop()
		cli.Execute(a)
		return
	}

	if err := serve(ctx, a); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

// serve runs the HTTP server, and the fetch scheduler when auto_fetch is set,
// until ctx is cancelled
func serve(ctx context.Context, a *app.App) error {
	if !a.Log.Enabled(ctx, slog.LevelDebug) {
		gin.SetMode(gin.ReleaseMode)
	}

	router, authManager, err := api.SetupRouter(a)
	if err != nil {
		return fmt.Errorf("setup router: %w", err)
	}

	if a.Config.AutoFetch {
		a.Scheduler.Start()
		defer a.Scheduler.Stop()
	}

	server := &http.Server{
		Addr:        ":" + a.Config.APIPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// fetch and send requests wait on providers
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		a.Log.Info("starting server",
			"address", server.Addr,
			"data_dir", a.Config.DataDir,
			"database", a.Config.DatabasePath,
			"auto_fetch", a.Config.AutoFetch,
		)
		a.Log.Info("api key", "key", authManager.APIKeyManager.GetCurrentKey())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.Log.Info("shutting down")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	a.Log.Info("shutdown completed")
	return nil
}
