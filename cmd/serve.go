package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/spyglass/internal/action"
	"github.com/xkilldash9x/spyglass/internal/browser"
	"github.com/xkilldash9x/spyglass/internal/observability"
	"github.com/xkilldash9x/spyglass/internal/server"
	"github.com/xkilldash9x/spyglass/internal/session"
	"github.com/xkilldash9x/spyglass/internal/store"
	"github.com/xkilldash9x/spyglass/internal/viewport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the browse-by-screenshot HTTP service.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	cfg := loadedCfg
	logger := observability.GetLogger()
	defer observability.Sync()

	backend := browser.NewChromeBackend(ctx, logger, cfg.Browser)
	sessions := session.NewManager(logger, cfg, backend)
	engine := action.NewEngine(logger, cfg.Session, cfg.Capture)

	// The interaction log is optional; the service runs fine without Postgres.
	var recorder server.Recorder
	var dbPool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("failed to create database connection pool: %w", err)
		}
		dbPool = pool

		dbStore, err := store.New(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return fmt.Errorf("failed to initialize interaction store: %w", err)
		}
		recorder = dbStore
		logger.Info("Interaction log enabled")
	}
	defer func() {
		if dbPool != nil {
			dbPool.Close()
		}
	}()

	defaults := viewport.Size{Width: cfg.Session.ViewportWidth, Height: cfg.Session.ViewportHeight}
	srv := server.New(logger, sessions, engine, recorder, defaults)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Session shutdown incomplete", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}
