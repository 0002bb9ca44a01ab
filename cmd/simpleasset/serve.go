package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-asset/pkg/simpleasset/api"
	"github.com/tendant/simple-asset/pkg/simpleasset/config"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			var extra []config.Option
			if port != "" {
				extra = append(extra, config.WithPort(port))
			}
			cfg, err := ctx.load(extra...)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides SIMPLEASSET_PORT)")
	return cmd
}

func serve(parent context.Context, cc *commandContext, cfg *config.ServerConfig) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := cc.logger(cfg)
	rt, err := cfg.BuildStore(ctx, logger)
	if err != nil {
		return fmt.Errorf("failed to build store: %w", err)
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Error("failed to release resources", "err", err)
		}
	}()

	reset, err := rt.Store.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover cache state: %w", err)
	}
	if reset > 0 {
		logger.Info("reset interrupted fetches", "count", reset)
	}

	if rt.Janitor != nil {
		rt.Janitor.Start(ctx)
		logger.Info("eviction janitor started", "schedule", cfg.EvictionSchedule, "target_free_bytes", cfg.EvictionTargetFreeBytes)
	}

	handler := api.NewHandler(rt.Store, api.WithLogger(logger), api.WithEnvironment(cfg.Environment))
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           routes(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("simple asset server starting",
			"port", cfg.Port,
			"env", cfg.Environment,
			"database", cfg.DatabaseType,
			"storage", cfg.Storage.Type,
			"providers", rt.Store.Uploaders().Providers(),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if rt.Janitor != nil {
		rt.Janitor.Stop()
	}
	logger.Info("server exiting")
	return nil
}

// routes wraps the API handler with the standard middleware stack. No request
// timeout: the store applies its own fetch and upload deadlines.
func routes(h *api.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Mount("/", h.Routes())
	return r
}
