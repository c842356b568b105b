// pairgate - device pairing service for the messaging gateway
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

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/linklocal/pairgate/internal/api"
	"github.com/linklocal/pairgate/internal/blob"
	"github.com/linklocal/pairgate/internal/config"
	"github.com/linklocal/pairgate/internal/gateway"
	"github.com/linklocal/pairgate/internal/middleware"
	"github.com/linklocal/pairgate/internal/pairing"
	"github.com/linklocal/pairgate/internal/store"
	"github.com/linklocal/pairgate/web"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"gateway", cfg.GatewayURL,
		"relay", cfg.RelayEnabled,
		"single_session", cfg.SingleSession,
	)

	if err := os.MkdirAll(cfg.StorageDir, 0o700); err != nil {
		slog.Error("Failed to prepare session storage directory", "error", err)
		os.Exit(1)
	}

	// Initialize dependencies.
	registry := store.NewRegistry()
	cleaner := pairing.NewCleaner(registry)
	deadlines := pairing.NewDeadlineSupervisor(registry)
	gw := gateway.NewWebSocketClient(cfg.GatewayURL)

	orch := pairing.NewOrchestrator(registry, gw, deadlines, cleaner, cfg.StorageDir)
	orch.SetFallbackFlow(cfg.QRFlow())
	if cfg.RelayEnabled {
		orch.SetRelay(pairing.NewRelay(blob.NewUploader(cfg.BlobURL)))
		slog.Info("Credential relay enabled", "blob_url", cfg.BlobURL)
	}

	handler := api.NewHandler(orch, registry, cfg)

	// Setup router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	handler.RegisterRoutes(r)

	// Built-in pairing page.
	r.Handle("/*", web.Handler())

	// Pairing requests block until the credential is issued, so the write
	// timeout must outlast the longest flow deadline.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.CodeDeadline + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// In single-session deployments the process exits once the first
	// session completes - after cleanup and after the response was sent.
	// The state machine itself never terminates the process.
	if cfg.SingleSession {
		go func() {
			select {
			case id := <-orch.Completed():
				slog.Info("Pairing session completed, shutting down", "session_id", id)
				stop()
			case <-ctx.Done():
			}
		}()
	}

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
