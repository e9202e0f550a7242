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

	"github.com/CrowderSoup/kanban-board/config"
	"github.com/CrowderSoup/kanban-board/database"
	"github.com/CrowderSoup/kanban-board/handlers"
	"github.com/CrowderSoup/kanban-board/logging"
	"github.com/CrowderSoup/kanban-board/services"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from .env, an optional YAML file and the environment
	cfg, err := config.Load(".env", os.Getenv("KANBAN_CONFIG"))
	if err != nil {
		return err
	}
	logging.Init(cfg.LogLevel, os.Stderr)

	if cfg.UsesDefaultSecret() {
		slog.Warn("using the default JWT secret, set KANBAN_AUTH_JWT_SECRET in production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	store, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	// Initialize WebSocket hub
	hub := services.NewHub()
	go hub.Run(ctx)

	// Postgres deployments relay changes through LISTEN/NOTIFY so every
	// server instance sees them; a single SQLite server publishes directly.
	publisher := services.StartPublisher(ctx, store, cfg.Database.DSN, hub)

	// Initialize services
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.MagicLinkTTL, services.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
	if !cfg.SMTPEnabled() {
		slog.Info("SMTP not configured, magic links are not mailed")
	}
	boardService := services.NewBoardService(store, publisher, cfg.Trash.Retention)
	profileService := services.NewProfileService(store, publisher)

	purger := services.NewTrashPurger(store, publisher, cfg.Trash.PurgeInterval)
	go purger.Run(ctx)

	router := handlers.NewRouter(handlers.Dependencies{
		Store:           store,
		Auth:            authService,
		Board:           boardService,
		Profiles:        profileService,
		Hub:             hub,
		BaseURL:         cfg.BaseURL,
		ExposeMagicLink: cfg.Auth.ExposeMagicLink,
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		StaticDir:       cfg.StaticDir,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handlers.WithCORS(router, cfg.CORS.AllowedOrigins),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Port, "driver", store.Driver())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
