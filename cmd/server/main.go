// Planforge - plan generation service
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

	"github.com/ashureev/planforge/internal/auth"
	"github.com/ashureev/planforge/internal/config"
	"github.com/ashureev/planforge/internal/planner"
	"github.com/ashureev/planforge/internal/server"
	"github.com/ashureev/planforge/internal/storage"
	"github.com/ashureev/planforge/internal/store"
	"github.com/joho/godotenv"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	docs, err := storage.New(cfg.DocumentDir, cfg.AuthSecret)
	if err != nil {
		slog.Error("Failed to initialize document storage", "error", err)
		os.Exit(1)
	}

	authn, err := auth.NewAuthenticator(cfg.AuthSecret)
	if err != nil {
		slog.Error("Failed to initialize authenticator", "error", err)
		os.Exit(1)
	}

	// Select the plan generator. Without an API key the scripted generator
	// keeps the full protocol usable locally.
	var gen planner.Generator
	if cfg.Anthropic.APIKey != "" {
		gen, err = planner.NewLLMGenerator(cfg.Anthropic.APIKey, cfg.Anthropic.Model, cfg.Anthropic.URL)
		if err != nil {
			slog.Error("Failed to initialize LLM generator", "error", err)
			os.Exit(1)
		}
		slog.Info("LLM plan generation enabled")
	} else {
		gen = planner.ScriptedGenerator{}
		slog.Info("LLM plan generation disabled (ANTHROPIC_API_KEY not set), using scripted generator")
	}

	transcripts, err := server.NewTranscriptLogger(cfg.TranscriptLog, logger)
	if err != nil {
		slog.Error("Failed to initialize transcript logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := transcripts.Close(); closeErr != nil {
			slog.Error("Failed to close transcript logger", "error", closeErr)
		}
	}()

	// Initialize handlers and router.
	handler := server.NewHandler(repo, docs, gen, cfg.BaseURL, transcripts)
	wsHandler := server.NewWSHandler(gen, cfg.MaxRounds, transcripts, cfg.FrontendURL, cfg.IsDevelopment())

	allowedOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		allowedOrigins = []string{cfg.FrontendURL}
	}
	r := server.NewRouter(handler, wsHandler, authn, allowedOrigins)

	// WebSocket sessions need long-lived connections, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
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
