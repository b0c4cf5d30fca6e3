// grochat - Shared grocery chat with an AI shopping assistant
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
	"github.com/grochat/grochat/internal/ai"
	"github.com/grochat/grochat/internal/api"
	"github.com/grochat/grochat/internal/chat"
	"github.com/grochat/grochat/internal/config"
	"github.com/grochat/grochat/internal/identity"
	"github.com/grochat/grochat/internal/middleware"
	"github.com/grochat/grochat/internal/model"
	"github.com/grochat/grochat/internal/store"
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

	// Initialize services.
	registry := chat.NewRegistry()
	dispatcher := chat.NewDispatcher(registry)

	llm := ai.NewClient(cfg.LLM)
	orchestrator := ai.NewOrchestrator(llm, repo, dispatcher, cfg.LLM.Timeout, cfg.HistoryWindow)
	slog.Info("Generation pipeline initialized", "base_url", cfg.LLM.BaseURL, "default_model", cfg.LLM.Model)

	tracker := model.NewTracker(&model.OllamaPuller{
		Binary: cfg.Download.OllamaBinary,
		Model:  cfg.Download.Model,
	})

	// Initialize handlers.
	roomsHandler := api.NewRoomsHandler(repo, dispatcher, orchestrator)
	modelsHandler := api.NewModelsHandler(repo, cfg.LLM.Model)
	downloadHandler := model.NewHandler(tracker)
	wsHandler := chat.NewWebSocketHandler(repo, registry, dispatcher, orchestrator, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	// All routes use identity middleware (no auth needed).
	roomsHandler.RegisterRoutes(r)
	modelsHandler.RegisterRoutes(r)
	downloadHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// Create server. WriteTimeout stays 0 so long-lived WebSocket
	// connections are not cut off.
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
