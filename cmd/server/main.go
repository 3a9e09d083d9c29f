// Chipi - Spanish tutoring chat server
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

	"github.com/Jean-snt/ZAITH-CHIPI/internal/api"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/app"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/config"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/identity"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/middleware"
	"github.com/Jean-snt/ZAITH-CHIPI/internal/realtime"
	"github.com/Jean-snt/ZAITH-CHIPI/web"
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

	if cfg.IsDevelopment() {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		}))
		slog.SetDefault(logger)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	tutorApp, err := app.Build(ctx, cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize tutor", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := tutorApp.Close(); closeErr != nil {
			slog.Error("Failed to close dependencies", "error", closeErr)
		}
	}()
	slog.Info("Storage connected", "backend", cfg.StorageBackend)

	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	sm := realtime.NewSessionManager()

	// Initialize handlers.
	apiHandler := api.NewHandler(tutorApp.Service, api.Options{
		OracleProvider: cfg.Oracle.Provider,
		ExerciseFlow:   cfg.ExerciseFlow,
		MaxBodyBytes:   cfg.MaxRequestBody,
		Limiter:        limiter,
	})
	wsHandler := realtime.NewHandler(tutorApp.Service, sm, realtime.Options{
		Limiter:       limiter,
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
		TurnTimeout:   cfg.Oracle.TurnBudget(),
	})

	identityMiddleware := identity.Middleware(tutorApp.Repo, identity.Options{
		JWTSecret:      cfg.Auth.JWTSecret,
		AllowAnonymous: cfg.Auth.AllowAnonymous,
		IsDev:          cfg.IsDevelopment(),
	})

	allowedOrigins := []string{"*"}
	if cfg.FrontendURL != "" {
		allowedOrigins = []string{cfg.FrontendURL}
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins))

	// Identified routes.
	r.Group(func(r chi.Router) {
		r.Use(identityMiddleware)
		apiHandler.RegisterRoutes(r)
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// WebSocket connections are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

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
	sm.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return
	}

	slog.Info("Server stopped successfully")
}
