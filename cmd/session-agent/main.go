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

	"gatepass-agent/internal/authapi"
	"gatepass-agent/internal/config"
	"gatepass-agent/internal/handler"
	"gatepass-agent/internal/middleware"
	"gatepass-agent/internal/observability"
	"gatepass-agent/internal/session"
	"gatepass-agent/internal/store"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.Load()

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logFormat := os.Getenv("LOG_FORMAT")
	if logFormat == "" {
		logFormat = "json"
	}
	observability.InitLogger(logLevel, logFormat)

	slog.Info("starting session agent")

	kv, err := store.NewFileStore(cfg.CacheDir, cfg.CachePassphrase)
	if err != nil {
		slog.Error("failed to open session cache", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("session cache opened", slog.String("dir", cfg.CacheDir))

	api := authapi.NewClient(cfg.APIBaseURL)
	cache := session.NewCache(kv)
	manager := session.NewManager(api, cache, session.Policy{Margin: cfg.RefreshMargin})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bootCtx, bootCancel := context.WithTimeout(ctx, 30*time.Second)
	state := manager.Bootstrap(bootCtx)
	bootCancel()
	slog.Info("session bootstrap complete", slog.String("state", state.String()))

	go manager.RunPermissionSync(ctx, cfg.PermissionSyncInterval)
	slog.Info("permission sync task started",
		slog.Duration("interval", cfg.PermissionSyncInterval))

	agentHandler := handler.NewAgentHandler(manager)

	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Metrics())
	r.Use(middleware.OpenAPIValidator(middleware.DefaultOpenAPIValidatorConfig()))

	r.Get("/health", handler.Health(manager.InstanceID()))
	r.Get("/health/ready", handler.Ready(kv, manager))
	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})

	r.Route("/api/v1", func(r chi.Router) {
		credentialLimiter := middleware.NewRateLimiter(ctx, 1, 5)

		r.Get("/session", agentHandler.Session)
		r.Get("/token", agentHandler.Token)
		r.Post("/refresh", agentHandler.Refresh)
		r.Post("/company", agentHandler.SwitchCompany)
		r.Post("/logout", agentHandler.Logout)

		r.Group(func(r chi.Router) {
			r.Use(credentialLimiter.Middleware())
			r.Post("/login", agentHandler.Login)
			r.Post("/change-password", agentHandler.ChangePassword)
		})
	})

	srv := &http.Server{
		Addr:         "127.0.0.1:" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("agent API listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}
	slog.Info("stopped")
}
