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

	"github.com/ashureev/gene-chat/internal/api"
	"github.com/ashureev/gene-chat/internal/chat"
	"github.com/ashureev/gene-chat/internal/config"
	"github.com/ashureev/gene-chat/internal/identity"
	"github.com/ashureev/gene-chat/internal/middleware"
	"github.com/ashureev/gene-chat/internal/session"
	"github.com/ashureev/gene-chat/internal/store"
	"github.com/ashureev/gene-chat/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, WebSocket and web UI server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				slog.Error("Failed to load configuration", "error", err)
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// serverDeps is everything the router needs.
type serverDeps struct {
	cfg          *config.Config
	repo         store.Repository
	reg          *chat.Registry
	svc          *chat.Service
	limiter      *chat.RateLimiter
	providerName string
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "provider", cfg.Provider.Kind)

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		return err
	}
	slog.Info("Database connected")

	p, providerName, closeProvider, err := newProvider(cfg.Provider, logger)
	if err != nil {
		slog.Error("Failed to initialize completion provider", "error", err)
		return err
	}
	defer closeProvider()

	convLog, err := chat.NewConversationLogger(chat.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		return err
	}
	defer func() {
		if closeErr := convLog.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	svc, err := chat.NewService(p, chat.ServiceConfig{
		ProviderName: providerName,
		Window:       cfg.MemoryWindow,
		Logger:       logger,
		Log:          convLog,
	})
	if err != nil {
		return err
	}

	model := session.Model(cfg.DefaultModel)
	reg := chat.NewRegistry(func() *session.State {
		return session.New(session.WithModel(model))
	})
	limiter := chat.NewRateLimiter(ctx, cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)

	chat.StartSweeper(ctx, reg, cfg.SessionTTL, cfg.SweepInterval, func(e *chat.Entry) {
		convLog.Release(e.UserID, e.SessionID)
	})

	if cfg.GrpcHealthAddr != "" {
		hs, err := api.NewGrpcHealthServer(cfg.GrpcHealthAddr, "gene.chat")
		if err != nil {
			slog.Error("Failed to start gRPC health server", "error", err)
			return err
		}
		defer hs.Stop()
		go func() {
			if err := hs.Serve(); err != nil {
				slog.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	// No WriteTimeout: WebSocket connections are long-lived.
	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: newRouter(serverDeps{
			cfg:          cfg,
			repo:         repo,
			reg:          reg,
			svc:          svc,
			limiter:      limiter,
			providerName: providerName,
		}),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			slog.Error("Server failed", "error", err)
			return err
		}
	case <-ctx.Done():
	}

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return fmt.Errorf("shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}

func newRouter(d serverDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(middleware.Origins(d.cfg.FrontendURL)))
	r.Use(identity.Middleware(d.repo, d.cfg.IsDevelopment()))

	api.NewHealthHandler(d.repo, d.providerName).RegisterHealth(r)
	api.NewSessionHandler(d.reg, d.repo, d.svc.Window(), d.cfg.MaxRequestBody).RegisterRoutes(r)
	api.NewChatHandler(d.svc, d.reg, d.limiter, d.cfg.MaxRequestBody).RegisterRoutes(r)

	r.Get("/ws/chat", api.NewWebSocketHandler(d.svc, d.reg, d.limiter, d.cfg.FrontendURL, d.cfg.IsDevelopment()).ServeHTTP)

	r.Handle("/*", web.SPAHandler())
	return r
}
