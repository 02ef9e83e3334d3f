// DesignHaus - packaging design studio server
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

	"github.com/ashureev/designhaus/internal/api"
	"github.com/ashureev/designhaus/internal/assets"
	"github.com/ashureev/designhaus/internal/config"
	"github.com/ashureev/designhaus/internal/generator"
	"github.com/ashureev/designhaus/internal/identity"
	"github.com/ashureev/designhaus/internal/middleware"
	"github.com/ashureev/designhaus/internal/notify"
	"github.com/ashureev/designhaus/internal/realtime"
	"github.com/ashureev/designhaus/internal/store"
	"github.com/ashureev/designhaus/internal/studio"
	"github.com/ashureev/designhaus/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "backend", cfg.BackendMode())

	// Persistence.
	local, err := openLocal(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize local storage", "error", err)
		os.Exit(1)
	}

	var remote store.Store
	var pg *store.PostgresStore
	var remoteErr error
	if cfg.BackendMode() == store.ModeRemote {
		pg, remoteErr = openRemote(cfg, logger)
		if pg != nil {
			remote = pg
		} else {
			slog.Error("Failed to configure remote backend, using local storage", "error", remoteErr)
		}
	}

	selector := store.NewSelector(remote, local, logger)
	defer func() {
		if closeErr := selector.Close(); closeErr != nil {
			slog.Error("Failed to close storage", "error", closeErr)
		}
	}()

	if remote != nil {
		if remoteErr == nil {
			pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			remoteErr = pg.Ping(pingCtx)
			cancel()
		}
		if remoteErr != nil {
			selector.ReportFailure(remoteErr)
		} else {
			slog.Info("Remote database connected")
		}
	}
	slog.Info("Storage ready", "mode", selector.Mode())

	// Design generation.
	var providers generator.Chain
	if cfg.HasOpenAI() {
		providers = append(providers, generator.NewOpenAI(generator.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Logger:  logger,
		}))
		slog.Info("OpenAI image provider enabled")
	}
	providers = append(providers, generator.NewThemed())

	// Asset relocation. Only set remoteRelocator when configured so a nil
	// interface selects inline relocation.
	var remoteRelocator assets.Relocator
	if cfg.HasSupabase() {
		bucket, err := assets.NewSupabaseBucket(cfg.SupabaseURL, cfg.SupabaseAPIKey, cfg.SupabaseBucket)
		if err != nil {
			slog.Warn("Supabase storage unavailable, designs will be stored inline", "error", err)
		} else {
			remoteRelocator = assets.NewSupabaseRelocator(bucket, nil)
			slog.Info("Supabase asset storage enabled", "bucket", cfg.SupabaseBucket)
		}
	}
	relocator := assets.NewModeRelocator(selector, remoteRelocator, assets.InlineRelocator{})

	// Admin notifications.
	var notifier notify.Notifier = notify.Nop{}
	if !config.IsPlaceholder(cfg.TelegramBotToken) {
		tg, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramAdminChatID, logger)
		if err != nil {
			slog.Warn("Telegram notifier disabled", "error", err)
		} else {
			notifier = tg
			slog.Info("Telegram admin notifications enabled")
		}
	}

	svc := studio.NewService(selector, providers, relocator, notifier, studio.Options{
		ProposalPrice:     cfg.ProposalPrice,
		GenerationTimeout: cfg.GenerationTimeout,
		Logger:            logger,
	})

	// Handlers.
	limiter := middleware.NewRateLimiter(cfg.MessageRateLimit, cfg.MessageRateWindow)
	defer limiter.Stop()

	adminAuth := identity.NewAdminAuth(cfg.AdminPassphrase, cfg.IsDevelopment())
	if !cfg.AdminEnabled() {
		slog.Warn("ADMIN_PASSPHRASE not set, admin dashboard is locked")
	}

	registry := realtime.NewRegistry()
	baseHandler := api.NewHandler(selector, svc, selector, adminAuth, cfg.IsDevelopment())
	healthHandler := api.NewHealthHandler(selector, selector, api.Features{
		Admin:         cfg.AdminEnabled(),
		OpenAI:        cfg.HasOpenAI(),
		DurableAssets: remoteRelocator != nil,
		Notifications: !config.IsPlaceholder(cfg.TelegramBotToken),
		ProposalPrice: cfg.ProposalPrice,
	})
	customerHandler := api.NewCustomerHandler(baseHandler, limiter)
	adminHandler := api.NewAdminHandler(baseHandler, realtime.NewSessionListStream(selector, 0))
	wsHandler := realtime.NewWebSocketHandler(selector, registry, selector, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	// Public routes.
	healthHandler.RegisterHealth(r)
	adminHandler.RegisterRoutes(r)
	r.With(adminAuth.Require).Get("/ws/admin/sessions/{id}", wsHandler.ServeAdmin)

	// Customer routes. Sessions are only created by GET /api/session.
	customerHandler.RegisterRoutes(r)
	r.With(identity.RequireSession(selector, cfg.IsDevelopment())).Get("/ws/session", wsHandler.ServeCustomer)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// SSE and WebSocket streams are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	registry.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	svc.Wait()

	slog.Info("Server stopped successfully")
}

// openLocal opens the local document store: SQLite when a path is set,
// otherwise process memory.
func openLocal(cfg *config.Config, logger *slog.Logger) (*store.LocalStore, error) {
	opts := cfg.LocalOptions()
	opts.Logger = logger

	if cfg.LocalDBPath == "" {
		slog.Warn("LOCAL_DB_PATH empty, local storage will not survive restarts")
		return store.NewLocal(store.NewMemoryMedium(), opts), nil
	}

	medium, err := store.NewSQLiteMedium(cfg.LocalDBPath, logger)
	if err != nil {
		return nil, err
	}
	slog.Info("Local storage opened", "path", cfg.LocalDBPath)
	return store.NewLocal(medium, opts), nil
}

// openRemote connects the Postgres backend and applies migrations. The store
// is returned even when migrations fail so the caller can start in fallback.
func openRemote(cfg *config.Config, logger *slog.Logger) (*store.PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL, store.PostgresOptions{
		InlineLimitBytes: cfg.RemoteInlineLimitBytes,
		Logger:           logger,
	})
	if err != nil {
		return nil, err
	}

	if err := store.RunMigrations(cfg.DatabaseURL, store.MigrationsFS()); err != nil {
		return pg, fmt.Errorf("migrate remote schema: %w", err)
	}
	slog.Info("Database migrations applied")
	return pg, nil
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
