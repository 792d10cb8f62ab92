package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/attemptguard/internal/background"
	"github.com/BradenHooton/attemptguard/internal/config"
	"github.com/BradenHooton/attemptguard/internal/handlers"
	middlewareCustom "github.com/BradenHooton/attemptguard/internal/middleware"
	"github.com/BradenHooton/attemptguard/internal/models"
	"github.com/BradenHooton/attemptguard/internal/routes"
	"github.com/BradenHooton/attemptguard/internal/services"
	pkgauth "github.com/BradenHooton/attemptguard/pkg/auth"
	pkghttp "github.com/BradenHooton/attemptguard/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("store", cfg.Store.Driver))

	// Initialize attempt stores
	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	stores, err := openStores(startCtx, cfg, logger)
	startCancel()
	if err != nil {
		logger.Error("failed to open attempt store", slog.Any("error", err))
		os.Exit(1)
	}
	defer stores.close()

	// Initialize guards
	loginGuard, err := services.NewAttemptGuardService(stores.login, loginGuardConfig(cfg), logger)
	if err != nil {
		logger.Error("invalid login guard", slog.Any("error", err))
		os.Exit(1)
	}
	signUpGuard, err := services.NewAttemptGuardService(stores.signup, signUpGuardConfig(cfg), logger)
	if err != nil {
		logger.Error("invalid sign-up guard", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.Guard.Bypass {
		logger.Warn("attempt guards bypassed; every request is allowed")
	}
	if cfg.Guard.FailOpen {
		logger.Warn("attempt guards fail open when the store is unreachable")
	}

	// Initialize services and handlers
	accounts := services.NewAccountService(pkgauth.NewHasher(pkgauth.BcryptCost), logger)
	authHandler := handlers.NewAuthHandler(accounts, loginGuard, logger)
	adminHandler := handlers.NewAdminHandler(map[models.AttemptFamily]handlers.AttemptAdmin{
		models.FamilyLogin:  loginGuard,
		models.FamilySignUp: signUpGuard,
	})

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(map[string]background.StalePurger{
		string(models.FamilyLogin):  loginGuard,
		string(models.FamilySignUp): signUpGuard,
	}, logger, cfg.Guard.CleanupInterval, cfg.Guard.AttemptRetention)

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:  authHandler,
		AdminHandler: adminHandler,
		LoginGuard:   loginGuard,
		SignUpGuard:  signUpGuard,
		IPConfig:     ipConfig,
		FloodLimit:   middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Guard.FloodRequestsPerMinute},
		AdminToken:   cfg.Server.AdminToken,
		Logger:       logger,
		Health:       healthHandler(stores.health),
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		return
	}

	logger.Info("server stopped gracefully")
}

func loginGuardConfig(cfg *config.Config) services.AttemptGuardConfig {
	return services.AttemptGuardConfig{
		Family:        models.FamilyLogin,
		Threshold:     cfg.Guard.LoginThreshold,
		BaseTimeFrame: cfg.Guard.LoginBaseTimeFrame,
		IdentityField: cfg.Guard.LoginIdentityField,
		Bypass:        cfg.Guard.Bypass,
		FailOpen:      cfg.Guard.FailOpen,
	}
}

func signUpGuardConfig(cfg *config.Config) services.AttemptGuardConfig {
	return services.AttemptGuardConfig{
		Family:        models.FamilySignUp,
		Threshold:     cfg.Guard.SignUpThreshold,
		BaseTimeFrame: cfg.Guard.SignUpBaseTimeFrame,
		IdentityField: cfg.Guard.SignUpIdentityField,
		Bypass:        cfg.Guard.Bypass,
		FailOpen:      cfg.Guard.FailOpen,
	}
}

// healthHandler reports the attempt store's reachability
func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := check(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","store":"down"}`))
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","store":"up"}`))
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
