package routes

import (
	"log/slog"
	"net/http"

	"github.com/BradenHooton/attemptguard/internal/auth"
	"github.com/BradenHooton/attemptguard/internal/handlers"
	"github.com/BradenHooton/attemptguard/internal/middleware"
	"github.com/BradenHooton/attemptguard/internal/services"
	pkghttp "github.com/BradenHooton/attemptguard/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Dependencies holds everything the routes are wired to
type Dependencies struct {
	AuthHandler  *handlers.AuthHandler
	AdminHandler *handlers.AdminHandler
	LoginGuard   *services.AttemptGuardService
	SignUpGuard  *services.AttemptGuardService
	IPConfig     *pkghttp.IPConfig
	FloodLimit   middleware.RateLimitConfig
	AdminToken   string
	Logger       *slog.Logger
	Health       http.HandlerFunc
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	router.Get("/health", deps.Health)

	// Guarded routes: flood limit first, then the attempt guard for the family
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByBucket(deps.FloodLimit, deps.IPConfig))

		r.With(middleware.AttemptGuard(deps.SignUpGuard, deps.IPConfig, deps.Logger)).
			Post("/auth/signup", deps.AuthHandler.SignUp)
		r.With(middleware.AttemptGuard(deps.LoginGuard, deps.IPConfig, deps.Logger)).
			Post("/auth/login", deps.AuthHandler.Login)
	})

	// Operator routes
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireAdminToken(deps.AdminToken))
		r.Get("/admin/attempts/{family}", deps.AdminHandler.ListAttempts)
		r.Delete("/admin/attempts/{family}", deps.AdminHandler.ResetAttempts)
	})
}
