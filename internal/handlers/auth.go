package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"

	"github.com/BradenHooton/attemptguard/internal/middleware"
	"github.com/BradenHooton/attemptguard/internal/models"
	"github.com/BradenHooton/attemptguard/internal/services"
	pkghttp "github.com/BradenHooton/attemptguard/pkg/http"
)

// AccountServiceInterface defines the credential checks behind the guarded routes
type AccountServiceInterface interface {
	Register(ctx context.Context, email, password string) (*services.AccountResponse, error)
	Authenticate(ctx context.Context, email, password string) (*services.AccountResponse, error)
}

// AttemptResetter clears an identity's attempt history after a confirmed success
type AttemptResetter interface {
	Reset(ctx context.Context, bucket, key, reason string) error
}

// AuthHandler handles the guarded sign-up and login requests
type AuthHandler struct {
	accounts   AccountServiceInterface
	loginGuard AttemptResetter
	logger     *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(accounts AccountServiceInterface, loginGuard AttemptResetter, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		accounts:   accounts,
		loginGuard: loginGuard,
		logger:     logger,
	}
}

// CredentialsRequest is the body of both sign-up and login
type CredentialsRequest struct {
	Email    string `json:"mail" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

const signUpAccepted = "Registration received. If the address is not already registered, the account is ready."

// SignUp handles POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	_, err := h.accounts.Register(r.Context(), req.Email, req.Password)
	switch {
	case err == nil, errors.Is(err, models.ErrConflict):
		// same response either way so sign-up cannot enumerate accounts
		writeJSON(w, http.StatusAccepted, map[string]string{"message": signUpAccepted})
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, err.Error())
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

// Login handles POST /auth/login. A successful login clears the attempt
// history of the identity the guard counted it under.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	account, err := h.accounts.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "Authentication failed")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	if id, ok := middleware.AttemptIdentityFromContext(r.Context()); ok && h.loginGuard != nil {
		if err := h.loginGuard.Reset(r.Context(), id.Bucket, id.Key, "login succeeded"); err != nil {
			// the login itself stands; a stale history only delays the next lockout decay
			h.logger.Error("failed to reset login attempts", slog.Any("error", err))
		}
	}

	writeJSON(w, http.StatusOK, account)
}

// decodeCredentials reads a JSON or form encoded body, the same two encodings
// the attempt guard reads the identity from
func decodeCredentials(w http.ResponseWriter, r *http.Request) (*CredentialsRequest, bool) {
	var req CredentialsRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			pkghttp.WriteBadRequest(w, "Invalid request body")
			return nil, false
		}
		req.Email = r.PostForm.Get("mail")
		req.Password = r.PostForm.Get("password")
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return nil, false
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return nil, false
	}
	return &req, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
