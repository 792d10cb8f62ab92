package routes

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BradenHooton/attemptguard/internal/handlers"
	"github.com/BradenHooton/attemptguard/internal/middleware"
	"github.com/BradenHooton/attemptguard/internal/models"
	"github.com/BradenHooton/attemptguard/internal/repositories"
	"github.com/BradenHooton/attemptguard/internal/services"
	pkgauth "github.com/BradenHooton/attemptguard/pkg/auth"
	pkghttp "github.com/BradenHooton/attemptguard/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testAdminToken = "route-test-admin-token-0123456789"

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	loginGuard, err := services.NewAttemptGuardService(
		repositories.NewMemoryAttemptRepository(models.FamilyLogin), services.DefaultLoginGuardConfig(), logger)
	require.NoError(t, err)
	signUpGuard, err := services.NewAttemptGuardService(
		repositories.NewMemoryAttemptRepository(models.FamilySignUp), services.DefaultSignUpGuardConfig(), logger)
	require.NoError(t, err)

	accounts := services.NewAccountService(pkgauth.NewHasher(bcrypt.MinCost), logger)

	router := chi.NewRouter()
	RegisterRoutes(router, Dependencies{
		AuthHandler: handlers.NewAuthHandler(accounts, loginGuard, logger),
		AdminHandler: handlers.NewAdminHandler(map[models.AttemptFamily]handlers.AttemptAdmin{
			models.FamilyLogin:  loginGuard,
			models.FamilySignUp: signUpGuard,
		}),
		LoginGuard:  loginGuard,
		SignUpGuard: signUpGuard,
		IPConfig:    &pkghttp.IPConfig{},
		FloodLimit:  middleware.RateLimitConfig{RequestsPerMinute: 1000},
		AdminToken:  testAdminToken,
		Logger:      logger,
		Health: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	})
	return router
}

func post(router http.Handler, path, remote, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remote
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func adminGet(router http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestLoginFlow_LockoutAndReset(t *testing.T) {
	router := newTestRouter(t)
	const creds = `{"mail":"user@example.com","password":"Correct-Horse-9!"}`
	const wrong = `{"mail":"user@example.com","password":"Wrong-Horse-9!"}`

	rec := post(router, "/auth/signup", "198.51.100.7:4000", creds)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// a success clears the history
	for i := 0; i < 3; i++ {
		rec = post(router, "/auth/login", "203.0.113.10:5000", wrong)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec = post(router, "/auth/login", "203.0.113.10:5000", creds)
	require.Equal(t, http.StatusOK, rec.Code)

	list := adminGet(router, "/admin/attempts/login", testAdminToken)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Contains(t, list.Body.String(), `"total":0`)

	// five failures lock the identity, even with the right password
	for i := 0; i < 4; i++ {
		rec = post(router, "/auth/login", "203.0.113.10:5000", wrong)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec = post(router, "/auth/login", "203.0.113.10:5000", creds)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	// and from another network too
	rec = post(router, "/auth/login", "192.0.2.10:5000", creds)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestLogin_MissingIdentityField(t *testing.T) {
	router := newTestRouter(t)

	rec := post(router, "/auth/login", "203.0.113.10:5000", `{"password":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "missing_field")
}

func TestSignUpFlow_NetworkLockout(t *testing.T) {
	router := newTestRouter(t)

	rec := post(router, "/auth/signup", "203.0.113.10:5000", `{"mail":"a@example.com","password":"Correct-Horse-9!"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = post(router, "/auth/signup", "203.0.113.11:5000", `{"mail":"b@example.com","password":"Correct-Horse-9!"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "240", rec.Header().Get("Retry-After"))
}

func TestAdminRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t)

	assert.Equal(t, http.StatusUnauthorized, adminGet(router, "/admin/attempts/login", "").Code)
	assert.Equal(t, http.StatusUnauthorized, adminGet(router, "/admin/attempts/login", "nope").Code)
	assert.Equal(t, http.StatusOK, adminGet(router, "/admin/attempts/signup", testAdminToken).Code)
	assert.Equal(t, http.StatusNotFound, adminGet(router, "/admin/attempts/other", testAdminToken).Code)
}

func TestLoginFlow_FormEncodedBody(t *testing.T) {
	router := newTestRouter(t)
	form := url.Values{"mail": {"Form@Example.com"}, "password": {"Correct-Horse-9!"}}.Encode()

	postForm := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.RemoteAddr = "203.0.113.10:5000"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusAccepted, postForm("/auth/signup").Code)

	rec := postForm("/auth/login")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "form@example.com")

	list := adminGet(router, "/admin/attempts/login", testAdminToken)
	require.Equal(t, http.StatusOK, list.Code)
	assert.Contains(t, list.Body.String(), `"total":0`)
}
