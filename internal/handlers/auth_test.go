package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BradenHooton/attemptguard/internal/middleware"
	"github.com/BradenHooton/attemptguard/internal/models"
	"github.com/BradenHooton/attemptguard/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func credentialsRequest(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestSignUp(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
	}{
		{"created", `{"mail":"user@example.com","password":"Correct-Horse-9!"}`, nil, http.StatusAccepted},
		{"existing account looks the same", `{"mail":"user@example.com","password":"Correct-Horse-9!"}`, models.ErrConflict, http.StatusAccepted},
		{"weak password", `{"mail":"user@example.com","password":"short"}`, models.ErrBadRequest, http.StatusBadRequest},
		{"invalid email", `{"mail":"not-an-email","password":"Correct-Horse-9!"}`, nil, http.StatusBadRequest},
		{"malformed body", `{"mail":`, nil, http.StatusBadRequest},
		{"store failure", `{"mail":"user@example.com","password":"Correct-Horse-9!"}`, errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts := &MockAccountService{
				RegisterFunc: func(ctx context.Context, email, password string) (*services.AccountResponse, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return &services.AccountResponse{ID: "acc-1", Email: email}, nil
				},
			}
			h := NewAuthHandler(accounts, &MockAttemptAdmin{}, testLogger())

			rec := httptest.NewRecorder()
			h.SignUp(rec, credentialsRequest("/auth/signup", tt.body))
			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestLogin_SuccessResetsAttempts(t *testing.T) {
	accounts := &MockAccountService{
		AuthenticateFunc: func(ctx context.Context, email, password string) (*services.AccountResponse, error) {
			return &services.AccountResponse{ID: "acc-1", Email: email}, nil
		},
	}
	guard := &MockAttemptAdmin{}
	h := NewAuthHandler(accounts, guard, testLogger())

	req := credentialsRequest("/auth/login", `{"mail":"user@example.com","password":"Correct-Horse-9!"}`)
	req = req.WithContext(middleware.WithAttemptIdentity(req.Context(), middleware.AttemptIdentity{
		Family: models.FamilyLogin,
		Bucket: "203.0.113.0/24",
		Key:    "user@example.com",
	}))

	rec := httptest.NewRecorder()
	h.Login(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp services.AccountResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "acc-1", resp.ID)

	require.Len(t, guard.Resets, 1)
	assert.Equal(t, "203.0.113.0/24", guard.Resets[0].Bucket)
	assert.Equal(t, "user@example.com", guard.Resets[0].Key)
}

func TestLogin_FailureKeepsAttempts(t *testing.T) {
	guard := &MockAttemptAdmin{}
	h := NewAuthHandler(&MockAccountService{}, guard, testLogger())

	req := credentialsRequest("/auth/login", `{"mail":"user@example.com","password":"wrong"}`)
	req = req.WithContext(middleware.WithAttemptIdentity(req.Context(), middleware.AttemptIdentity{
		Bucket: "203.0.113.0/24",
		Key:    "user@example.com",
	}))

	rec := httptest.NewRecorder()
	h.Login(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, guard.Resets)
}

func TestLogin_ResetFailureStillLogsIn(t *testing.T) {
	accounts := &MockAccountService{
		AuthenticateFunc: func(ctx context.Context, email, password string) (*services.AccountResponse, error) {
			return &services.AccountResponse{ID: "acc-1", Email: email}, nil
		},
	}
	guard := &MockAttemptAdmin{ResetErr: models.ErrStoreUnavailable}
	h := NewAuthHandler(accounts, guard, testLogger())

	req := credentialsRequest("/auth/login", `{"mail":"user@example.com","password":"Correct-Horse-9!"}`)
	req = req.WithContext(middleware.WithAttemptIdentity(req.Context(), middleware.AttemptIdentity{
		Bucket: "203.0.113.0/24",
		Key:    "user@example.com",
	}))

	rec := httptest.NewRecorder()
	h.Login(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogin_WithoutGuardIdentity(t *testing.T) {
	accounts := &MockAccountService{
		AuthenticateFunc: func(ctx context.Context, email, password string) (*services.AccountResponse, error) {
			return &services.AccountResponse{ID: "acc-1", Email: email}, nil
		},
	}
	guard := &MockAttemptAdmin{}
	h := NewAuthHandler(accounts, guard, testLogger())

	rec := httptest.NewRecorder()
	h.Login(rec, credentialsRequest("/auth/login", `{"mail":"user@example.com","password":"Correct-Horse-9!"}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, guard.Resets, "bypassed guard has nothing to reset")
}

func TestLogin_FormEncodedBody(t *testing.T) {
	var gotEmail, gotPassword string
	accounts := &MockAccountService{
		AuthenticateFunc: func(ctx context.Context, email, password string) (*services.AccountResponse, error) {
			gotEmail, gotPassword = email, password
			return &services.AccountResponse{ID: "acc-1", Email: email}, nil
		},
	}
	h := NewAuthHandler(accounts, &MockAttemptAdmin{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("mail=user%40example.com&password=Correct-Horse-9%21"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")

	rec := httptest.NewRecorder()
	h.Login(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user@example.com", gotEmail)
	assert.Equal(t, "Correct-Horse-9!", gotPassword)
}

func TestSignUp_FormEncodedMissingPassword(t *testing.T) {
	h := NewAuthHandler(&MockAccountService{}, &MockAttemptAdmin{}, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader("mail=user%40example.com"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	h.SignUp(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
