package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/attemptguard/internal/models"
	pkgauth "github.com/BradenHooton/attemptguard/pkg/auth"
	pkglogger "github.com/BradenHooton/attemptguard/pkg/logger"
	"github.com/google/uuid"
)

// account is one registered identity of the reference application
type account struct {
	id           string
	email        string
	passwordHash string
	createdAt    time.Time
}

// AccountResponse represents an account in the HTTP response
type AccountResponse struct {
	ID        string `json:"id"`
	Email     string `json:"mail"`
	CreatedAt string `json:"created_at"`
}

// AccountService is the in-memory credential directory the reference
// application authenticates against
type AccountService struct {
	mu       sync.RWMutex
	accounts map[string]*account
	hasher   *pkgauth.Hasher
	logger   *slog.Logger
}

// NewAccountService creates an empty AccountService
func NewAccountService(hasher *pkgauth.Hasher, logger *slog.Logger) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{
		accounts: make(map[string]*account),
		hasher:   hasher,
		logger:   logger,
	}
}

// Register creates an account
func (s *AccountService) Register(ctx context.Context, email, password string) (*AccountResponse, error) {
	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: mail is required", models.ErrBadRequest)
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBadRequest, err)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[email]; exists {
		return nil, models.ErrConflict
	}

	acc := &account{
		id:           uuid.NewString(),
		email:        email,
		passwordHash: hash,
		createdAt:    time.Now().UTC(),
	}
	s.accounts[email] = acc

	s.logger.Info("account registered", slog.String("mail", pkglogger.SanitizedEmail(email)))
	return toAccountResponse(acc), nil
}

// Authenticate verifies credentials. Unknown accounts and wrong passwords are
// indistinguishable to the caller.
func (s *AccountService) Authenticate(ctx context.Context, email, password string) (*AccountResponse, error) {
	email = normalizeEmail(email)

	s.mu.RLock()
	acc, ok := s.accounts[email]
	s.mu.RUnlock()

	if !ok {
		s.hasher.CompareDummy(password)
		s.logger.Info("login failed: invalid credentials")
		return nil, models.ErrUnauthorized
	}

	if err := s.hasher.Compare(acc.passwordHash, password); err != nil {
		s.logger.Info("login failed: invalid credentials")
		return nil, models.ErrUnauthorized
	}

	return toAccountResponse(acc), nil
}

// IsCredentialError reports whether err means the credentials were rejected
func IsCredentialError(err error) bool {
	return errors.Is(err, models.ErrUnauthorized)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func toAccountResponse(acc *account) *AccountResponse {
	return &AccountResponse{
		ID:        acc.id,
		Email:     acc.email,
		CreatedAt: acc.createdAt.Format(time.RFC3339),
	}
}
