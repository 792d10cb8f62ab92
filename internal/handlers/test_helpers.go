package handlers

import (
	"context"

	"github.com/BradenHooton/attemptguard/internal/models"
	"github.com/BradenHooton/attemptguard/internal/services"
)

// MockAccountService implements AccountServiceInterface for testing
type MockAccountService struct {
	RegisterFunc     func(ctx context.Context, email, password string) (*services.AccountResponse, error)
	AuthenticateFunc func(ctx context.Context, email, password string) (*services.AccountResponse, error)
}

func (m *MockAccountService) Register(ctx context.Context, email, password string) (*services.AccountResponse, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, email, password)
	}
	return &services.AccountResponse{ID: "acc-1", Email: email}, nil
}

func (m *MockAccountService) Authenticate(ctx context.Context, email, password string) (*services.AccountResponse, error) {
	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx, email, password)
	}
	return nil, models.ErrUnauthorized
}

// resetCall records one AttemptResetter.Reset invocation
type resetCall struct {
	Bucket, Key, Reason string
}

// MockAttemptAdmin implements AttemptAdmin and AttemptResetter for testing
type MockAttemptAdmin struct {
	Records  []models.AttemptRecord
	ListErr  error
	ResetErr error
	Resets   []resetCall
}

func (m *MockAttemptAdmin) Attempts(ctx context.Context) ([]models.AttemptRecord, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	return m.Records, nil
}

func (m *MockAttemptAdmin) Reset(ctx context.Context, bucket, key, reason string) error {
	m.Resets = append(m.Resets, resetCall{Bucket: bucket, Key: key, Reason: reason})
	return m.ResetErr
}
