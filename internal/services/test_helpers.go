package services

import (
	"context"
	"time"

	"github.com/BradenHooton/attemptguard/internal/models"
)

// MockAttemptStore implements AttemptStore for testing
type MockAttemptStore struct {
	FamilyValue         models.AttemptFamily
	IncrementAndGetFunc func(ctx context.Context, bucket, key string) (int, error)
	FindMatchingFunc    func(ctx context.Context, bucket, key string) (*models.AttemptRecord, error)
	ResetFunc           func(ctx context.Context, bucket, key string) error
	ListAllFunc         func(ctx context.Context) ([]models.AttemptRecord, error)
	DeleteStaleFunc     func(ctx context.Context, before time.Time, maxCount int) (int64, error)
}

func (m *MockAttemptStore) Family() models.AttemptFamily {
	if m.FamilyValue == "" {
		return models.FamilyLogin
	}
	return m.FamilyValue
}

func (m *MockAttemptStore) IncrementAndGet(ctx context.Context, bucket, key string) (int, error) {
	if m.IncrementAndGetFunc != nil {
		return m.IncrementAndGetFunc(ctx, bucket, key)
	}
	return 1, nil
}

func (m *MockAttemptStore) FindMatching(ctx context.Context, bucket, key string) (*models.AttemptRecord, error) {
	if m.FindMatchingFunc != nil {
		return m.FindMatchingFunc(ctx, bucket, key)
	}
	return nil, models.ErrNotFound
}

func (m *MockAttemptStore) Reset(ctx context.Context, bucket, key string) error {
	if m.ResetFunc != nil {
		return m.ResetFunc(ctx, bucket, key)
	}
	return nil
}

func (m *MockAttemptStore) ListAll(ctx context.Context) ([]models.AttemptRecord, error) {
	if m.ListAllFunc != nil {
		return m.ListAllFunc(ctx)
	}
	return []models.AttemptRecord{}, nil
}

func (m *MockAttemptStore) DeleteStale(ctx context.Context, before time.Time, maxCount int) (int64, error) {
	if m.DeleteStaleFunc != nil {
		return m.DeleteStaleFunc(ctx, before, maxCount)
	}
	return 0, nil
}

// NewTestAttemptRecord builds a login record for (bucket, key)
func NewTestAttemptRecord(bucket, key string, count int, updatedAt time.Time) *models.AttemptRecord {
	return &models.AttemptRecord{
		ID:            "00000000-0000-0000-0000-000000000001",
		Family:        models.FamilyLogin,
		NetworkBucket: bucket,
		IdentityKey:   key,
		Count:         count,
		UpdatedAt:     updatedAt,
	}
}
