package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/attemptguard/internal/database"
	"github.com/BradenHooton/attemptguard/internal/models"
)

// LoginAttemptRepository handles database operations for login attempts
type LoginAttemptRepository struct {
	db  *database.DB
	now func() time.Time
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB, opts ...StoreOption) *LoginAttemptRepository {
	o := applyStoreOptions(opts)
	return &LoginAttemptRepository{db: db, now: o.now}
}

func (r *LoginAttemptRepository) Family() models.AttemptFamily { return models.FamilyLogin }

// IncrementAndGet inserts the (bucket, key) row or bumps its count in one
// statement and returns the new count
func (r *LoginAttemptRepository) IncrementAndGet(ctx context.Context, bucket, key string) (int, error) {
	query := `
		INSERT INTO login_attempts (id, network_bucket, identity_key, count, updated_at)
		VALUES ($1, $2, $3, 1, $4)
		ON CONFLICT (network_bucket, identity_key) DO UPDATE
		SET count = login_attempts.count + 1,
			previous_at = login_attempts.updated_at,
			updated_at = EXCLUDED.updated_at
		RETURNING count
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, newAttemptID(), bucket, key, r.now().UTC()).Scan(&count)
	if err != nil {
		return 0, database.MapStoreError("increment login attempt", err)
	}

	return count, nil
}

// FindMatching returns the most severe record whose bucket OR key matches
func (r *LoginAttemptRepository) FindMatching(ctx context.Context, bucket, key string) (*models.AttemptRecord, error) {
	query := `
		SELECT id, network_bucket, identity_key, count, updated_at, previous_at
		FROM login_attempts
		WHERE network_bucket = $1 OR identity_key = $2
		ORDER BY count DESC, updated_at DESC
		LIMIT 1
	`

	rec := models.AttemptRecord{Family: models.FamilyLogin}
	err := r.db.Pool.QueryRow(ctx, query, bucket, key).Scan(
		&rec.ID,
		&rec.NetworkBucket,
		&rec.IdentityKey,
		&rec.Count,
		&rec.UpdatedAt,
		&rec.PreviousAt,
	)
	if err != nil {
		return nil, database.MapStoreError("find login attempt", err)
	}

	return &rec, nil
}

// Reset deletes every login record for the identity key
func (r *LoginAttemptRepository) Reset(ctx context.Context, bucket, key string) error {
	query := `DELETE FROM login_attempts WHERE identity_key = $1`

	if _, err := r.db.Pool.Exec(ctx, query, key); err != nil {
		return database.MapStoreError("reset login attempts", err)
	}
	return nil
}

// ListAll returns every login record, most recent first
func (r *LoginAttemptRepository) ListAll(ctx context.Context) ([]models.AttemptRecord, error) {
	query := `
		SELECT id, network_bucket, identity_key, count, updated_at, previous_at
		FROM login_attempts
		ORDER BY updated_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, database.MapStoreError("list login attempts", err)
	}

	records, err := scanPostgresAttempts(rows, models.FamilyLogin)
	if err != nil {
		return nil, database.MapStoreError("scan login attempts", err)
	}
	return records, nil
}

// DeleteStale removes login records with count <= maxCount not updated since before
func (r *LoginAttemptRepository) DeleteStale(ctx context.Context, before time.Time, maxCount int) (int64, error) {
	return deletePostgresStale(ctx, r.db, familyTable(models.FamilyLogin), before, maxCount)
}
