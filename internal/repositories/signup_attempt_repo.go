package repositories

import (
	"context"
	"time"

	"github.com/BradenHooton/attemptguard/internal/database"
	"github.com/BradenHooton/attemptguard/internal/models"
)

// SignUpAttemptRepository handles database operations for sign-up attempts.
// Records are keyed by network bucket alone.
type SignUpAttemptRepository struct {
	db  *database.DB
	now func() time.Time
}

// NewSignUpAttemptRepository creates a new SignUpAttemptRepository
func NewSignUpAttemptRepository(db *database.DB, opts ...StoreOption) *SignUpAttemptRepository {
	o := applyStoreOptions(opts)
	return &SignUpAttemptRepository{db: db, now: o.now}
}

func (r *SignUpAttemptRepository) Family() models.AttemptFamily { return models.FamilySignUp }

// IncrementAndGet inserts the bucket row or bumps its count. key is ignored.
func (r *SignUpAttemptRepository) IncrementAndGet(ctx context.Context, bucket, key string) (int, error) {
	query := `
		INSERT INTO sign_up_attempts (id, network_bucket, count, updated_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (network_bucket) DO UPDATE
		SET count = sign_up_attempts.count + 1,
			previous_at = sign_up_attempts.updated_at,
			updated_at = EXCLUDED.updated_at
		RETURNING count
	`

	var count int
	err := r.db.Pool.QueryRow(ctx, query, newAttemptID(), bucket, r.now().UTC()).Scan(&count)
	if err != nil {
		return 0, database.MapStoreError("increment sign-up attempt", err)
	}

	return count, nil
}

// FindMatching returns the record for bucket
func (r *SignUpAttemptRepository) FindMatching(ctx context.Context, bucket, key string) (*models.AttemptRecord, error) {
	query := `
		SELECT id, network_bucket, count, updated_at, previous_at
		FROM sign_up_attempts
		WHERE network_bucket = $1
	`

	rec := models.AttemptRecord{Family: models.FamilySignUp}
	err := r.db.Pool.QueryRow(ctx, query, bucket).Scan(
		&rec.ID,
		&rec.NetworkBucket,
		&rec.Count,
		&rec.UpdatedAt,
		&rec.PreviousAt,
	)
	if err != nil {
		return nil, database.MapStoreError("find sign-up attempt", err)
	}

	return &rec, nil
}

// Reset deletes the record for bucket
func (r *SignUpAttemptRepository) Reset(ctx context.Context, bucket, key string) error {
	query := `DELETE FROM sign_up_attempts WHERE network_bucket = $1`

	if _, err := r.db.Pool.Exec(ctx, query, bucket); err != nil {
		return database.MapStoreError("reset sign-up attempts", err)
	}
	return nil
}

// ListAll returns every sign-up record, most recent first
func (r *SignUpAttemptRepository) ListAll(ctx context.Context) ([]models.AttemptRecord, error) {
	query := `
		SELECT id, network_bucket, '' AS identity_key, count, updated_at, previous_at
		FROM sign_up_attempts
		ORDER BY updated_at DESC
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, database.MapStoreError("list sign-up attempts", err)
	}

	records, err := scanPostgresAttempts(rows, models.FamilySignUp)
	if err != nil {
		return nil, database.MapStoreError("scan sign-up attempts", err)
	}
	return records, nil
}

// DeleteStale removes sign-up records with count <= maxCount not updated since before
func (r *SignUpAttemptRepository) DeleteStale(ctx context.Context, before time.Time, maxCount int) (int64, error) {
	return deletePostgresStale(ctx, r.db, familyTable(models.FamilySignUp), before, maxCount)
}
