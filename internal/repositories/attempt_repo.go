package repositories

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/BradenHooton/attemptguard/internal/database"
	"github.com/BradenHooton/attemptguard/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
)

// StoreOption configures an attempt store
type StoreOption func(*storeOptions)

type storeOptions struct {
	now func() time.Time
}

// WithClock overrides time.Now for the timestamps a store writes
func WithClock(now func() time.Time) StoreOption {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func applyStoreOptions(opts []StoreOption) storeOptions {
	o := storeOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func newAttemptID() string {
	return uuid.NewString()
}

// attemptFingerprint creates a stable hash of a composite identity for use as
// a key component
func attemptFingerprint(bucket, key string) string {
	data := []byte(fmt.Sprintf("%s\x00%s", bucket, key))
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)[:32] // Use first 32 chars of hex hash
}

// familyTable maps a family to its table name
func familyTable(family models.AttemptFamily) string {
	if family == models.FamilySignUp {
		return "sign_up_attempts"
	}
	return "login_attempts"
}

// scanPostgresAttempts reads rows of (id, network_bucket, identity_key, count,
// updated_at, previous_at)
func scanPostgresAttempts(rows pgx.Rows, family models.AttemptFamily) ([]models.AttemptRecord, error) {
	defer rows.Close()

	records := []models.AttemptRecord{}
	for rows.Next() {
		rec := models.AttemptRecord{Family: family}
		if err := rows.Scan(
			&rec.ID,
			&rec.NetworkBucket,
			&rec.IdentityKey,
			&rec.Count,
			&rec.UpdatedAt,
			&rec.PreviousAt,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

// deletePostgresStale removes rows of table with count <= maxCount not
// updated since before
func deletePostgresStale(ctx context.Context, db *database.DB, table string, before time.Time, maxCount int) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE updated_at < $1 AND count <= $2::bigint`, pq.QuoteIdentifier(table))

	tag, err := db.Pool.Exec(ctx, query, before, int64(maxCount))
	if err != nil {
		return 0, database.MapStoreError("delete stale", err)
	}
	return tag.RowsAffected(), nil
}
