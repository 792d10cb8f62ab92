package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/BradenHooton/attemptguard/internal/database"
	"github.com/BradenHooton/attemptguard/internal/models"
)

// SQLiteAttemptRepository stores one attempt family in SQLite. Timestamps are
// unix nanoseconds.
type SQLiteAttemptRepository struct {
	db     *sql.DB
	family models.AttemptFamily
	now    func() time.Time
}

// NewSQLiteAttemptRepository creates a repository for family on db
func NewSQLiteAttemptRepository(db *database.SQLiteDB, family models.AttemptFamily, opts ...StoreOption) *SQLiteAttemptRepository {
	o := applyStoreOptions(opts)
	return &SQLiteAttemptRepository{db: db.DB, family: family, now: o.now}
}

func (r *SQLiteAttemptRepository) Family() models.AttemptFamily { return r.family }

// IncrementAndGet upserts the row for (bucket, key) and returns the new count
func (r *SQLiteAttemptRepository) IncrementAndGet(ctx context.Context, bucket, key string) (int, error) {
	var (
		query string
		args  []any
		now   = r.now().UnixNano()
	)

	if r.family == models.FamilySignUp {
		query = `
			INSERT INTO sign_up_attempts (id, network_bucket, count, updated_at)
			VALUES (?, ?, 1, ?)
			ON CONFLICT (network_bucket) DO UPDATE
			SET count = count + 1,
				previous_at = updated_at,
				updated_at = excluded.updated_at
			RETURNING count
		`
		args = []any{newAttemptID(), bucket, now}
	} else {
		query = `
			INSERT INTO login_attempts (id, network_bucket, identity_key, count, updated_at)
			VALUES (?, ?, ?, 1, ?)
			ON CONFLICT (network_bucket, identity_key) DO UPDATE
			SET count = count + 1,
				previous_at = updated_at,
				updated_at = excluded.updated_at
			RETURNING count
		`
		args = []any{newAttemptID(), bucket, key, now}
	}

	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, database.MapStoreError(fmt.Sprintf("increment %s attempt", r.family), err)
	}
	return count, nil
}

// FindMatching returns the most severe login record matching bucket OR key,
// or the sign-up record for bucket
func (r *SQLiteAttemptRepository) FindMatching(ctx context.Context, bucket, key string) (*models.AttemptRecord, error) {
	var row *sql.Row
	if r.family == models.FamilySignUp {
		row = r.db.QueryRowContext(ctx, `
			SELECT id, network_bucket, '', count, updated_at, previous_at
			FROM sign_up_attempts
			WHERE network_bucket = ?
		`, bucket)
	} else {
		row = r.db.QueryRowContext(ctx, `
			SELECT id, network_bucket, identity_key, count, updated_at, previous_at
			FROM login_attempts
			WHERE network_bucket = ? OR identity_key = ?
			ORDER BY count DESC, updated_at DESC
			LIMIT 1
		`, bucket, key)
	}

	rec, err := r.scan(row)
	if err != nil {
		return nil, database.MapStoreError(fmt.Sprintf("find %s attempt", r.family), err)
	}
	return rec, nil
}

// Reset deletes login records by key, or the sign-up record by bucket
func (r *SQLiteAttemptRepository) Reset(ctx context.Context, bucket, key string) error {
	var err error
	if r.family == models.FamilySignUp {
		_, err = r.db.ExecContext(ctx, `DELETE FROM sign_up_attempts WHERE network_bucket = ?`, bucket)
	} else {
		_, err = r.db.ExecContext(ctx, `DELETE FROM login_attempts WHERE identity_key = ?`, key)
	}
	if err != nil {
		return database.MapStoreError(fmt.Sprintf("reset %s attempts", r.family), err)
	}
	return nil
}

// ListAll returns every record of the family, most recent first
func (r *SQLiteAttemptRepository) ListAll(ctx context.Context) ([]models.AttemptRecord, error) {
	query := `
		SELECT id, network_bucket, identity_key, count, updated_at, previous_at
		FROM login_attempts
		ORDER BY updated_at DESC
	`
	if r.family == models.FamilySignUp {
		query = `
			SELECT id, network_bucket, '', count, updated_at, previous_at
			FROM sign_up_attempts
			ORDER BY updated_at DESC
		`
	}

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, database.MapStoreError(fmt.Sprintf("list %s attempts", r.family), err)
	}
	defer rows.Close()

	records := []models.AttemptRecord{}
	for rows.Next() {
		rec, err := r.scan(rows)
		if err != nil {
			return nil, database.MapStoreError(fmt.Sprintf("scan %s attempts", r.family), err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, database.MapStoreError(fmt.Sprintf("list %s attempts", r.family), err)
	}

	return records, nil
}

// DeleteStale removes records with count <= maxCount not updated since before
func (r *SQLiteAttemptRepository) DeleteStale(ctx context.Context, before time.Time, maxCount int) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE updated_at < ? AND count <= ?`, familyTable(r.family))

	res, err := r.db.ExecContext(ctx, query, before.UnixNano(), int64(maxCount))
	if err != nil {
		return 0, database.MapStoreError(fmt.Sprintf("delete stale %s attempts", r.family), err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *SQLiteAttemptRepository) scan(row rowScanner) (*models.AttemptRecord, error) {
	var (
		rec        = models.AttemptRecord{Family: r.family}
		updatedAt  int64
		previousAt sql.NullInt64
	)

	if err := row.Scan(&rec.ID, &rec.NetworkBucket, &rec.IdentityKey, &rec.Count, &updatedAt, &previousAt); err != nil {
		return nil, err
	}

	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	if previousAt.Valid {
		prev := time.Unix(0, previousAt.Int64).UTC()
		rec.PreviousAt = &prev
	}
	return &rec, nil
}
