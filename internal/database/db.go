package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/BradenHooton/attemptguard/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
)

func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return models.ErrConflict
		case "23503": // foreign_key_violation
			return models.ErrBadRequest
		case "23502": // not_null_violation
			return models.ErrBadRequest
		}
	}

	return err
}

// MapStoreError normalizes engine errors for attempt stores: missing rows
// become models.ErrNotFound and every other failure is wrapped in
// models.ErrStoreUnavailable
func MapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, pgx.ErrNoRows),
		errors.Is(err, sql.ErrNoRows),
		errors.Is(err, redis.Nil):
		return models.ErrNotFound
	case errors.Is(err, models.ErrStoreUnavailable):
		return err
	}

	return fmt.Errorf("%w: %s: %v", models.ErrStoreUnavailable, op, MapPostgresError(err))
}
