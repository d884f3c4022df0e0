package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"warden/internal/database"
	"warden/internal/models"
	"warden/internal/services"
)

// AttemptRepository implements services.AttemptStore on PostgreSQL. One row
// per scope key; increments are single statements so concurrent failures
// against the same key serialize inside the database.
type AttemptRepository struct {
	db *database.DB
}

// NewAttemptRepository creates a new AttemptRepository
func NewAttemptRepository(db *database.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

// Get returns the record for one scope key, or nil when none exists.
func (r *AttemptRepository) Get(ctx context.Context, key string) (*models.AttemptRecord, error) {
	query := `
		SELECT scope_key, scope_kind, username, ip_address, user_agent, failure_count, first_failure_at, last_failure_at
		FROM attempt_records
		WHERE scope_key = $1
	`

	var record models.AttemptRecord
	err := r.db.Pool.QueryRow(ctx, query, key).Scan(
		&record.Key,
		&record.Kind,
		&record.Username,
		&record.IPAddress,
		&record.UserAgent,
		&record.FailureCount,
		&record.FirstFailureAt,
		&record.LastFailureAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &record, nil
}

// IncrementFailure upserts the scope's record in one statement. A row whose
// last failure predates windowStart restarts counting at 1 with a fresh
// first_failure_at instead of accumulating across the lapsed window.
func (r *AttemptRepository) IncrementFailure(ctx context.Context, scope services.Scope, userAgent string, at, windowStart time.Time) (*models.AttemptRecord, error) {
	query := `
		INSERT INTO attempt_records (scope_key, scope_kind, username, ip_address, user_agent, failure_count, first_failure_at, last_failure_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $6)
		ON CONFLICT (scope_key) DO UPDATE SET
			failure_count = CASE
				WHEN attempt_records.last_failure_at < $7 THEN 1
				ELSE attempt_records.failure_count + 1
			END,
			first_failure_at = CASE
				WHEN attempt_records.last_failure_at < $7 THEN EXCLUDED.first_failure_at
				ELSE attempt_records.first_failure_at
			END,
			user_agent = EXCLUDED.user_agent,
			last_failure_at = EXCLUDED.last_failure_at
		RETURNING scope_key, scope_kind, username, ip_address, user_agent, failure_count, first_failure_at, last_failure_at
	`

	var record models.AttemptRecord
	err := r.db.Pool.QueryRow(ctx, query,
		scope.Key,
		scope.Kind,
		scope.Username,
		scope.IPAddress,
		userAgent,
		at,
		windowStart,
	).Scan(
		&record.Key,
		&record.Kind,
		&record.Username,
		&record.IPAddress,
		&record.UserAgent,
		&record.FailureCount,
		&record.FirstFailureAt,
		&record.LastFailureAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &record, nil
}

// Clear deletes the records for the given scope keys.
func (r *AttemptRepository) Clear(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	query := `DELETE FROM attempt_records WHERE scope_key = ANY($1)`
	_, err := r.db.Pool.Exec(ctx, query, keys)
	return database.MapPostgresError(err)
}

// Reset deletes records matching the ip and username filters. Empty filters
// match everything; records that lack the filtered column (an IP-only record
// has no username) are not matched by that filter.
func (r *AttemptRepository) Reset(ctx context.Context, ip, username string) (int64, error) {
	query := `
		DELETE FROM attempt_records
		WHERE ($1 = '' OR ip_address = $1)
		  AND ($2 = '' OR username = $2)
	`

	tag, err := r.db.Pool.Exec(ctx, query, ip, username)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}

// List returns stored records, most recent failure first.
func (r *AttemptRepository) List(ctx context.Context, limit, offset int) ([]*models.AttemptRecord, error) {
	query := `
		SELECT scope_key, scope_kind, username, ip_address, user_agent, failure_count, first_failure_at, last_failure_at
		FROM attempt_records
		ORDER BY last_failure_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	var records []*models.AttemptRecord
	for rows.Next() {
		var record models.AttemptRecord
		if err := rows.Scan(
			&record.Key,
			&record.Kind,
			&record.Username,
			&record.IPAddress,
			&record.UserAgent,
			&record.FailureCount,
			&record.FirstFailureAt,
			&record.LastFailureAt,
		); err != nil {
			return nil, database.MapPostgresError(err)
		}
		records = append(records, &record)
	}

	return records, rows.Err()
}

// DeleteOlderThan removes records whose last failure predates the cutoff.
func (r *AttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM attempt_records WHERE last_failure_at < $1`

	tag, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
