package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"warden/internal/database"
	"warden/internal/models"
)

// TrustRepository implements services.TrustStore on PostgreSQL.
type TrustRepository struct {
	db *database.DB
}

// NewTrustRepository creates a new TrustRepository
func NewTrustRepository(db *database.DB) *TrustRepository {
	return &TrustRepository{db: db}
}

// Upsert records a completed login+logout cycle for the pair, keeping the
// first sighting and refreshing the latest.
func (r *TrustRepository) Upsert(ctx context.Context, username, ip string, at time.Time) error {
	query := `
		INSERT INTO trust_records (username, ip_address, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (username, ip_address) DO UPDATE SET
			last_seen_at = EXCLUDED.last_seen_at
	`

	_, err := r.db.Pool.Exec(ctx, query, username, ip, at)
	return database.MapPostgresError(err)
}

// Get returns the trust record for a pair, or nil when none exists.
func (r *TrustRepository) Get(ctx context.Context, username, ip string) (*models.TrustRecord, error) {
	query := `
		SELECT username, ip_address, first_seen_at, last_seen_at
		FROM trust_records
		WHERE username = $1 AND ip_address = $2
	`

	var record models.TrustRecord
	err := r.db.Pool.QueryRow(ctx, query, username, ip).Scan(
		&record.Username,
		&record.IPAddress,
		&record.FirstSeenAt,
		&record.LastSeenAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &record, nil
}

// Reset deletes trust records matching the ip and username filters. Empty
// filters match everything.
func (r *TrustRepository) Reset(ctx context.Context, ip, username string) (int64, error) {
	query := `
		DELETE FROM trust_records
		WHERE ($1 = '' OR ip_address = $1)
		  AND ($2 = '' OR username = $2)
	`

	tag, err := r.db.Pool.Exec(ctx, query, ip, username)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
