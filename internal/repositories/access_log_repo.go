package repositories

import (
	"context"
	"time"

	"warden/internal/database"
	"warden/internal/models"
	"warden/internal/services"
)

// AccessLogRepository implements services.AccessLogStore on PostgreSQL.
type AccessLogRepository struct {
	db *database.DB
}

// NewAccessLogRepository creates a new AccessLogRepository
func NewAccessLogRepository(db *database.DB) *AccessLogRepository {
	return &AccessLogRepository{db: db}
}

// Append stores a new entry created at successful login.
func (r *AccessLogRepository) Append(ctx context.Context, entry *models.AccessLogEntry) error {
	query := `
		INSERT INTO access_log (id, username, ip_address, user_agent, http_accept, path_info, login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		entry.ID,
		entry.Username,
		entry.IPAddress,
		entry.UserAgent,
		entry.HTTPAccept,
		entry.PathInfo,
		entry.LoginAt,
	)
	return database.MapPostgresError(err)
}

// CloseLatest stamps logout_at on the newest open entry for the identity.
// Returns models.ErrNotFound when no open entry exists.
func (r *AccessLogRepository) CloseLatest(ctx context.Context, username, ip string, at time.Time) error {
	query := `
		UPDATE access_log
		SET logout_at = $3
		WHERE id = (
			SELECT id FROM access_log
			WHERE username = $1 AND ip_address = $2 AND logout_at IS NULL
			ORDER BY login_at DESC
			LIMIT 1
		)
	`

	tag, err := r.db.Pool.Exec(ctx, query, username, ip, at)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// List returns entries matching the filter, newest login first.
func (r *AccessLogRepository) List(ctx context.Context, filter services.AccessLogFilter) ([]*models.AccessLogEntry, error) {
	query := `
		SELECT id, username, ip_address, user_agent, http_accept, path_info, login_at, logout_at
		FROM access_log
		WHERE ($1 = '' OR username = $1)
		  AND ($2 = '' OR ip_address = $2)
		ORDER BY login_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Pool.Query(ctx, query, filter.Username, filter.IPAddress, filter.Limit, filter.Offset)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	var entries []*models.AccessLogEntry
	for rows.Next() {
		var entry models.AccessLogEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.Username,
			&entry.IPAddress,
			&entry.UserAgent,
			&entry.HTTPAccept,
			&entry.PathInfo,
			&entry.LoginAt,
			&entry.LogoutAt,
		); err != nil {
			return nil, database.MapPostgresError(err)
		}
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// Prune deletes entries whose login predates the cutoff.
func (r *AccessLogRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM access_log WHERE login_at < $1`

	tag, err := r.db.Pool.Exec(ctx, query, before)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return tag.RowsAffected(), nil
}
