package repositories

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"warden/internal/models"
	"warden/internal/services"
)

//go:embed schema.sql
var schema string

// SQLiteStore owns a single-file SQLite database and exposes the three store
// implementations backed by it. Suited to single-node deployments that need
// counters to survive restarts without running PostgreSQL.
type SQLiteStore struct {
	db        *sql.DB
	Attempts  *SQLiteAttemptStore
	Trust     *SQLiteTrustStore
	AccessLog *SQLiteAccessLogStore
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// embedded schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait up to 5s for locks instead of failing immediately with SQLITE_BUSY
	db.Exec("PRAGMA busy_timeout = 5000")
	db.Exec("PRAGMA foreign_keys = ON")

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute schema: %w", err)
	}

	return &SQLiteStore{
		db:        db,
		Attempts:  &SQLiteAttemptStore{db: db},
		Trust:     &SQLiteTrustStore{db: db},
		AccessLog: &SQLiteAccessLogStore{db: db},
	}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database file is still reachable.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// SQLiteAttemptStore implements services.AttemptStore on SQLite.
type SQLiteAttemptStore struct {
	db *sql.DB
}

func (s *SQLiteAttemptStore) Get(ctx context.Context, key string) (*models.AttemptRecord, error) {
	query := `
		SELECT scope_key, scope_kind, username, ip_address, user_agent, failure_count, first_failure_at, last_failure_at
		FROM attempt_records
		WHERE scope_key = ?
	`

	record, err := scanSQLiteAttempt(s.db.QueryRowContext(ctx, query, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get attempt record: %w", err)
	}
	return record, nil
}

func (s *SQLiteAttemptStore) IncrementFailure(ctx context.Context, scope services.Scope, userAgent string, at, windowStart time.Time) (*models.AttemptRecord, error) {
	// SQLite compares timestamps as text, so everything goes in as UTC.
	at = at.UTC()
	windowStart = windowStart.UTC()

	query := `
		INSERT INTO attempt_records (scope_key, scope_kind, username, ip_address, user_agent, failure_count, first_failure_at, last_failure_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(scope_key) DO UPDATE SET
			failure_count = CASE WHEN attempt_records.last_failure_at < ? THEN 1 ELSE attempt_records.failure_count + 1 END,
			first_failure_at = CASE WHEN attempt_records.last_failure_at < ? THEN excluded.first_failure_at ELSE attempt_records.first_failure_at END,
			user_agent = excluded.user_agent,
			last_failure_at = excluded.last_failure_at
		RETURNING scope_key, scope_kind, username, ip_address, user_agent, failure_count, first_failure_at, last_failure_at
	`

	row := s.db.QueryRowContext(ctx, query,
		scope.Key, scope.Kind, scope.Username, scope.IPAddress, userAgent, at, at,
		windowStart, windowStart,
	)
	record, err := scanSQLiteAttempt(row)
	if err != nil {
		return nil, fmt.Errorf("failed to increment attempt record: %w", err)
	}
	return record, nil
}

func (s *SQLiteAttemptStore) Clear(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, len(keys))
	for i, key := range keys {
		args[i] = key
	}

	_, err := s.db.ExecContext(ctx, "DELETE FROM attempt_records WHERE scope_key IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("failed to clear attempt records: %w", err)
	}
	return nil
}

func (s *SQLiteAttemptStore) Reset(ctx context.Context, ip, username string) (int64, error) {
	query := `
		DELETE FROM attempt_records
		WHERE (? = '' OR ip_address = ?)
		  AND (? = '' OR username = ?)
	`

	result, err := s.db.ExecContext(ctx, query, ip, ip, username, username)
	if err != nil {
		return 0, fmt.Errorf("failed to reset attempt records: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLiteAttemptStore) List(ctx context.Context, limit, offset int) ([]*models.AttemptRecord, error) {
	query := `
		SELECT scope_key, scope_kind, username, ip_address, user_agent, failure_count, first_failure_at, last_failure_at
		FROM attempt_records
		ORDER BY last_failure_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempt records: %w", err)
	}
	defer rows.Close()

	records := []*models.AttemptRecord{}
	for rows.Next() {
		record, err := scanSQLiteAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attempt record: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *SQLiteAttemptStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM attempt_records WHERE last_failure_at < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale attempt records: %w", err)
	}
	return result.RowsAffected()
}

// SQLiteTrustStore implements services.TrustStore on SQLite.
type SQLiteTrustStore struct {
	db *sql.DB
}

func (s *SQLiteTrustStore) Upsert(ctx context.Context, username, ip string, at time.Time) error {
	query := `
		INSERT INTO trust_records (username, ip_address, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(username, ip_address) DO UPDATE SET last_seen_at = excluded.last_seen_at
	`

	at = at.UTC()
	if _, err := s.db.ExecContext(ctx, query, username, ip, at, at); err != nil {
		return fmt.Errorf("failed to upsert trust record: %w", err)
	}
	return nil
}

func (s *SQLiteTrustStore) Get(ctx context.Context, username, ip string) (*models.TrustRecord, error) {
	query := `
		SELECT username, ip_address, first_seen_at, last_seen_at
		FROM trust_records
		WHERE username = ? AND ip_address = ?
	`

	var record models.TrustRecord
	err := s.db.QueryRowContext(ctx, query, username, ip).Scan(
		&record.Username,
		&record.IPAddress,
		&record.FirstSeenAt,
		&record.LastSeenAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trust record: %w", err)
	}
	return &record, nil
}

func (s *SQLiteTrustStore) Reset(ctx context.Context, ip, username string) (int64, error) {
	query := `
		DELETE FROM trust_records
		WHERE (? = '' OR ip_address = ?)
		  AND (? = '' OR username = ?)
	`

	result, err := s.db.ExecContext(ctx, query, ip, ip, username, username)
	if err != nil {
		return 0, fmt.Errorf("failed to reset trust records: %w", err)
	}
	return result.RowsAffected()
}

// SQLiteAccessLogStore implements services.AccessLogStore on SQLite.
type SQLiteAccessLogStore struct {
	db *sql.DB
}

func (s *SQLiteAccessLogStore) Append(ctx context.Context, entry *models.AccessLogEntry) error {
	query := `
		INSERT INTO access_log (id, username, ip_address, user_agent, http_accept, path_info, login_at, logout_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var logoutAt sql.NullTime
	if entry.LogoutAt != nil {
		logoutAt = sql.NullTime{Time: entry.LogoutAt.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		entry.ID.String(),
		entry.Username,
		entry.IPAddress,
		entry.UserAgent,
		entry.HTTPAccept,
		entry.PathInfo,
		entry.LoginAt.UTC(),
		logoutAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append access log entry: %w", err)
	}
	return nil
}

func (s *SQLiteAccessLogStore) CloseLatest(ctx context.Context, username, ip string, at time.Time) error {
	query := `
		UPDATE access_log
		SET logout_at = ?
		WHERE id = (
			SELECT id FROM access_log
			WHERE username = ? AND ip_address = ? AND logout_at IS NULL
			ORDER BY login_at DESC
			LIMIT 1
		)
	`

	result, err := s.db.ExecContext(ctx, query, at.UTC(), username, ip)
	if err != nil {
		return fmt.Errorf("failed to close access log entry: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to close access log entry: %w", err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *SQLiteAccessLogStore) List(ctx context.Context, filter services.AccessLogFilter) ([]*models.AccessLogEntry, error) {
	query := `
		SELECT id, username, ip_address, user_agent, http_accept, path_info, login_at, logout_at
		FROM access_log
		WHERE (? = '' OR username = ?)
		  AND (? = '' OR ip_address = ?)
		ORDER BY login_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		filter.Username, filter.Username,
		filter.IPAddress, filter.IPAddress,
		filter.Limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list access log entries: %w", err)
	}
	defer rows.Close()

	entries := []*models.AccessLogEntry{}
	for rows.Next() {
		var entry models.AccessLogEntry
		var id string
		var httpAccept, pathInfo sql.NullString
		var logoutAt sql.NullTime

		err := rows.Scan(
			&id,
			&entry.Username,
			&entry.IPAddress,
			&entry.UserAgent,
			&httpAccept,
			&pathInfo,
			&entry.LoginAt,
			&logoutAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan access log entry: %w", err)
		}
		if entry.ID, err = parseEntryID(id); err != nil {
			return nil, err
		}
		entry.HTTPAccept = nullableString(httpAccept)
		entry.PathInfo = nullableString(pathInfo)
		if logoutAt.Valid {
			t := logoutAt.Time
			entry.LogoutAt = &t
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

func (s *SQLiteAccessLogStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM access_log WHERE login_at < ?", before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune access log: %w", err)
	}
	return result.RowsAffected()
}

// sqliteRow is satisfied by both *sql.Row and *sql.Rows.
type sqliteRow interface {
	Scan(dest ...any) error
}

func scanSQLiteAttempt(row sqliteRow) (*models.AttemptRecord, error) {
	var record models.AttemptRecord
	var username, ipAddress sql.NullString

	err := row.Scan(
		&record.Key,
		&record.Kind,
		&username,
		&ipAddress,
		&record.UserAgent,
		&record.FailureCount,
		&record.FirstFailureAt,
		&record.LastFailureAt,
	)
	if err != nil {
		return nil, err
	}
	record.Username = nullableString(username)
	record.IPAddress = nullableString(ipAddress)
	return &record, nil
}

func parseEntryID(id string) (uuid.UUID, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to parse access log entry id: %w", err)
	}
	return parsed, nil
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
