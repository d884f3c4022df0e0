package models

import (
	"time"

	"github.com/google/uuid"
)

// AccessLogEntry is one append-only row of the login/logout audit trail.
// An entry is created on successful login and mutated exactly once when the
// matching logout is recorded. The service never deletes entries; pruning is
// an explicit operator action.
type AccessLogEntry struct {
	ID         uuid.UUID  `db:"id"`
	Username   string     `db:"username"`
	IPAddress  string     `db:"ip_address"`
	UserAgent  string     `db:"user_agent"`
	HTTPAccept *string    `db:"http_accept"`
	PathInfo   *string    `db:"path_info"`
	LoginAt    time.Time  `db:"login_at"`
	LogoutAt   *time.Time `db:"logout_at"`
}
