package models

import "time"

// Scope kinds under which login failures are counted.
const (
	ScopeKindIP       = "ip"
	ScopeKindUsername = "username"
	ScopeKindPair     = "pair"
)

// MaxUserAgentLength bounds the stored user agent. Longer values are
// truncated at the recording boundary, never rejected.
const MaxUserAgentLength = 255

// AttemptRecord represents accumulated failed login attempts for one scope key.
// Whether a record is locked is never stored; it is derived at read time from
// FailureCount and LastFailureAt against the configured limit and cooloff.
type AttemptRecord struct {
	Key            string    `db:"scope_key"`
	Kind           string    `db:"scope_kind"`
	Username       *string   `db:"username"`
	IPAddress      *string   `db:"ip_address"`
	UserAgent      string    `db:"user_agent"`
	FailureCount   int       `db:"failure_count"`
	FirstFailureAt time.Time `db:"first_failure_at"`
	LastFailureAt  time.Time `db:"last_failure_at"`
}

// TruncateUserAgent bounds a user agent string to MaxUserAgentLength bytes.
// Very long values (some clients send kilobytes) must be accepted without
// error, so they are cut rather than rejected.
func TruncateUserAgent(ua string) string {
	if len(ua) > MaxUserAgentLength {
		return ua[:MaxUserAgentLength]
	}
	return ua
}
