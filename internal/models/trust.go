package models

import "time"

// TrustRecord marks a (username, ip) pair that has completed at least one
// full login+logout cycle. Trust is informational: it is recorded, reported
// and resettable, but it never widens the failure limit or shortens the
// cooloff window.
type TrustRecord struct {
	Username    string    `db:"username"`
	IPAddress   string    `db:"ip_address"`
	FirstSeenAt time.Time `db:"first_seen_at"`
	LastSeenAt  time.Time `db:"last_seen_at"`
}
