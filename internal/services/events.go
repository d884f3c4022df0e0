package services

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LockoutEvent describes one transition from allowed to locked. A recording
// call that crosses the failure limit emits exactly one event, even when
// several scopes cross at the same time.
type LockoutEvent struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	ScopeKind    string    `json:"scope_kind"`
	ScopeKey     string    `json:"scope_key"`
	FailureCount int       `json:"failure_count"`
	LockedAt     time.Time `json:"locked_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// LockoutHandler receives lockout events. Handlers run synchronously in
// registration order on the recording path, so slow deliveries should move
// themselves off the caller's goroutine.
type LockoutHandler func(ctx context.Context, event LockoutEvent)
