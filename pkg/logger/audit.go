package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType    string
	Operator     string
	Username     string
	IPAddress    string
	UserAgent    string
	ScopeKey     string
	FailureCount int
	Success      bool
	Metadata     map[string]string
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogAttempt logs a reported login attempt. Usernames are masked; the raw
// value lives in the store, not in the log stream.
func (al *AuditLogger) LogAttempt(event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "attempt"),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.Username != "" {
		attrs = append(attrs, slog.String("username", SanitizedUsername(event.Username)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}

	if event.Success {
		al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
	} else {
		al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
	}
}

// LogLockout logs a lockout transition
func (al *AuditLogger) LogLockout(event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "lockout"),
		slog.String("scope_key", event.ScopeKey),
		slog.Int("failure_count", event.FailureCount),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.Username != "" {
		attrs = append(attrs, slog.String("username", SanitizedUsername(event.Username)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}

	al.logger.LogAttrs(context.Background(), slog.LevelWarn, "audit", attrs...)
}

// LogReset logs operator-initiated resets with what was matched and removed
func (al *AuditLogger) LogReset(event AuditEvent, removed int64) {
	attrs := []slog.Attr{
		slog.String("audit_type", "reset"),
		slog.String("event_type", event.EventType),
		slog.Int64("removed", removed),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.Operator != "" {
		attrs = append(attrs, slog.String("operator", event.Operator))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.Username != "" {
		attrs = append(attrs, slog.String("username", SanitizedUsername(event.Username)))
	}

	al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit", attrs...)
}
