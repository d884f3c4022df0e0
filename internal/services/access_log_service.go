package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"warden/internal/models"
)

// AccessLogStore persists the login/logout audit trail.
type AccessLogStore interface {
	// Append stores a new entry created at successful login.
	Append(ctx context.Context, entry *models.AccessLogEntry) error
	// CloseLatest sets LogoutAt on the newest open entry for the identity
	// and returns models.ErrNotFound when no open entry exists.
	CloseLatest(ctx context.Context, username, ip string, at time.Time) error
	// List returns entries matching the filter, newest login first.
	List(ctx context.Context, filter AccessLogFilter) ([]*models.AccessLogEntry, error)
	// Prune deletes entries whose login predates the cutoff.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// AccessLogFilter narrows access log queries. Empty fields match anything.
type AccessLogFilter struct {
	Username  string
	IPAddress string
	Limit     int
	Offset    int
}

// AccessLogService serves operator queries over the audit trail. Entries
// only ever leave the store through Prune; the recording path never deletes.
type AccessLogService struct {
	store  AccessLogStore
	logger *slog.Logger
}

// NewAccessLogService creates an AccessLogService.
func NewAccessLogService(store AccessLogStore, logger *slog.Logger) *AccessLogService {
	return &AccessLogService{store: store, logger: logger}
}

// List returns access log entries matching the filter, newest first.
func (s *AccessLogService) List(ctx context.Context, filter AccessLogFilter) ([]*models.AccessLogEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 500 {
		filter.Limit = 500
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	entries, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list access log entries: %w", err)
	}
	return entries, nil
}

// Prune deletes entries older than the cutoff and returns how many were
// removed.
func (s *AccessLogService) Prune(ctx context.Context, before time.Time) (int64, error) {
	removed, err := s.store.Prune(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune access log: %w", err)
	}
	s.logger.Info("access log pruned",
		slog.Time("before", before),
		slog.Int64("removed", removed))
	return removed, nil
}
