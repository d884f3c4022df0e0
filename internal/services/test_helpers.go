package services

import (
	"context"
	"time"

	"warden/internal/models"
)

// MockAttemptStore implements AttemptStore for testing
type MockAttemptStore struct {
	GetFunc              func(ctx context.Context, key string) (*models.AttemptRecord, error)
	IncrementFailureFunc func(ctx context.Context, scope Scope, userAgent string, at, windowStart time.Time) (*models.AttemptRecord, error)
	ClearFunc            func(ctx context.Context, keys []string) error
	ResetFunc            func(ctx context.Context, ip, username string) (int64, error)
	ListFunc             func(ctx context.Context, limit, offset int) ([]*models.AttemptRecord, error)
	DeleteOlderThanFunc  func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockAttemptStore) Get(ctx context.Context, key string) (*models.AttemptRecord, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	return nil, nil
}

func (m *MockAttemptStore) IncrementFailure(ctx context.Context, scope Scope, userAgent string, at, windowStart time.Time) (*models.AttemptRecord, error) {
	if m.IncrementFailureFunc != nil {
		return m.IncrementFailureFunc(ctx, scope, userAgent, at, windowStart)
	}
	return &models.AttemptRecord{
		Key:            scope.Key,
		Kind:           scope.Kind,
		Username:       scope.Username,
		IPAddress:      scope.IPAddress,
		UserAgent:      userAgent,
		FailureCount:   1,
		FirstFailureAt: at,
		LastFailureAt:  at,
	}, nil
}

func (m *MockAttemptStore) Clear(ctx context.Context, keys []string) error {
	if m.ClearFunc != nil {
		return m.ClearFunc(ctx, keys)
	}
	return nil
}

func (m *MockAttemptStore) Reset(ctx context.Context, ip, username string) (int64, error) {
	if m.ResetFunc != nil {
		return m.ResetFunc(ctx, ip, username)
	}
	return 0, nil
}

func (m *MockAttemptStore) List(ctx context.Context, limit, offset int) ([]*models.AttemptRecord, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, limit, offset)
	}
	return []*models.AttemptRecord{}, nil
}

func (m *MockAttemptStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.DeleteOlderThanFunc != nil {
		return m.DeleteOlderThanFunc(ctx, cutoff)
	}
	return 0, nil
}

// MockTrustStore implements TrustStore for testing
type MockTrustStore struct {
	UpsertFunc func(ctx context.Context, username, ip string, at time.Time) error
	GetFunc    func(ctx context.Context, username, ip string) (*models.TrustRecord, error)
	ResetFunc  func(ctx context.Context, ip, username string) (int64, error)

	Upserted []models.TrustRecord
}

func (m *MockTrustStore) Upsert(ctx context.Context, username, ip string, at time.Time) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, username, ip, at)
	}
	m.Upserted = append(m.Upserted, models.TrustRecord{
		Username:    username,
		IPAddress:   ip,
		FirstSeenAt: at,
		LastSeenAt:  at,
	})
	return nil
}

func (m *MockTrustStore) Get(ctx context.Context, username, ip string) (*models.TrustRecord, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, username, ip)
	}
	for i := range m.Upserted {
		if m.Upserted[i].Username == username && m.Upserted[i].IPAddress == ip {
			return &m.Upserted[i], nil
		}
	}
	return nil, nil
}

func (m *MockTrustStore) Reset(ctx context.Context, ip, username string) (int64, error) {
	if m.ResetFunc != nil {
		return m.ResetFunc(ctx, ip, username)
	}
	removed := int64(len(m.Upserted))
	m.Upserted = nil
	return removed, nil
}

// MockAccessLogStore implements AccessLogStore for testing
type MockAccessLogStore struct {
	AppendFunc      func(ctx context.Context, entry *models.AccessLogEntry) error
	CloseLatestFunc func(ctx context.Context, username, ip string, at time.Time) error
	ListFunc        func(ctx context.Context, filter AccessLogFilter) ([]*models.AccessLogEntry, error)
	PruneFunc       func(ctx context.Context, before time.Time) (int64, error)

	Appended []*models.AccessLogEntry
}

func (m *MockAccessLogStore) Append(ctx context.Context, entry *models.AccessLogEntry) error {
	if m.AppendFunc != nil {
		return m.AppendFunc(ctx, entry)
	}
	m.Appended = append(m.Appended, entry)
	return nil
}

func (m *MockAccessLogStore) CloseLatest(ctx context.Context, username, ip string, at time.Time) error {
	if m.CloseLatestFunc != nil {
		return m.CloseLatestFunc(ctx, username, ip, at)
	}
	for i := len(m.Appended) - 1; i >= 0; i-- {
		entry := m.Appended[i]
		if entry.Username == username && entry.IPAddress == ip && entry.LogoutAt == nil {
			entry.LogoutAt = &at
			return nil
		}
	}
	return models.ErrNotFound
}

func (m *MockAccessLogStore) List(ctx context.Context, filter AccessLogFilter) ([]*models.AccessLogEntry, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, filter)
	}
	return m.Appended, nil
}

func (m *MockAccessLogStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	if m.PruneFunc != nil {
		return m.PruneFunc(ctx, before)
	}
	return 0, nil
}

// NewTestAttemptRecord builds an attempt record keyed by IP with the given
// count, last failed at the given time.
func NewTestAttemptRecord(ip string, count int, lastFailureAt time.Time) *models.AttemptRecord {
	return &models.AttemptRecord{
		Key:            "ip:" + ip,
		Kind:           models.ScopeKindIP,
		IPAddress:      &ip,
		UserAgent:      "test-agent",
		FailureCount:   count,
		FirstFailureAt: lastFailureAt.Add(-time.Duration(count-1) * time.Minute),
		LastFailureAt:  lastFailureAt,
	}
}

// NewTestPolicy returns the default policy used across service tests:
// limit 3, one hour cooloff, independent IP and username scopes.
func NewTestPolicy() Policy {
	return Policy{
		FailureLimit:  3,
		CooloffTime:   1 * time.Hour,
		LockAtFailure: true,
	}
}
