package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"warden/internal/models"
	"warden/internal/services"
)

// MemoryAttemptStore implements services.AttemptStore in process memory.
// It is the development default and backs tests; every instance is fully
// isolated, nothing is shared at package level.
type MemoryAttemptStore struct {
	mu      sync.Mutex
	records map[string]*models.AttemptRecord
}

// NewMemoryAttemptStore creates an empty in-memory attempt store.
func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{records: make(map[string]*models.AttemptRecord)}
}

func (s *MemoryAttemptStore) Get(ctx context.Context, key string) (*models.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	clone := *record
	return &clone, nil
}

func (s *MemoryAttemptStore) IncrementFailure(ctx context.Context, scope services.Scope, userAgent string, at, windowStart time.Time) (*models.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[scope.Key]
	if !ok || record.LastFailureAt.Before(windowStart) {
		record = &models.AttemptRecord{
			Key:            scope.Key,
			Kind:           scope.Kind,
			Username:       scope.Username,
			IPAddress:      scope.IPAddress,
			FirstFailureAt: at,
		}
		s.records[scope.Key] = record
	}
	record.FailureCount++
	record.UserAgent = userAgent
	record.LastFailureAt = at

	clone := *record
	return &clone, nil
}

func (s *MemoryAttemptStore) Clear(ctx context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.records, key)
	}
	return nil
}

func (s *MemoryAttemptStore) Reset(ctx context.Context, ip, username string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, record := range s.records {
		if ip != "" && (record.IPAddress == nil || *record.IPAddress != ip) {
			continue
		}
		if username != "" && (record.Username == nil || *record.Username != username) {
			continue
		}
		delete(s.records, key)
		removed++
	}
	return removed, nil
}

func (s *MemoryAttemptStore) List(ctx context.Context, limit, offset int) ([]*models.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]*models.AttemptRecord, 0, len(s.records))
	for _, record := range s.records {
		clone := *record
		records = append(records, &clone)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].LastFailureAt.After(records[j].LastFailureAt)
	})

	if offset >= len(records) {
		return []*models.AttemptRecord{}, nil
	}
	records = records[offset:]
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records, nil
}

func (s *MemoryAttemptStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key, record := range s.records {
		if record.LastFailureAt.Before(cutoff) {
			delete(s.records, key)
			removed++
		}
	}
	return removed, nil
}

type trustKey struct {
	username string
	ip       string
}

// MemoryTrustStore implements services.TrustStore in process memory.
type MemoryTrustStore struct {
	mu      sync.Mutex
	records map[trustKey]*models.TrustRecord
}

// NewMemoryTrustStore creates an empty in-memory trust store.
func NewMemoryTrustStore() *MemoryTrustStore {
	return &MemoryTrustStore{records: make(map[trustKey]*models.TrustRecord)}
}

func (s *MemoryTrustStore) Upsert(ctx context.Context, username, ip string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := trustKey{username: username, ip: ip}
	record, ok := s.records[key]
	if !ok {
		s.records[key] = &models.TrustRecord{
			Username:    username,
			IPAddress:   ip,
			FirstSeenAt: at,
			LastSeenAt:  at,
		}
		return nil
	}
	record.LastSeenAt = at
	return nil
}

func (s *MemoryTrustStore) Get(ctx context.Context, username, ip string) (*models.TrustRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[trustKey{username: username, ip: ip}]
	if !ok {
		return nil, nil
	}
	clone := *record
	return &clone, nil
}

func (s *MemoryTrustStore) Reset(ctx context.Context, ip, username string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for key := range s.records {
		if ip != "" && key.ip != ip {
			continue
		}
		if username != "" && key.username != username {
			continue
		}
		delete(s.records, key)
		removed++
	}
	return removed, nil
}

// MemoryAccessLogStore implements services.AccessLogStore in process memory.
type MemoryAccessLogStore struct {
	mu      sync.Mutex
	entries []*models.AccessLogEntry
}

// NewMemoryAccessLogStore creates an empty in-memory access log.
func NewMemoryAccessLogStore() *MemoryAccessLogStore {
	return &MemoryAccessLogStore{}
}

func (s *MemoryAccessLogStore) Append(ctx context.Context, entry *models.AccessLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *entry
	s.entries = append(s.entries, &clone)
	return nil
}

func (s *MemoryAccessLogStore) CloseLatest(ctx context.Context, username, ip string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *models.AccessLogEntry
	for _, entry := range s.entries {
		if entry.Username != username || entry.IPAddress != ip || entry.LogoutAt != nil {
			continue
		}
		if latest == nil || entry.LoginAt.After(latest.LoginAt) {
			latest = entry
		}
	}
	if latest == nil {
		return models.ErrNotFound
	}
	latest.LogoutAt = &at
	return nil
}

func (s *MemoryAccessLogStore) List(ctx context.Context, filter services.AccessLogFilter) ([]*models.AccessLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]*models.AccessLogEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		if filter.Username != "" && entry.Username != filter.Username {
			continue
		}
		if filter.IPAddress != "" && entry.IPAddress != filter.IPAddress {
			continue
		}
		clone := *entry
		matched = append(matched, &clone)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].LoginAt.After(matched[j].LoginAt)
	})

	if filter.Offset >= len(matched) {
		return []*models.AccessLogEntry{}, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (s *MemoryAccessLogStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	var removed int64
	for _, entry := range s.entries {
		if entry.LoginAt.Before(before) {
			removed++
			continue
		}
		kept = append(kept, entry)
	}
	s.entries = kept
	return removed, nil
}
