package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"warden/internal/models"
	"warden/internal/services"
)

func ipScope(ip string) services.Scope {
	return services.Scope{Kind: models.ScopeKindIP, Key: "ip:" + ip, IPAddress: &ip}
}

func userScope(username string) services.Scope {
	return services.Scope{Kind: models.ScopeKindUsername, Key: "user:" + username, Username: &username}
}

func TestMemoryAttemptStoreIncrementFailure_CountsWithinWindow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAttemptStore()
	now := time.Now().UTC()
	windowStart := now.Add(-time.Hour)

	record, err := store.IncrementFailure(ctx, ipScope("10.0.0.1"), "curl/8.0", now, windowStart)
	assert.NoError(t, err)
	assert.Equal(t, 1, record.FailureCount)
	assert.Equal(t, now, record.FirstFailureAt)

	record, err = store.IncrementFailure(ctx, ipScope("10.0.0.1"), "curl/8.0", now.Add(time.Minute), windowStart)
	assert.NoError(t, err)
	assert.Equal(t, 2, record.FailureCount)
	assert.Equal(t, now, record.FirstFailureAt)
	assert.Equal(t, now.Add(time.Minute), record.LastFailureAt)
}

func TestMemoryAttemptStoreIncrementFailure_RestartsStaleWindow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAttemptStore()
	now := time.Now().UTC()

	_, err := store.IncrementFailure(ctx, ipScope("10.0.0.1"), "curl/8.0", now.Add(-2*time.Hour), now.Add(-3*time.Hour))
	assert.NoError(t, err)

	record, err := store.IncrementFailure(ctx, ipScope("10.0.0.1"), "curl/8.0", now, now.Add(-time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, 1, record.FailureCount)
	assert.Equal(t, now, record.FirstFailureAt)
}

func TestMemoryAttemptStoreGet_ReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAttemptStore()
	now := time.Now().UTC()

	_, err := store.IncrementFailure(ctx, ipScope("10.0.0.1"), "curl/8.0", now, now.Add(-time.Hour))
	assert.NoError(t, err)

	record, err := store.Get(ctx, "ip:10.0.0.1")
	assert.NoError(t, err)
	record.FailureCount = 99

	again, err := store.Get(ctx, "ip:10.0.0.1")
	assert.NoError(t, err)
	assert.Equal(t, 1, again.FailureCount)
}

func TestMemoryAttemptStoreGet_MissingKeyReturnsNil(t *testing.T) {
	store := NewMemoryAttemptStore()

	record, err := store.Get(context.Background(), "ip:203.0.113.9")
	assert.NoError(t, err)
	assert.Nil(t, record)
}

func TestMemoryAttemptStoreClear_RemovesOnlyGivenKeys(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAttemptStore()
	now := time.Now().UTC()
	windowStart := now.Add(-time.Hour)

	_, _ = store.IncrementFailure(ctx, ipScope("10.0.0.1"), "", now, windowStart)
	_, _ = store.IncrementFailure(ctx, ipScope("10.0.0.2"), "", now, windowStart)

	err := store.Clear(ctx, []string{"ip:10.0.0.1", "ip:203.0.113.9"})
	assert.NoError(t, err)

	record, _ := store.Get(ctx, "ip:10.0.0.1")
	assert.Nil(t, record)
	record, _ = store.Get(ctx, "ip:10.0.0.2")
	assert.NotNil(t, record)
}

func TestMemoryAttemptStoreReset_FiltersByIdentity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAttemptStore()
	now := time.Now().UTC()
	windowStart := now.Add(-time.Hour)

	_, _ = store.IncrementFailure(ctx, ipScope("10.0.0.1"), "", now, windowStart)
	_, _ = store.IncrementFailure(ctx, ipScope("10.0.0.2"), "", now, windowStart)
	_, _ = store.IncrementFailure(ctx, userScope("bob"), "", now, windowStart)

	removed, err := store.Reset(ctx, "10.0.0.1", "")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = store.Reset(ctx, "", "bob")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = store.Reset(ctx, "", "")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestMemoryAttemptStoreList_NewestFirstWithPaging(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAttemptStore()
	now := time.Now().UTC()

	for i, ip := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		at := now.Add(time.Duration(i) * time.Minute)
		_, _ = store.IncrementFailure(ctx, ipScope(ip), "", at, at.Add(-time.Hour))
	}

	records, err := store.List(ctx, 2, 0)
	assert.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, "ip:10.0.0.3", records[0].Key)
	assert.Equal(t, "ip:10.0.0.2", records[1].Key)

	records, err = store.List(ctx, 2, 2)
	assert.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, "ip:10.0.0.1", records[0].Key)

	records, err = store.List(ctx, 10, 50)
	assert.NoError(t, err)
	assert.Empty(t, records)
}

func TestMemoryAttemptStoreDeleteOlderThan_PrunesStaleRecords(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAttemptStore()
	now := time.Now().UTC()

	_, _ = store.IncrementFailure(ctx, ipScope("10.0.0.1"), "", now.Add(-48*time.Hour), now.Add(-49*time.Hour))
	_, _ = store.IncrementFailure(ctx, ipScope("10.0.0.2"), "", now, now.Add(-time.Hour))

	removed, err := store.DeleteOlderThan(ctx, now.Add(-24*time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	record, _ := store.Get(ctx, "ip:10.0.0.2")
	assert.NotNil(t, record)
}

func TestMemoryTrustStoreUpsert_KeepsFirstSeen(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTrustStore()
	first := time.Now().UTC().Add(-time.Hour)
	second := first.Add(time.Hour)

	assert.NoError(t, store.Upsert(ctx, "bob", "10.0.0.1", first))
	assert.NoError(t, store.Upsert(ctx, "bob", "10.0.0.1", second))

	record, err := store.Get(ctx, "bob", "10.0.0.1")
	assert.NoError(t, err)
	assert.Equal(t, first, record.FirstSeenAt)
	assert.Equal(t, second, record.LastSeenAt)
}

func TestMemoryTrustStoreGet_UnknownPairReturnsNil(t *testing.T) {
	store := NewMemoryTrustStore()

	record, err := store.Get(context.Background(), "bob", "10.0.0.1")
	assert.NoError(t, err)
	assert.Nil(t, record)
}

func TestMemoryTrustStoreReset_FiltersByIdentity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTrustStore()
	now := time.Now().UTC()

	_ = store.Upsert(ctx, "bob", "10.0.0.1", now)
	_ = store.Upsert(ctx, "bob", "10.0.0.2", now)
	_ = store.Upsert(ctx, "alice", "10.0.0.1", now)

	removed, err := store.Reset(ctx, "10.0.0.1", "bob")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	removed, err = store.Reset(ctx, "", "bob")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	record, _ := store.Get(ctx, "alice", "10.0.0.1")
	assert.NotNil(t, record)
}

func TestMemoryAccessLogStoreCloseLatest_ClosesNewestOpenEntry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAccessLogStore()
	now := time.Now().UTC()

	_ = store.Append(ctx, &models.AccessLogEntry{Username: "bob", IPAddress: "10.0.0.1", LoginAt: now.Add(-2 * time.Hour)})
	_ = store.Append(ctx, &models.AccessLogEntry{Username: "bob", IPAddress: "10.0.0.1", LoginAt: now.Add(-time.Hour)})

	err := store.CloseLatest(ctx, "bob", "10.0.0.1", now)
	assert.NoError(t, err)

	entries, err := store.List(ctx, services.AccessLogFilter{Username: "bob"})
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.NotNil(t, entries[0].LogoutAt)
	assert.Nil(t, entries[1].LogoutAt)
}

func TestMemoryAccessLogStoreCloseLatest_NoOpenEntry(t *testing.T) {
	store := NewMemoryAccessLogStore()

	err := store.CloseLatest(context.Background(), "bob", "10.0.0.1", time.Now().UTC())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryAccessLogStoreList_FiltersAndPages(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAccessLogStore()
	now := time.Now().UTC()

	_ = store.Append(ctx, &models.AccessLogEntry{Username: "bob", IPAddress: "10.0.0.1", LoginAt: now.Add(-3 * time.Hour)})
	_ = store.Append(ctx, &models.AccessLogEntry{Username: "bob", IPAddress: "10.0.0.2", LoginAt: now.Add(-2 * time.Hour)})
	_ = store.Append(ctx, &models.AccessLogEntry{Username: "alice", IPAddress: "10.0.0.1", LoginAt: now.Add(-time.Hour)})

	entries, err := store.List(ctx, services.AccessLogFilter{Username: "bob"})
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, "10.0.0.2", entries[0].IPAddress)

	entries, err = store.List(ctx, services.AccessLogFilter{IPAddress: "10.0.0.1", Limit: 1})
	assert.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Username)
}

func TestMemoryAccessLogStorePrune_DropsEntriesBeforeCutoff(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryAccessLogStore()
	now := time.Now().UTC()

	_ = store.Append(ctx, &models.AccessLogEntry{Username: "bob", IPAddress: "10.0.0.1", LoginAt: now.Add(-72 * time.Hour)})
	_ = store.Append(ctx, &models.AccessLogEntry{Username: "bob", IPAddress: "10.0.0.1", LoginAt: now})

	removed, err := store.Prune(ctx, now.Add(-24*time.Hour))
	assert.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	entries, _ := store.List(ctx, services.AccessLogFilter{})
	assert.Len(t, entries, 1)
}
