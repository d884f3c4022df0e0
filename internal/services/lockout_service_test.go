package services_test

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"warden/internal/models"
	"warden/internal/services"
)

// memoryAttemptStore implements services.AttemptStore for testing, with the
// same per-key increment and window-restart semantics as the real backends.
type memoryAttemptStore struct {
	records      map[string]*models.AttemptRecord
	getErr       error
	incrementErr error
}

func newMemoryAttemptStore() *memoryAttemptStore {
	return &memoryAttemptStore{records: make(map[string]*models.AttemptRecord)}
}

func (m *memoryAttemptStore) Get(ctx context.Context, key string) (*models.AttemptRecord, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	record, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	clone := *record
	return &clone, nil
}

func (m *memoryAttemptStore) IncrementFailure(ctx context.Context, scope services.Scope, userAgent string, at, windowStart time.Time) (*models.AttemptRecord, error) {
	if m.incrementErr != nil {
		return nil, m.incrementErr
	}
	record, ok := m.records[scope.Key]
	if !ok || record.LastFailureAt.Before(windowStart) {
		record = &models.AttemptRecord{
			Key:            scope.Key,
			Kind:           scope.Kind,
			Username:       scope.Username,
			IPAddress:      scope.IPAddress,
			FirstFailureAt: at,
		}
		m.records[scope.Key] = record
	}
	record.FailureCount++
	record.UserAgent = userAgent
	record.LastFailureAt = at
	clone := *record
	return &clone, nil
}

func (m *memoryAttemptStore) Clear(ctx context.Context, keys []string) error {
	for _, key := range keys {
		delete(m.records, key)
	}
	return nil
}

func (m *memoryAttemptStore) Reset(ctx context.Context, ip, username string) (int64, error) {
	var removed int64
	for key, record := range m.records {
		if ip != "" && (record.IPAddress == nil || *record.IPAddress != ip) {
			continue
		}
		if username != "" && (record.Username == nil || *record.Username != username) {
			continue
		}
		delete(m.records, key)
		removed++
	}
	return removed, nil
}

func (m *memoryAttemptStore) List(ctx context.Context, limit, offset int) ([]*models.AttemptRecord, error) {
	records := make([]*models.AttemptRecord, 0, len(m.records))
	for _, record := range m.records {
		clone := *record
		records = append(records, &clone)
	}
	return records, nil
}

func (m *memoryAttemptStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	for key, record := range m.records {
		if record.LastFailureAt.Before(cutoff) {
			delete(m.records, key)
			removed++
		}
	}
	return removed, nil
}

func newTestLockoutService(policy services.Policy) (*services.LockoutService, *memoryAttemptStore, *services.MockTrustStore, *services.MockAccessLogStore) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	attempts := newMemoryAttemptStore()
	trust := &services.MockTrustStore{}
	accessLog := &services.MockAccessLogStore{}
	service := services.NewLockoutService(policy, attempts, trust, accessLog, logger)
	return service, attempts, trust, accessLog
}

func failure(username, ip string, at time.Time) services.Attempt {
	return services.Attempt{
		Username:  username,
		IPAddress: ip,
		UserAgent: "Mozilla/5.0",
		Success:   false,
		At:        at,
	}
}

func success(username, ip string, at time.Time) services.Attempt {
	attempt := failure(username, ip, at)
	attempt.Success = true
	return attempt
}

func TestLockoutServiceRecordAttempt_AllowsBelowLimit(t *testing.T) {
	service, _, _, _ := newTestLockoutService(services.NewTestPolicy())
	ctx := context.Background()
	now := time.Now()

	first := service.RecordAttempt(ctx, failure("bob", "10.0.0.1", now))
	second := service.RecordAttempt(ctx, failure("bob", "10.0.0.1", now.Add(time.Second)))

	assert.False(t, first.Locked)
	assert.Equal(t, 1, first.FailureCount)
	assert.False(t, second.Locked)
	assert.Equal(t, 2, second.FailureCount)
}

func TestLockoutServiceRecordAttempt_LocksAtThirdFailure(t *testing.T) {
	service, _, _, _ := newTestLockoutService(services.NewTestPolicy())
	ctx := context.Background()
	now := time.Now()

	service.RecordAttempt(ctx, failure("bob", "10.0.0.1", now))
	service.RecordAttempt(ctx, failure("bob", "10.0.0.1", now.Add(time.Second)))
	third := service.RecordAttempt(ctx, failure("bob", "10.0.0.1", now.Add(2*time.Second)))

	assert.True(t, third.Locked)
	assert.Equal(t, 3, third.FailureCount)
	assert.Greater(t, third.RetryAfter, 59*time.Minute)
}

func TestLockoutServiceRecordAttempt_CorrectCredentialsStayLocked(t *testing.T) {
	service, attempts, _, accessLog := newTestLockoutService(services.NewTestPolicy())
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		service.RecordAttempt(ctx, failure("bob", "10.0.0.1", now))
	}

	verdict := service.RecordAttempt(ctx, success("bob", "10.0.0.1", now.Add(time.Minute)))

	assert.True(t, verdict.Locked)
	// The locked short-circuit records nothing: counters stay, no login
	// is logged.
	assert.Empty(t, accessLog.Appended)
	record, err := attempts.Get(ctx, "ip:10.0.0.1")
	assert.NoError(t, err)
	assert.Equal(t, 3, record.FailureCount)
}

func TestLockoutServiceRecordAttempt_SuccessClearsCounters(t *testing.T) {
	service, _, _, accessLog := newTestLockoutService(services.NewTestPolicy())
	ctx := context.Background()
	now := time.Now()

	service.RecordAttempt(ctx, failure("bob", "10.0.0.1", now))
	service.RecordAttempt(ctx, failure("bob", "10.0.0.1", now))
	verdict := service.RecordAttempt(ctx, success("bob", "10.0.0.1", now.Add(time.Second)))

	assert.False(t, verdict.Locked)
	assert.Len(t, accessLog.Appended, 1)
	assert.Equal(t, "bob", accessLog.Appended[0].Username)

	// Counting starts over after the clear.
	next := service.RecordAttempt(ctx, failure("bob", "10.0.0.1", now.Add(2*time.Second)))
	assert.False(t, next.Locked)
	assert.Equal(t, 1, next.FailureCount)
}

func TestLockoutServiceRecordAttempt_ReallowsAfterCooloff(t *testing.T) {
	service, _, _, _ := newTestLockoutService(services.NewTestPolicy())
	ctx := context.Background()
	base := time.Now().Add(-2 * time.Hour)

	for i := 0; i < 3; i++ {
		service.RecordAttempt(ctx, failure("bob", "10.0.0.1", base))
	}

	// No reset and no sweeper ran; the lock lapses purely by evaluation
	// time, and the next failure starts a fresh window.
	verdict := service.RecordAttempt(ctx, failure("bob", "10.0.0.1", time.Now()))

	assert.False(t, verdict.Locked)
	assert.Equal(t, 1, verdict.FailureCount)
}

func TestLockoutServiceRecordAttempt_WindowRestartCounting(t *testing.T) {
	service, _, _, _ := newTestLockoutService(services.NewTestPolicy())
	ctx := context.Background()
	base := time.Now().Add(-3 * time.Hour)

	service.RecordAttempt(ctx, failure("bob", "10.0.0.1", base))
	service.RecordAttempt(ctx, failure("bob", "10.0.0.1", base.Add(time.Minute)))
	stale := service.RecordAttempt(ctx, failure("bob", "10.0.0.1", base.Add(2*time.Hour)))

	assert.False(t, stale.Locked)
	assert.Equal(t, 1, stale.FailureCount)
}

func TestLockoutServiceRecordAttempt_DefaultModeLocksEitherAxis(t *testing.T) {
	service, _, _, _ := newTestLockoutService(services.NewTestPolicy())
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		service.RecordAttempt(ctx, failure("alice", "10.0.0.1", now))
	}

	sameIP := service.Check(ctx, "bob", "10.0.0.1", "")
	sameUser := service.Check(ctx, "alice", "10.0.0.2", "")
	unrelated := service.Check(ctx, "carol", "10.0.0.2", "")

	assert.True(t, sameIP.Locked)
	assert.True(t, sameUser.Locked)
	assert.False(t, unrelated.Locked)
}

func TestLockoutServiceRecordAttempt_CombinationModeIsolatesPairs(t *testing.T) {
	policy := services.NewTestPolicy()
	policy.LockByCombination = true
	service, _, _, _ := newTestLockoutService(policy)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		service.RecordAttempt(ctx, failure("alice", "10.0.0.1", now))
	}

	lockedPair := service.Check(ctx, "alice", "10.0.0.1", "")
	sameUserOtherIP := service.Check(ctx, "alice", "10.0.0.2", "")
	otherUserSameIP := service.Check(ctx, "bob", "10.0.0.1", "")

	assert.True(t, lockedPair.Locked)
	assert.False(t, sameUserOtherIP.Locked)
	assert.False(t, otherUserSameIP.Locked)
}

func TestLockoutServiceRecordAttempt_OnlyUserFailuresFollowsUsername(t *testing.T) {
	policy := services.NewTestPolicy()
	policy.OnlyUserFailures = true
	service, _, _, _ := newTestLockoutService(policy)
	ctx := context.Background()
	now := time.Now()

	// Three failures for one username from three different addresses.
	service.RecordAttempt(ctx, failure("alice", "10.0.0.1", now))
	service.RecordAttempt(ctx, failure("alice", "10.0.0.2", now))
	third := service.RecordAttempt(ctx, failure("alice", "10.0.0.3", now))

	assert.True(t, third.Locked)
	assert.True(t, service.Check(ctx, "alice", "172.16.0.9", "").Locked)
	assert.False(t, service.Check(ctx, "bob", "10.0.0.1", "").Locked)
}

func TestLockoutServiceRecordAttempt_EmptyUsernameFallsBackToIP(t *testing.T) {
	policy := services.NewTestPolicy()
	policy.OnlyUserFailures = true
	service, _, _, _ := newTestLockoutService(policy)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		service.RecordAttempt(ctx, failure("", "10.0.0.1", now))
	}

	verdict := service.Check(ctx, "", "10.0.0.1", "")

	assert.True(t, verdict.Locked)
}

func TestLockoutServiceRecordAttempt_ShadowModeCountsWithoutLocking(t *testing.T) {
	policy := services.NewTestPolicy()
	policy.LockAtFailure = false
	service, _, _, _ := newTestLockoutService(policy)
	ctx := context.Background()
	now := time.Now()

	var events []services.LockoutEvent
	service.OnLockout(func(ctx context.Context, event services.LockoutEvent) {
		events = append(events, event)
	})

	var last services.Verdict
	for i := 0; i < 5; i++ {
		last = service.RecordAttempt(ctx, failure("bob", "10.0.0.1", now.Add(time.Duration(i)*time.Second)))
	}

	assert.False(t, last.Locked)
	assert.Equal(t, 5, last.FailureCount)
	assert.Empty(t, events)
}

func TestLockoutServiceRecordAttempt_FailsOpenOnStoreError(t *testing.T) {
	service, attempts, _, _ := newTestLockoutService(services.NewTestPolicy())
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		service.RecordAttempt(ctx, failure("bob", "10.0.0.1", now))
	}
	assert.True(t, service.Check(ctx, "bob", "10.0.0.1", "").Locked)

	attempts.getErr = models.ErrStoreUnavailable

	verdict := service.RecordAttempt(ctx, failure("bob", "10.0.0.1", now))

	assert.False(t, verdict.Locked)
}

func TestLockoutServiceRecordAttempt_EmitsOneEventPerTransition(t *testing.T) {
	service, _, _, _ := newTestLockoutService(services.NewTestPolicy())
	ctx := context.Background()
	now := time.Now()

	var events []services.LockoutEvent
	service.OnLockout(func(ctx context.Context, event services.LockoutEvent) {
		events = append(events, event)
	})

	// Third failure crosses the limit on both the IP and the username
	// scope at once; that is still a single event.
	for i := 0; i < 3; i++ {
		service.RecordAttempt(ctx, failure("bob", "10.0.0.1", now))
	}
	assert.Len(t, events, 1)
	assert.Equal(t, "bob", events[0].Username)
	assert.Equal(t, "10.0.0.1", events[0].IPAddress)
	assert.Equal(t, 3, events[0].FailureCount)

	// Attempts while locked short-circuit and stay silent.
	service.RecordAttempt(ctx, failure("bob", "10.0.0.1", now.Add(time.Second)))
	assert.Len(t, events, 1)

	// A reset re-arms the transition.
	_, err := service.Reset(ctx, "", "")
	assert.NoError(t, err)
	for i := 0; i < 3; i++ {
		service.RecordAttempt(ctx, failure("bob", "10.0.0.1", now.Add(time.Minute)))
	}
	assert.Len(t, events, 2)
}

func TestLockoutServiceRecordAttempt_HandlerPanicDoesNotChangeVerdict(t *testing.T) {
	service, _, _, _ := newTestLockoutService(services.NewTestPolicy())
	ctx := context.Background()
	now := time.Now()

	service.OnLockout(func(ctx context.Context, event services.LockoutEvent) {
		panic("subscriber exploded")
	})
	called := false
	service.OnLockout(func(ctx context.Context, event services.LockoutEvent) {
		called = true
	})

	var verdict services.Verdict
	for i := 0; i < 3; i++ {
		verdict = service.RecordAttempt(ctx, failure("bob", "10.0.0.1", now))
	}

	assert.True(t, verdict.Locked)
	assert.True(t, called)
}

func TestLockoutServiceRecordAttempt_HugeUserAgentIsHarmless(t *testing.T) {
	policy := services.NewTestPolicy()
	policy.UseUserAgent = true
	service, attempts, _, _ := newTestLockoutService(policy)
	ctx := context.Background()
	now := time.Now()

	hugeUA := strings.Repeat("x", 4096)
	attempt := failure("bob", "10.0.0.1", now)
	attempt.UserAgent = hugeUA

	var verdict services.Verdict
	for i := 0; i < 3; i++ {
		verdict = service.RecordAttempt(ctx, attempt)
	}

	assert.True(t, verdict.Locked)
	for _, record := range attempts.records {
		assert.LessOrEqual(t, len(record.UserAgent), models.MaxUserAgentLength)
	}
}

func TestLockoutServiceCheck_DoesNotMutate(t *testing.T) {
	service, attempts, _, _ := newTestLockoutService(services.NewTestPolicy())
	ctx := context.Background()
	now := time.Now()

	service.RecordAttempt(ctx, failure("bob", "10.0.0.1", now))
	service.RecordAttempt(ctx, failure("bob", "10.0.0.1", now))

	for i := 0; i < 10; i++ {
		verdict := service.Check(ctx, "bob", "10.0.0.1", "")
		assert.False(t, verdict.Locked)
		assert.Equal(t, 2, verdict.FailureCount)
	}

	record, err := attempts.Get(ctx, "ip:10.0.0.1")
	assert.NoError(t, err)
	assert.Equal(t, 2, record.FailureCount)
}

func TestLockoutServiceRecordLogout_MarksTrustAfterFullCycle(t *testing.T) {
	service, _, trust, accessLog := newTestLockoutService(services.NewTestPolicy())
	ctx := context.Background()
	now := time.Now()

	service.RecordAttempt(ctx, success("bob", "10.0.0.1", now))
	err := service.RecordLogout(ctx, "bob", "10.0.0.1", now.Add(time.Minute))

	assert.NoError(t, err)
	assert.NotNil(t, accessLog.Appended[0].LogoutAt)
	assert.True(t, service.IsTrusted(ctx, "bob", "10.0.0.1"))
	assert.False(t, service.IsTrusted(ctx, "bob", "10.0.0.2"))
	assert.Len(t, trust.Upserted, 1)
}

func TestLockoutServiceRecordLogout_WithoutLoginIsNoop(t *testing.T) {
	service, _, trust, _ := newTestLockoutService(services.NewTestPolicy())
	ctx := context.Background()

	err := service.RecordLogout(ctx, "bob", "10.0.0.1", time.Now())

	assert.NoError(t, err)
	assert.Empty(t, trust.Upserted)
	assert.False(t, service.IsTrusted(ctx, "bob", "10.0.0.1"))
}

func TestLockoutServiceReset_ByIP(t *testing.T) {
	service, _, _, _ := newTestLockoutService(services.NewTestPolicy())
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		service.RecordAttempt(ctx, failure("alice", "10.0.0.1", now))
		service.RecordAttempt(ctx, failure("bob", "10.0.0.2", now))
	}

	removed, err := service.Reset(ctx, "10.0.0.1", "")

	assert.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	// alice is still locked through her username scope; bob's address
	// was never touched.
	assert.False(t, service.Check(ctx, "", "10.0.0.1", "").Locked)
	assert.True(t, service.Check(ctx, "alice", "", "").Locked)
	assert.True(t, service.Check(ctx, "bob", "10.0.0.2", "").Locked)
}

func TestLockoutServiceReset_ByUsername(t *testing.T) {
	service, _, _, _ := newTestLockoutService(services.NewTestPolicy())
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		service.RecordAttempt(ctx, failure("alice", "10.0.0.1", now))
	}

	removed, err := service.Reset(ctx, "", "alice")

	assert.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.False(t, service.Check(ctx, "alice", "", "").Locked)
	assert.True(t, service.Check(ctx, "", "10.0.0.1", "").Locked)
}

func TestLockoutServiceReset_AllClearsEverything(t *testing.T) {
	service, _, _, _ := newTestLockoutService(services.NewTestPolicy())
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		service.RecordAttempt(ctx, failure("alice", "10.0.0.1", now))
		service.RecordAttempt(ctx, failure("bob", "10.0.0.2", now))
	}

	removed, err := service.Reset(ctx, "", "")

	assert.NoError(t, err)
	assert.Equal(t, int64(4), removed)
	assert.False(t, service.Check(ctx, "alice", "10.0.0.1", "").Locked)
	assert.False(t, service.Check(ctx, "bob", "10.0.0.2", "").Locked)
}

func TestLockoutServiceReset_LeavesTrustAlone(t *testing.T) {
	service, _, _, _ := newTestLockoutService(services.NewTestPolicy())
	ctx := context.Background()
	now := time.Now()

	service.RecordAttempt(ctx, success("bob", "10.0.0.1", now))
	assert.NoError(t, service.RecordLogout(ctx, "bob", "10.0.0.1", now.Add(time.Minute)))

	_, err := service.Reset(ctx, "", "")
	assert.NoError(t, err)
	assert.True(t, service.IsTrusted(ctx, "bob", "10.0.0.1"))

	removed, err := service.ResetTrust(ctx, "", "")
	assert.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.False(t, service.IsTrusted(ctx, "bob", "10.0.0.1"))
}

func TestLockoutServiceListAttempts_DerivesLockState(t *testing.T) {
	service, _, _, _ := newTestLockoutService(services.NewTestPolicy())
	ctx := context.Background()
	now := time.Now()

	service.RecordAttempt(ctx, failure("alice", "10.0.0.1", now))
	for i := 0; i < 3; i++ {
		service.RecordAttempt(ctx, failure("bob", "10.0.0.2", now))
	}

	statuses, err := service.ListAttempts(ctx, 0, 0)

	assert.NoError(t, err)
	assert.Len(t, statuses, 4)
	byKey := make(map[string]services.AttemptStatus, len(statuses))
	for _, status := range statuses {
		byKey[status.Record.Key] = status
	}
	assert.False(t, byKey["ip:10.0.0.1"].Locked)
	assert.True(t, byKey["ip:10.0.0.2"].Locked)
	assert.True(t, byKey["user:bob"].Locked)
}
