package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"warden/internal/models"
)

// AttemptStore is the persistence interface for attempt records. Lookups
// that find nothing return (nil, nil).
type AttemptStore interface {
	// Get returns the record for one scope key, or nil when none exists.
	Get(ctx context.Context, key string) (*models.AttemptRecord, error)
	// IncrementFailure atomically adds one failure to the scope's record
	// and returns the updated state. A record whose last failure predates
	// windowStart restarts counting at 1 instead of accumulating.
	IncrementFailure(ctx context.Context, scope Scope, userAgent string, at, windowStart time.Time) (*models.AttemptRecord, error)
	// Clear deletes the records for the given scope keys.
	Clear(ctx context.Context, keys []string) error
	// Reset deletes records matching the ip and username filters and
	// returns how many were removed. An empty filter matches everything,
	// so Reset(ctx, "", "") clears the store.
	Reset(ctx context.Context, ip, username string) (int64, error)
	// List returns stored records for operator inspection, most recent
	// failure first.
	List(ctx context.Context, limit, offset int) ([]*models.AttemptRecord, error)
	// DeleteOlderThan removes records whose last failure predates cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// TrustStore persists (username, ip) pairs that have completed a full
// login+logout cycle.
type TrustStore interface {
	Upsert(ctx context.Context, username, ip string, at time.Time) error
	// Get returns the trust record for a pair, or nil when none exists.
	Get(ctx context.Context, username, ip string) (*models.TrustRecord, error)
	Reset(ctx context.Context, ip, username string) (int64, error)
}

// Policy holds the knobs that drive scope derivation and lockout decisions.
type Policy struct {
	// FailureLimit is the count at which a scope locks. The Nth failure
	// with a limit of N is the one that gets rejected.
	FailureLimit int
	// CooloffTime is how long a lock holds after the most recent failure.
	CooloffTime time.Duration
	// LockByCombination counts failures per username+IP pair instead of
	// per IP and per username independently.
	LockByCombination bool
	// UseUserAgent folds the client's user agent into every scope key so
	// different clients behind one IP are counted apart.
	UseUserAgent bool
	// OnlyUserFailures counts failures per username alone, ignoring the
	// client IP.
	OnlyUserFailures bool
	// LockAtFailure turns counting into blocking. When false the guard
	// runs in shadow mode: failures accrue and are logged, but every
	// verdict allows and no lockout events fire.
	LockAtFailure bool
}

// Attempt is one observed authentication attempt.
type Attempt struct {
	Username  string
	IPAddress string
	UserAgent string
	// HTTPAccept and PathInfo are carried into the access log on success
	// and are otherwise ignored.
	HTTPAccept string
	PathInfo   string
	Success    bool
	// At is when the attempt happened. Zero means now.
	At time.Time
}

// AttemptStatus pairs a stored record with its lock state derived at read
// time. Locked is never persisted anywhere.
type AttemptStatus struct {
	Record     *models.AttemptRecord
	Locked     bool
	RetryAfter time.Duration
}

// LockoutService records attempt outcomes, answers lockout verdicts and
// handles operator resets. It is the only writer of the attempt, trust and
// access log stores.
type LockoutService struct {
	policy    Policy
	scopes    *ScopePolicy
	evaluator *Evaluator
	attempts  AttemptStore
	trust     TrustStore
	accessLog AccessLogStore
	logger    *slog.Logger

	mu       sync.RWMutex
	handlers []LockoutHandler
}

// NewLockoutService creates a LockoutService over the given stores.
func NewLockoutService(policy Policy, attempts AttemptStore, trust TrustStore, accessLog AccessLogStore, logger *slog.Logger) *LockoutService {
	return &LockoutService{
		policy:    policy,
		scopes:    NewScopePolicy(policy),
		evaluator: NewEvaluator(policy),
		attempts:  attempts,
		trust:     trust,
		accessLog: accessLog,
		logger:    logger,
	}
}

// OnLockout registers a handler for lockout events. Handlers are invoked
// synchronously in registration order, once per allowed-to-locked
// transition. A handler that fails or panics is logged and never changes
// the verdict.
func (s *LockoutService) OnLockout(handler LockoutHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// RecordAttempt records one attempt outcome and returns the verdict. It is
// total: store failures are logged and the attempt is allowed rather than
// surfaced, so a broken store never locks legitimate users out.
//
// While any scope is locked the call short-circuits: nothing is counted, no
// access log entry is written, and a success with correct credentials still
// comes back locked until the cooloff lapses or an operator resets.
func (s *LockoutService) RecordAttempt(ctx context.Context, attempt Attempt) Verdict {
	if attempt.At.IsZero() {
		attempt.At = time.Now()
	}
	attempt.UserAgent = models.TruncateUserAgent(attempt.UserAgent)

	scopes := s.scopes.ScopesFor(attempt.Username, attempt.IPAddress, attempt.UserAgent)
	if len(scopes) == 0 {
		return Verdict{}
	}

	current, ok := s.evaluateScopes(ctx, scopes, attempt.At)
	if !ok {
		return Verdict{}
	}
	if current.Locked {
		s.logger.Warn("attempt while locked out",
			slog.String("username", attempt.Username),
			slog.String("ip_address", attempt.IPAddress),
			slog.Int("failure_count", current.FailureCount))
		return current
	}

	if attempt.Success {
		return s.recordSuccess(ctx, scopes, attempt)
	}
	return s.recordFailure(ctx, scopes, attempt)
}

// Check reports the current lockout state for an identity without recording
// anything, so callers can gate a request before touching credentials.
func (s *LockoutService) Check(ctx context.Context, username, ip, userAgent string) Verdict {
	scopes := s.scopes.ScopesFor(username, ip, models.TruncateUserAgent(userAgent))
	verdict, ok := s.evaluateScopes(ctx, scopes, time.Now())
	if !ok {
		return Verdict{}
	}
	return verdict
}

// RecordLogout closes the newest open access log entry for the identity and,
// once a full login+logout cycle has completed, marks the (username, ip)
// pair trusted. Trust is informational and never changes verdicts.
func (s *LockoutService) RecordLogout(ctx context.Context, username, ip string, at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}

	err := s.accessLog.CloseLatest(ctx, username, ip, at)
	if errors.Is(err, models.ErrNotFound) {
		// Logout without a recorded login: nothing to close, no cycle
		// completed.
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to close access log entry: %w", err)
	}

	if username == "" || ip == "" {
		return nil
	}
	if err := s.trust.Upsert(ctx, username, ip, at); err != nil {
		return fmt.Errorf("failed to record trusted pair: %w", err)
	}
	return nil
}

// Reset clears attempt records matching the given filters and returns how
// many were removed. Both filters empty clears everything; both set clears
// only records matching the username AND the ip. Trust records are left
// alone; use ResetTrust for those.
func (s *LockoutService) Reset(ctx context.Context, ip, username string) (int64, error) {
	removed, err := s.attempts.Reset(ctx, ip, username)
	if err != nil {
		return 0, fmt.Errorf("failed to reset attempt records: %w", err)
	}
	s.logger.Info("attempt records reset",
		slog.String("ip_address", ip),
		slog.String("username", username),
		slog.Int64("removed", removed))
	return removed, nil
}

// ResetTrust clears trust records matching the given filters and returns
// how many were removed.
func (s *LockoutService) ResetTrust(ctx context.Context, ip, username string) (int64, error) {
	removed, err := s.trust.Reset(ctx, ip, username)
	if err != nil {
		return 0, fmt.Errorf("failed to reset trust records: %w", err)
	}
	s.logger.Info("trust records reset",
		slog.String("ip_address", ip),
		slog.String("username", username),
		slog.Int64("removed", removed))
	return removed, nil
}

// IsTrusted reports whether the (username, ip) pair has completed a
// login+logout cycle before. The answer is informational only.
func (s *LockoutService) IsTrusted(ctx context.Context, username, ip string) bool {
	if username == "" || ip == "" {
		return false
	}
	record, err := s.trust.Get(ctx, username, ip)
	if err != nil {
		s.logger.Error("failed to read trust record",
			slog.String("username", username),
			slog.String("ip_address", ip),
			slog.Any("error", err))
		return false
	}
	return record != nil
}

// ListAttempts returns stored attempt records with their lock state derived
// at read time, for operator inspection.
func (s *LockoutService) ListAttempts(ctx context.Context, limit, offset int) ([]AttemptStatus, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}

	records, err := s.attempts.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempt records: %w", err)
	}

	now := time.Now()
	statuses := make([]AttemptStatus, 0, len(records))
	for _, record := range records {
		decision := s.evaluator.Decide(record, now)
		statuses = append(statuses, AttemptStatus{
			Record:     record,
			Locked:     decision.Locked,
			RetryAfter: decision.RetryAfter,
		})
	}
	return statuses, nil
}

// evaluateScopes reads and evaluates every scope, merging the per-scope
// decisions into one verdict. The second return is false when the store
// failed and the caller should fail open.
func (s *LockoutService) evaluateScopes(ctx context.Context, scopes []Scope, now time.Time) (Verdict, bool) {
	var verdict Verdict
	for _, scope := range scopes {
		record, err := s.attempts.Get(ctx, scope.Key)
		if err != nil {
			// Fail open for availability: a store outage must not
			// lock legitimate users out.
			s.logger.Error("failed to read attempt record",
				slog.String("scope_key", scope.Key),
				slog.Any("error", err))
			return Verdict{}, false
		}
		verdict = mergeVerdicts(verdict, s.evaluator.Decide(record, now))
	}
	return verdict, true
}

func (s *LockoutService) recordFailure(ctx context.Context, scopes []Scope, attempt Attempt) Verdict {
	windowStart := attempt.At.Add(-s.policy.CooloffTime)

	var verdict Verdict
	var tripped *models.AttemptRecord
	var trippedScope Scope
	for _, scope := range scopes {
		record, err := s.attempts.IncrementFailure(ctx, scope, attempt.UserAgent, attempt.At, windowStart)
		if err != nil {
			s.logger.Error("failed to record login failure",
				slog.String("scope_key", scope.Key),
				slog.Any("error", err))
			continue
		}
		decision := s.evaluator.Decide(record, attempt.At)
		if decision.Locked && !verdict.Locked {
			tripped = record
			trippedScope = scope
		}
		verdict = mergeVerdicts(verdict, decision)
	}

	if tripped != nil {
		s.logger.Warn("lockout threshold crossed",
			slog.String("scope_kind", trippedScope.Kind),
			slog.String("scope_key", trippedScope.Key),
			slog.Int("failure_count", tripped.FailureCount))
		s.emitLockout(ctx, trippedScope, tripped, attempt)
	} else if !s.policy.LockAtFailure && verdict.FailureCount >= s.policy.FailureLimit {
		s.logger.Warn("failure limit crossed in shadow mode",
			slog.String("username", attempt.Username),
			slog.String("ip_address", attempt.IPAddress),
			slog.Int("failure_count", verdict.FailureCount))
	}
	return verdict
}

func (s *LockoutService) recordSuccess(ctx context.Context, scopes []Scope, attempt Attempt) Verdict {
	keys := make([]string, len(scopes))
	for i, scope := range scopes {
		keys[i] = scope.Key
	}
	if err := s.attempts.Clear(ctx, keys); err != nil {
		s.logger.Error("failed to clear attempt records after login",
			slog.String("username", attempt.Username),
			slog.String("ip_address", attempt.IPAddress),
			slog.Any("error", err))
	}

	entry := &models.AccessLogEntry{
		ID:         uuid.New(),
		Username:   attempt.Username,
		IPAddress:  attempt.IPAddress,
		UserAgent:  attempt.UserAgent,
		HTTPAccept: optionalString(attempt.HTTPAccept),
		PathInfo:   optionalString(attempt.PathInfo),
		LoginAt:    attempt.At,
	}
	if err := s.accessLog.Append(ctx, entry); err != nil {
		s.logger.Error("failed to append access log entry",
			slog.String("username", attempt.Username),
			slog.Any("error", err))
	}
	return Verdict{}
}

func (s *LockoutService) emitLockout(ctx context.Context, scope Scope, record *models.AttemptRecord, attempt Attempt) {
	event := LockoutEvent{
		ID:           uuid.New(),
		Username:     attempt.Username,
		IPAddress:    attempt.IPAddress,
		UserAgent:    attempt.UserAgent,
		ScopeKind:    scope.Kind,
		ScopeKey:     scope.Key,
		FailureCount: record.FailureCount,
		LockedAt:     attempt.At,
		ExpiresAt:    attempt.At.Add(s.policy.CooloffTime),
	}

	s.mu.RLock()
	handlers := make([]LockoutHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.RUnlock()

	for _, handler := range handlers {
		s.invokeHandler(ctx, handler, event)
	}
}

func (s *LockoutService) invokeHandler(ctx context.Context, handler LockoutHandler, event LockoutEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("lockout handler panicked",
				slog.String("event_id", event.ID.String()),
				slog.Any("panic", r))
		}
	}()
	handler(ctx, event)
}

// mergeVerdicts folds one scope's decision into the overall verdict. The
// overall verdict locks if any scope locks, reports the highest failure
// count, and keeps the longest remaining lock time.
func mergeVerdicts(overall, scope Verdict) Verdict {
	if scope.FailureCount > overall.FailureCount {
		overall.FailureCount = scope.FailureCount
	}
	if scope.Locked {
		overall.Locked = true
		if scope.RetryAfter > overall.RetryAfter {
			overall.RetryAfter = scope.RetryAfter
		}
	}
	return overall
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
