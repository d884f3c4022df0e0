package services

import (
	"time"

	"warden/internal/models"
)

// Verdict is the outcome of checking an attempt against lockout state.
// FailureCount is the highest live count among the evaluated scopes.
// RetryAfter is how long until the lock lapses on its own; it is zero when
// the verdict allows.
type Verdict struct {
	Locked       bool
	FailureCount int
	RetryAfter   time.Duration
}

// Evaluator decides whether a single attempt record locks a request. It is
// pure: it never mutates the record and never touches storage.
type Evaluator struct {
	policy Policy
}

// NewEvaluator creates an Evaluator for the given policy.
func NewEvaluator(policy Policy) *Evaluator {
	return &Evaluator{policy: policy}
}

// Decide computes the verdict for one record at the given instant.
//
// A nil record allows. A record whose last failure is older than the cooloff
// has lapsed and allows; expiry is lazy and nothing is deleted here. An
// unexpired record locks once its count reaches the failure limit, so with a
// limit of N the Nth failure is the one that locks.
func (e *Evaluator) Decide(record *models.AttemptRecord, now time.Time) Verdict {
	if record == nil {
		return Verdict{}
	}
	if now.Sub(record.LastFailureAt) > e.policy.CooloffTime {
		return Verdict{}
	}

	verdict := Verdict{FailureCount: record.FailureCount}
	if e.policy.LockAtFailure && record.FailureCount >= e.policy.FailureLimit {
		verdict.Locked = true
		verdict.RetryAfter = record.LastFailureAt.Add(e.policy.CooloffTime).Sub(now)
	}
	return verdict
}
