package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"warden/internal/auth"
	"warden/internal/models"
	"warden/internal/services"
	pkghttp "warden/pkg/http"
	pkglogger "warden/pkg/logger"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithOperatorContext adds operator claims to request context for testing
// endpoints that name the acting operator on audit lines
func WithOperatorContext(req *http.Request, subject string) *http.Request {
	claims := &models.OperatorClaims{Scope: models.TokenScopeAdmin}
	claims.Subject = subject
	ctx := context.WithValue(req.Context(), auth.OperatorContextKey, claims)
	return req.WithContext(ctx)
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// NewTestAuditLogger returns an audit logger that writes nowhere
func NewTestAuditLogger() *pkglogger.AuditLogger {
	return pkglogger.NewAuditLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// MockLockoutService implements LockoutServiceInterface and LockoutAdminService for testing
type MockLockoutService struct {
	RecordAttemptFunc func(ctx context.Context, attempt services.Attempt) services.Verdict
	CheckFunc         func(ctx context.Context, username, ip, userAgent string) services.Verdict
	RecordLogoutFunc  func(ctx context.Context, username, ip string, at time.Time) error
	IsTrustedFunc     func(ctx context.Context, username, ip string) bool
	ResetFunc         func(ctx context.Context, ip, username string) (int64, error)
	ResetTrustFunc    func(ctx context.Context, ip, username string) (int64, error)
	ListAttemptsFunc  func(ctx context.Context, limit, offset int) ([]services.AttemptStatus, error)
}

func (m *MockLockoutService) RecordAttempt(ctx context.Context, attempt services.Attempt) services.Verdict {
	if m.RecordAttemptFunc == nil {
		return services.Verdict{}
	}
	return m.RecordAttemptFunc(ctx, attempt)
}

func (m *MockLockoutService) Check(ctx context.Context, username, ip, userAgent string) services.Verdict {
	if m.CheckFunc == nil {
		return services.Verdict{}
	}
	return m.CheckFunc(ctx, username, ip, userAgent)
}

func (m *MockLockoutService) RecordLogout(ctx context.Context, username, ip string, at time.Time) error {
	if m.RecordLogoutFunc == nil {
		return nil
	}
	return m.RecordLogoutFunc(ctx, username, ip, at)
}

func (m *MockLockoutService) IsTrusted(ctx context.Context, username, ip string) bool {
	if m.IsTrustedFunc == nil {
		return false
	}
	return m.IsTrustedFunc(ctx, username, ip)
}

func (m *MockLockoutService) Reset(ctx context.Context, ip, username string) (int64, error) {
	if m.ResetFunc == nil {
		return 0, nil
	}
	return m.ResetFunc(ctx, ip, username)
}

func (m *MockLockoutService) ResetTrust(ctx context.Context, ip, username string) (int64, error) {
	if m.ResetTrustFunc == nil {
		return 0, nil
	}
	return m.ResetTrustFunc(ctx, ip, username)
}

func (m *MockLockoutService) ListAttempts(ctx context.Context, limit, offset int) ([]services.AttemptStatus, error) {
	if m.ListAttemptsFunc == nil {
		return []services.AttemptStatus{}, nil
	}
	return m.ListAttemptsFunc(ctx, limit, offset)
}

// MockAccessLogService implements AccessLogServiceInterface for testing
type MockAccessLogService struct {
	ListFunc  func(ctx context.Context, filter services.AccessLogFilter) ([]*models.AccessLogEntry, error)
	PruneFunc func(ctx context.Context, before time.Time) (int64, error)
}

func (m *MockAccessLogService) List(ctx context.Context, filter services.AccessLogFilter) ([]*models.AccessLogEntry, error) {
	if m.ListFunc == nil {
		return []*models.AccessLogEntry{}, nil
	}
	return m.ListFunc(ctx, filter)
}

func (m *MockAccessLogService) Prune(ctx context.Context, before time.Time) (int64, error) {
	if m.PruneFunc == nil {
		return 0, nil
	}
	return m.PruneFunc(ctx, before)
}
