//go:build integration

package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"warden/internal/auth"
	"warden/internal/database"
	"warden/internal/handlers"
	middlewareCustom "warden/internal/middleware"
	"warden/internal/routes"
	"warden/internal/services"
	pkghttp "warden/pkg/http"
	pkglogger "warden/pkg/logger"
)

// testAdminSecret satisfies the 32-character production minimum.
const testAdminSecret = "test-secret-32-characters-long!!"

// EventRecorder captures lockout events for test assertions
type EventRecorder struct {
	mu     sync.Mutex
	events []services.LockoutEvent
}

// Record is a LockoutHandler that stores the event
func (er *EventRecorder) Record(ctx context.Context, event services.LockoutEvent) {
	er.mu.Lock()
	defer er.mu.Unlock()
	er.events = append(er.events, event)
}

// Events returns a copy of everything recorded so far
func (er *EventRecorder) Events() []services.LockoutEvent {
	er.mu.Lock()
	defer er.mu.Unlock()
	return append([]services.LockoutEvent(nil), er.events...)
}

// Count returns how many events have been recorded
func (er *EventRecorder) Count() int {
	er.mu.Lock()
	defer er.mu.Unlock()
	return len(er.events)
}

// Last returns the most recent event, or nil when none fired
func (er *EventRecorder) Last() *services.LockoutEvent {
	er.mu.Lock()
	defer er.mu.Unlock()

	if len(er.events) == 0 {
		return nil
	}
	event := er.events[len(er.events)-1]
	return &event
}

// TestServer wraps httptest.Server with the real router, real Postgres-backed
// stores and a lockout event recorder.
type TestServer struct {
	Server       *httptest.Server
	DB           *database.DB
	Events       *EventRecorder
	TokenManager *auth.TokenManager
	Policy       services.Policy

	logger *slog.Logger
}

// DefaultTestPolicy is the baseline decision policy for integration tests:
// three failures lock, one-hour window, independent per-IP and per-username
// counting.
func DefaultTestPolicy() services.Policy {
	return services.Policy{
		FailureLimit:  3,
		CooloffTime:   time.Hour,
		LockAtFailure: true,
	}
}

// NewTestServer initializes the complete HTTP server against the given
// database, using the production router and middleware.
func NewTestServer(db *database.DB, policy services.Policy) *TestServer {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	attemptRepo, trustRepo, accessLogRepo := InitializeRepositories(db)

	recorder := &EventRecorder{}

	tokenManager := auth.NewTokenManager(testAdminSecret)
	auditLogger := pkglogger.NewAuditLogger(logger)

	lockoutService := services.NewLockoutService(policy, attemptRepo, trustRepo, accessLogRepo, logger)
	lockoutService.OnLockout(recorder.Record)

	accessLogService := services.NewAccessLogService(accessLogRepo, logger)

	ipConfig := &pkghttp.IPConfig{TrustedProxies: []string{}}
	attemptsHandler := handlers.NewAttemptsHandler(lockoutService, auditLogger, ipConfig)
	adminHandler := handlers.NewAdminHandler(lockoutService, accessLogService, auditLogger)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: "test"}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	// Generous admin rate limit; throttling behavior is not under test here
	routes.RegisterRoutes(r, attemptsHandler, adminHandler, tokenManager,
		middlewareCustom.RateLimitConfig{RequestsPerMinute: 1000})

	server := httptest.NewServer(r)

	return &TestServer{
		Server:       server,
		DB:           db,
		Events:       recorder,
		TokenManager: tokenManager,
		Policy:       policy,
		logger:       logger,
	}
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// OperatorToken mints a short-lived admin token for the given subject
func (ts *TestServer) OperatorToken(subject string) (string, error) {
	return ts.TokenManager.GenerateOperatorToken(subject, time.Hour)
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	url := ts.Server.URL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an HTTP request carrying an operator token
func (ts *TestServer) RequestWithAuth(method, path, token string, body interface{}) (*http.Response, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + token,
	}
	return ts.Request(method, path, body, headers)
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// GetErrorMessage extracts the human-readable message from an error response
func GetErrorMessage(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	var errResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return "", err
	}
	if msg, ok := errResp["message"].(string); ok {
		return msg, nil
	}
	return "", nil
}
